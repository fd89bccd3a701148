// Package gatt implements the GATT Server (C7): the BLE service that
// exposes Sync-Sonic's opcode+JSON protocol to the phone, and dispatches
// decoded frames to the Connection Service, Audio Router, and Ultrasonic
// Sync components.
package gatt

import (
	"encoding/json"
	"fmt"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

// Opcodes for the BLE characteristic's wire protocol.
const (
	OpScanStart              byte = 0x40
	OpScanStop               byte = 0x41
	OpScanDevice             byte = 0x43
	OpConnectOne             byte = 0x60
	OpDisconnect             byte = 0x61
	OpSetLatency             byte = 0x62
	OpSetVolume              byte = 0x63
	OpGetPairedDevices       byte = 0x64
	OpSetMute                byte = 0x65
	OpStartClassicPairing    byte = 0x66
	OpStartSync              byte = 0x67
	OpConnectionStatusUpdate byte = 0x70
	OpSuccessAck             byte = 0xF0
	OpFailureAck             byte = 0xF1
	OpError                  byte = 0x03
)

// MaxFramePayload bounds a single write's JSON payload; larger writes are
// rejected with 0xF1 {"reason":"oversize"}. This tracks a conservative
// default ATT MTU (185) minus the 1-byte opcode and BlueZ's own ATT
// header overhead.
const MaxFramePayload = 180

// Frame is a decoded opcode+JSON wire message.
type Frame struct {
	Opcode  byte
	Payload json.RawMessage
}

// Encode serializes opcode and payload (marshaled to JSON) into wire bytes.
// A nil payload encodes as "{}".
func Encode(opcode byte, payload any) ([]byte, error) {
	var body []byte
	var err error
	if payload == nil {
		body = []byte("{}")
	} else {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("gatt: encode opcode 0x%02x: %w", opcode, err)
		}
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, opcode)
	out = append(out, body...)
	return out, nil
}

// Decode parses wire bytes into a Frame. An empty payload (N=0) decodes as
// "{}". Oversize frames are rejected before JSON is even parsed.
func Decode(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, models.ErrMalformedJSON
	}
	opcode := raw[0]
	body := raw[1:]
	if len(body) > MaxFramePayload {
		return Frame{}, models.ErrOversize
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		return Frame{}, models.ErrMalformedJSON
	}
	return Frame{Opcode: opcode, Payload: json.RawMessage(body)}, nil
}

// SuccessAck builds a 0xF0 frame from an arbitrary payload struct/map.
func SuccessAck(payload any) ([]byte, error) { return Encode(OpSuccessAck, payload) }

// FailureAck builds a 0xF1 {"reason": reason} frame.
func FailureAck(reason string) ([]byte, error) {
	return Encode(OpFailureAck, map[string]string{"reason": reason})
}

// PhaseUpdate builds a 0x70 connection-status-update frame from a phase event.
func PhaseUpdate(e models.PhaseEvent) ([]byte, error) {
	return Encode(OpConnectionStatusUpdate, e)
}

// ErrorFrame builds a 0x03 structured error frame.
func ErrorFrame(e models.PhaseEvent) ([]byte, error) {
	return Encode(OpError, e)
}
