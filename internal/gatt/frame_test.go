package gatt_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-nova/sync-sonic-go/internal/gatt"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := gatt.Encode(gatt.OpSetVolume, map[string]any{"mac": "AA:BB:CC:DD:EE:01", "volume": 80})
	require.NoError(t, err)

	frame, err := gatt.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, gatt.OpSetVolume, frame.Opcode)
	assert.Contains(t, string(frame.Payload), "AA:BB:CC:DD:EE:01")
}

func TestDecodeEmptyPayloadBecomesEmptyObject(t *testing.T) {
	frame, err := gatt.Decode([]byte{gatt.OpScanStart})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(frame.Payload))
}

func TestDecodeEmptyFrameIsMalformed(t *testing.T) {
	_, err := gatt.Decode(nil)
	assert.Error(t, err)
}

func TestDecodeOversizeRejected(t *testing.T) {
	body := bytes.Repeat([]byte("a"), gatt.MaxFramePayload+10)
	raw := append([]byte{gatt.OpSetVolume}, body...)
	_, err := gatt.Decode(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oversize")
}

func TestDecodeMalformedJSONRejected(t *testing.T) {
	raw := append([]byte{gatt.OpSetVolume}, []byte("{not json")...)
	_, err := gatt.Decode(raw)
	require.Error(t, err)
}

func TestFailureAckContainsReason(t *testing.T) {
	raw, err := gatt.FailureAck("not_allowed")
	require.NoError(t, err)
	assert.Equal(t, gatt.OpFailureAck, raw[0])
	assert.True(t, strings.Contains(string(raw[1:]), "not_allowed"))
}
