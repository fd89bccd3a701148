package gatt

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

// Connector is the subset of connsvc.Service the dispatcher drives.
type Connector interface {
	Connect(mac, name string, settings models.Settings, allowed []string) error
	Disconnect(ctx context.Context, mac string) error
	SetVolume(ctx context.Context, mac string, v int, b float64) error
	SetLatency(ctx context.Context, mac string, ms int) error
	SetMute(ctx context.Context, mac string, muted bool) error
	Snapshot() models.Snapshot
}

// Scanner is the subset of adapter/discovery behavior 0x40/0x41 drive.
type Scanner interface {
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
}

// PairedLister answers 0x64 Get-paired-devices.
type PairedLister interface {
	PairedList() []models.Speaker
}

// Syncer answers the ultrasonic-sync opcode — see internal/ultrasync.
type Syncer interface {
	Run(ctx context.Context, macA, macB string) (models.SyncResult, error)
}

// syncCycleTimeout bounds a Start-sync request's total round trip.
const syncCycleTimeout = 20 * time.Second

// Server is the GATT Server (C7): it owns the exported D-Bus application,
// decodes incoming writes, dispatches to the rest of the daemon, and
// encodes outbound notifications.
type Server struct {
	conn *dbus.Conn
	app  *application

	connector Connector
	scanner   Scanner
	paired    PairedLister
	syncer    Syncer

	reservedAdapterPath string
}

// New creates a Server. Call Start to export and register it.
func New(conn *dbus.Conn, reservedAdapterPath string, connector Connector, scanner Scanner, paired PairedLister, syncer Syncer) *Server {
	s := &Server{
		conn:                 conn,
		connector:            connector,
		scanner:              scanner,
		paired:               paired,
		syncer:               syncer,
		reservedAdapterPath:  reservedAdapterPath,
	}
	s.app = newApplication(conn, s.handleWrite)
	return s
}

// Start exports the GATT application, registers it with BlueZ, and starts
// advertising on the reserved adapter.
func (s *Server) Start(ctx context.Context) error {
	if err := s.app.export(); err != nil {
		return err
	}
	if err := s.app.registerWithBlueZ(s.reservedAdapterPath); err != nil {
		return err
	}
	if err := exportAdvertisement(s.conn); err != nil {
		return err
	}
	if err := registerAdvertisement(s.conn, s.reservedAdapterPath); err != nil {
		return err
	}
	s.app.setNotifyFunc(func(frame []byte) {
		_ = s.conn.Emit(charPath, "org.freedesktop.DBus.Properties.PropertiesChanged",
			"org.bluez.GattCharacteristic1",
			map[string]dbus.Variant{"Value": dbus.MakeVariant(frame)},
			[]string{})
	})
	slog.Info("gatt: server started", "adapter", s.reservedAdapterPath)
	return nil
}

// NotifyPhase implements connsvc.Notifier: every phase event becomes a
// 0x70 connection-status-update frame.
func (s *Server) NotifyPhase(e models.PhaseEvent) {
	frame, err := PhaseUpdate(e)
	if err != nil {
		slog.Warn("gatt: failed to encode phase update", "err", err)
		return
	}
	s.app.Send(frame)
}

// NotifyDevice implements scan.DeviceNotifier: relays a freshly seen
// device as a 0x43 per-device scan frame.
func (s *Server) NotifyDevice(mac, name string, paired bool) {
	frame, err := Encode(OpScanDevice, map[string]any{
		"device": map[string]any{"mac": mac, "name": name, "paired": paired},
	})
	if err != nil {
		slog.Warn("gatt: failed to encode scan-device frame", "err", err)
		return
	}
	s.app.Send(frame)
}

// PublishSnapshot sends the current state as a single merged 0xF0 frame.
func (s *Server) PublishSnapshot(snap models.Snapshot) {
	frame, err := SuccessAck(snap)
	if err != nil {
		slog.Warn("gatt: failed to encode snapshot", "err", err)
		return
	}
	s.app.Send(frame)
}

// handleWrite is the GATT characteristic's WriteValue callback: decode,
// validate, dispatch. It never blocks the D-Bus dispatch goroutine for
// long — connection-lifecycle ops run on their own goroutine.
func (s *Server) handleWrite(data []byte) {
	frame, err := Decode(data)
	if err != nil {
		s.ackFailure(reasonFor(err))
		return
	}

	switch frame.Opcode {
	case OpScanStart:
		go s.dispatchScan(true)
	case OpScanStop:
		go s.dispatchScan(false)
	case OpConnectOne:
		go s.dispatchConnectOne(frame.Payload)
	case OpDisconnect:
		go s.dispatchDisconnect(frame.Payload)
	case OpSetLatency:
		go s.dispatchSetLatency(frame.Payload)
	case OpSetVolume:
		go s.dispatchSetVolume(frame.Payload)
	case OpGetPairedDevices:
		go s.dispatchGetPaired()
	case OpSetMute:
		go s.dispatchSetMute(frame.Payload)
	case OpStartClassicPairing:
		// BLE hand-off signaling only. No adapter action, just an ack.
		s.ackSuccess(map[string]bool{"ok": true})
	case OpStartSync:
		go s.dispatchStartSync(frame.Payload)
	default:
		s.ackFailure("unknown_opcode")
	}
}

func reasonFor(err error) string {
	switch err {
	case models.ErrOversize:
		return "oversize"
	default:
		return "malformed_json"
	}
}

func (s *Server) ackSuccess(payload any) {
	frame, err := SuccessAck(payload)
	if err != nil {
		return
	}
	s.app.Send(frame)
}

func (s *Server) ackFailure(reason string) {
	frame, err := FailureAck(reason)
	if err != nil {
		return
	}
	s.app.Send(frame)
}

func (s *Server) dispatchScan(start bool) {
	ctx := context.Background()
	var err error
	if start {
		err = s.scanner.StartScan(ctx)
	} else {
		err = s.scanner.StopScan(ctx)
	}
	if err != nil {
		s.ackFailure("scan_failed")
		return
	}
	s.ackSuccess(map[string]bool{"scanning": start})
}

func (s *Server) dispatchConnectOne(payload json.RawMessage) {
	var req models.ConnectRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.ackFailure("malformed_json")
		return
	}
	mac := models.CanonicalMAC(req.TargetSpeaker.MAC)
	if mac == "" {
		s.ackFailure("malformed_json")
		return
	}
	settings := req.Settings[mac]
	if err := s.connector.Connect(mac, req.TargetSpeaker.Name, settings, req.Allowed); err != nil {
		if ae, ok := err.(*models.AppError); ok {
			s.ackFailure(ae.Reason)
			return
		}
		s.ackFailure("connect_failed")
	}
}

func (s *Server) dispatchDisconnect(payload json.RawMessage) {
	var body struct {
		MAC string `json:"mac"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.ackFailure("malformed_json")
		return
	}
	mac := models.CanonicalMAC(body.MAC)
	if mac == "" {
		s.ackFailure("malformed_json")
		return
	}
	if err := s.connector.Disconnect(context.Background(), mac); err != nil {
		s.ackFailure("disconnect_failed")
	}
}

func (s *Server) dispatchSetLatency(payload json.RawMessage) {
	var body struct {
		MAC     string `json:"mac"`
		Latency int    `json:"latency"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.ackFailure("malformed_json")
		return
	}
	mac := models.CanonicalMAC(body.MAC)
	if mac == "" {
		s.ackFailure("malformed_json")
		return
	}
	if err := s.connector.SetLatency(context.Background(), mac, body.Latency); err != nil {
		s.ackFailure("loopback_failed")
		return
	}
	s.ackSuccess(map[string]any{"mac": mac, "latency": body.Latency})
}

func (s *Server) dispatchSetVolume(payload json.RawMessage) {
	var body struct {
		MAC     string  `json:"mac"`
		Volume  int     `json:"volume"`
		Balance float64 `json:"balance"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.ackFailure("malformed_json")
		return
	}
	mac := models.CanonicalMAC(body.MAC)
	if mac == "" {
		s.ackFailure("malformed_json")
		return
	}
	if err := s.connector.SetVolume(context.Background(), mac, body.Volume, body.Balance); err != nil {
		s.ackFailure("loopback_failed")
		return
	}
	s.ackSuccess(map[string]any{"mac": mac, "volume": body.Volume, "balance": body.Balance})
}

func (s *Server) dispatchSetMute(payload json.RawMessage) {
	var body struct {
		MAC  string `json:"mac"`
		Mute bool   `json:"mute"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.ackFailure("malformed_json")
		return
	}
	mac := models.CanonicalMAC(body.MAC)
	if mac == "" {
		s.ackFailure("malformed_json")
		return
	}
	if err := s.connector.SetMute(context.Background(), mac, body.Mute); err != nil {
		s.ackFailure("loopback_failed")
		return
	}
	s.ackSuccess(map[string]any{"mac": mac, "mute": body.Mute})
}

func (s *Server) dispatchStartSync(payload json.RawMessage) {
	var body struct {
		MACA string `json:"macA"`
		MACB string `json:"macB"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.ackFailure("malformed_json")
		return
	}
	if s.syncer == nil {
		s.ackFailure("sync_unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), syncCycleTimeout)
	defer cancel()
	result, err := s.syncer.Run(ctx, body.MACA, body.MACB)
	if err != nil {
		if ae, ok := err.(*models.AppError); ok {
			s.ackFailure(ae.Reason)
			return
		}
		s.ackFailure("sync_failed")
		return
	}
	s.ackSuccess(result)
}

func (s *Server) dispatchGetPaired() {
	speakers := s.paired.PairedList()
	out := make(map[string]string, len(speakers))
	for _, sp := range speakers {
		out[sp.MAC] = sp.Name
	}
	s.ackSuccess(out)
}
