package models_test

import (
	"encoding/json"
	"testing"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

func TestCanonicalMAC(t *testing.T) {
	cases := map[string]string{
		"aa:bb:cc:dd:ee:01": "AA:BB:CC:DD:EE:01",
		"AA-BB-CC-DD-EE-01": "AA:BB:CC:DD:EE:01",
		"  aa:bb:cc:dd:ee:01  ": "AA:BB:CC:DD:EE:01",
	}
	for in, want := range cases {
		if got := models.CanonicalMAC(in); got != want {
			t.Errorf("CanonicalMAC(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSettingsClamp(t *testing.T) {
	s := models.Settings{Volume: 150, Balance: -1, LatencyMs: 9999, Muted: true}
	c := s.Clamp()
	if c.Volume != 100 {
		t.Errorf("Volume = %d, want 100", c.Volume)
	}
	if c.Balance != 0 {
		t.Errorf("Balance = %v, want 0", c.Balance)
	}
	if c.LatencyMs != 500 {
		t.Errorf("LatencyMs = %d, want 500", c.LatencyMs)
	}
	if !c.Muted {
		t.Error("Muted should be preserved")
	}
}

func TestAppErrorJSON(t *testing.T) {
	err := models.ErrPairingFailed("AA:BB:CC:DD:EE:01", 2)

	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("json.Marshal: %v", jerr)
	}

	var m map[string]any
	if jerr := json.Unmarshal(data, &m); jerr != nil {
		t.Fatalf("json.Unmarshal: %v", jerr)
	}
	if m["reason"] != "pairing_failed" {
		t.Errorf("reason = %v, want pairing_failed", m["reason"])
	}
	if m["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", m["attempt"])
	}
	if err.Class != models.ClassTransient {
		t.Errorf("class = %v, want transient", err.Class)
	}
}

func TestFSMStateIsTerminal(t *testing.T) {
	terminal := []models.FSMState{models.StateDone, models.StateFailed, models.StateCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	nonTerminal := []models.FSMState{models.StateStart, models.StateDiscovery, models.StatePairing, models.StateConnecting, models.StateRouting}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}
