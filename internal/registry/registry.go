// Package registry implements the Device Registry (C2): the in-memory,
// concurrency-safe record of every speaker Sync-Sonic has ever seen, its
// pairing/trust state, and its last-applied audio settings.
package registry

import (
	"sort"
	"sync"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

// Registry tracks speakers by canonical MAC address. All methods are
// safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	speakers map[string]*models.Speaker
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{speakers: make(map[string]*models.Speaker)}
}

// Upsert inserts or updates the identity fields (name, RSSI, adapter) of
// mac, creating the entry if it doesn't exist yet. Settings are left
// untouched, pairing/trust flags are left untouched.
func (r *Registry) Upsert(mac, name string, rssi int, adapterPath string) *models.Speaker {
	mac = models.CanonicalMAC(mac)
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.speakers[mac]
	if !ok {
		s = &models.Speaker{MAC: mac, Settings: models.Settings{Volume: 100, Balance: 0.5}}
		r.speakers[mac] = s
	}
	if name != "" {
		s.Name = name
	}
	s.RSSI = rssi
	if adapterPath != "" {
		s.Adapter = adapterPath
	}
	return s
}

// MarkPaired records mac as paired (or not), creating the entry if needed.
func (r *Registry) MarkPaired(mac string, paired bool) {
	mac = models.CanonicalMAC(mac)
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(mac)
	s.Paired = paired
}

// MarkTrusted records mac as trusted (or not), creating the entry if needed.
func (r *Registry) MarkTrusted(mac string, trusted bool) {
	mac = models.CanonicalMAC(mac)
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(mac)
	s.Trusted = trusted
}

func (r *Registry) getOrCreateLocked(mac string) *models.Speaker {
	s, ok := r.speakers[mac]
	if !ok {
		s = &models.Speaker{MAC: mac, Settings: models.Settings{Volume: 100, Balance: 0.5}}
		r.speakers[mac] = s
	}
	return s
}

// Get returns a copy of the speaker record for mac.
func (r *Registry) Get(mac string) (models.Speaker, bool) {
	mac = models.CanonicalMAC(mac)
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.speakers[mac]
	if !ok {
		return models.Speaker{}, false
	}
	return *s, true
}

// PairedList returns every speaker marked Paired, sorted by MAC for
// deterministic snapshots.
func (r *Registry) PairedList() []models.Speaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Speaker, 0, len(r.speakers))
	for _, s := range r.speakers {
		if s.Paired {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Settings returns mac's current settings, or the default if unknown.
func (r *Registry) Settings(mac string) models.Settings {
	mac = models.CanonicalMAC(mac)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.speakers[mac]; ok {
		return s.Settings
	}
	return models.Settings{Volume: 100, Balance: 0.5}
}

// SetSettings applies (idempotent, last-write-wins) new settings to mac,
// creating the entry if needed, and returns the clamped result.
func (r *Registry) SetSettings(mac string, s models.Settings) models.Settings {
	mac = models.CanonicalMAC(mac)
	clamped := s.Clamp()
	r.mu.Lock()
	defer r.mu.Unlock()
	speaker := r.getOrCreateLocked(mac)
	speaker.Settings = clamped
	return clamped
}

// Remove deletes mac's record entirely.
func (r *Registry) Remove(mac string) {
	mac = models.CanonicalMAC(mac)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.speakers, mac)
}
