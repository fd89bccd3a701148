// Package config resolves the daemon's environment inputs and watches the
// optional allowed-MAC whitelist file for hot reload.
package config

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// VolumeCurve selects how the linear 0..100 volume is mapped onto
// PulseAudio's native scale.
type VolumeCurve string

const (
	VolumeCurveLinear VolumeCurve = "linear"
	VolumeCurveCubic  VolumeCurve = "cubic"
)

// Env holds the daemon's environment-derived configuration.
type Env struct {
	ReservedAdapterName string // SYNCSONIC_RESERVED_ADAPTER, e.g. "hci0"
	SyncTmpDir           string // SYNCSONIC_SYNC_TMPDIR, defaults to os.TempDir()
	AllowedMACsFile      string // SYNCSONIC_ALLOWED_MACS_FILE, optional
	VolumeCurve          VolumeCurve
}

// LoadEnv reads the daemon's environment inputs. ReservedAdapterName may be
// empty, in which case the adapter inventory falls back to selecting a
// UART-backed controller.
func LoadEnv() Env {
	curve := VolumeCurve(strings.ToLower(os.Getenv("SYNCSONIC_VOLUME_CURVE")))
	if curve != VolumeCurveCubic {
		curve = VolumeCurveLinear
	}
	tmp := os.Getenv("SYNCSONIC_SYNC_TMPDIR")
	if tmp == "" {
		tmp = os.TempDir()
	}
	return Env{
		ReservedAdapterName: strings.TrimSpace(os.Getenv("SYNCSONIC_RESERVED_ADAPTER")),
		SyncTmpDir:          tmp,
		AllowedMACsFile:     strings.TrimSpace(os.Getenv("SYNCSONIC_ALLOWED_MACS_FILE")),
		VolumeCurve:         curve,
	}
}

// AllowedList is a hot-reloaded default whitelist of speaker MACs, seeded
// from AllowedMACsFile (one MAC per line) and watched for changes.
type AllowedList struct {
	mu      sync.RWMutex
	path    string
	macs    map[string]struct{}
	watcher *fsnotify.Watcher
}

// NewAllowedList creates an AllowedList. If path is empty, the list starts
// (and stays) empty — callers should then fall back to payload-supplied
// whitelists only.
func NewAllowedList(path string) *AllowedList {
	a := &AllowedList{path: path, macs: make(map[string]struct{})}
	if path == "" {
		return a
	}
	if err := a.reload(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: could not read allowed-macs file", "path", path, "err", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config: could not create fsnotify watcher", "err", err)
		return a
	}
	a.watcher = watcher
	if err := watcher.Add(path); err != nil {
		slog.Warn("config: could not watch allowed-macs file", "path", path, "err", err)
		return a
	}
	go a.watchLoop()
	return a
}

func (a *AllowedList) reload() error {
	f, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer f.Close()

	macs := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		macs[normalizeMAC(line)] = struct{}{}
	}

	a.mu.Lock()
	a.macs = macs
	a.mu.Unlock()
	return scanner.Err()
}

func (a *AllowedList) watchLoop() {
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := a.reload(); err != nil {
					slog.Warn("config: reload of allowed-macs file failed", "err", err)
				}
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config: fsnotify error", "err", err)
		}
	}
}

// Default returns the current whitelist, or nil if none is configured.
func (a *AllowedList) Default() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.macs) == 0 {
		return nil
	}
	out := make([]string, 0, len(a.macs))
	for m := range a.macs {
		out = append(out, m)
	}
	return out
}

func normalizeMAC(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", ":"))
}
