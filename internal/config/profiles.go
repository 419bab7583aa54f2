package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// ProfileRegistry resolves device nameplates for the consistency check. A nil registry
// resolves nothing.
type ProfileRegistry struct {
	mu       sync.RWMutex
	profiles map[string]models.DeviceProfile
	logger   *slog.Logger
}

// profileFile is the YAML root structure.
type profileFile struct {
	Devices []models.DeviceProfile `yaml:"devices"`
}

// LoadProfiles reads device profiles from path. An empty path or a missing file yields a nil
// registry.
func LoadProfiles(path string, logger *slog.Logger) (*ProfileRegistry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg := &ProfileRegistry{profiles: make(map[string]models.DeviceProfile, len(file.Devices)), logger: logger}
	for i, p := range file.Devices {
		if p.DeviceID == "" {
			return nil, fmt.Errorf("profile %d has no deviceId", i)
		}
		if _, dup := reg.profiles[p.DeviceID]; dup {
			return nil, fmt.Errorf("duplicate profile for device %s", p.DeviceID)
		}
		reg.profiles[p.DeviceID] = p
	}
	logger.Info("device profiles loaded", "path", path, "devices", len(reg.profiles))
	return reg, nil
}

// NewProfileRegistry builds a registry from in-memory profiles.
func NewProfileRegistry(profiles ...models.DeviceProfile) *ProfileRegistry {
	reg := &ProfileRegistry{profiles: make(map[string]models.DeviceProfile, len(profiles)), logger: slog.Default()}
	for _, p := range profiles {
		reg.profiles[p.DeviceID] = p
	}
	return reg
}

// Lookup returns a copy of the profile for deviceID, or nil.
func (r *ProfileRegistry) Lookup(deviceID string) *models.DeviceProfile {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[deviceID]
	if !ok {
		return nil
	}
	return &p
}

// Put registers or replaces a profile.
func (r *ProfileRegistry) Put(p models.DeviceProfile) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.profiles[p.DeviceID] = p
	r.mu.Unlock()
}

// Len returns the number of registered devices.
func (r *ProfileRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}
