// Package registry persists the set of known devices in a local YAML file.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the registry file created inside the config directory.
const DefaultFileName = "devices.yaml"

// LegacyFileName is read when no YAML registry exists yet.
const LegacyFileName = "devices.json"

type record struct {
	IPAddress  string     `yaml:"ip_address"`
	MACAddress string     `yaml:"mac_address"`
	Hostname   string     `yaml:"hostname,omitempty"`
	SSHConfig  *sshRecord `yaml:"ssh_config,omitempty"`
}

type sshRecord struct {
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

// Store is a file-backed device registry. All methods are safe for
// concurrent use; every mutation is written to disk before it returns.
type Store struct {
	path    string
	mu      sync.RWMutex
	devices map[string]models.Device
	logger  zerolog.Logger
}

// Open loads the registry at path. A missing file yields an empty registry;
// if a devices.json sits next to it, that file is loaded instead and the
// next write migrates it to path.
func Open(logger zerolog.Logger, path string) (*Store, error) {
	s := &Store{
		path:    path,
		devices: make(map[string]models.Device),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		legacy := filepath.Join(filepath.Dir(path), LegacyFileName)
		data, err = os.ReadFile(legacy)
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		if err == nil {
			logger.Info().Str("path", legacy).Msg("loading legacy device registry")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	if err := s.load(data); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) load(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	records := make(map[string]record)
	if err := yaml.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse registry %s: %w", s.path, err)
	}

	for name, r := range records {
		device, err := models.NewDevice(name, r.IPAddress, r.MACAddress, r.Hostname)
		if err != nil {
			s.logger.Warn().Err(err).Str("device", name).Msg("skipping invalid registry entry")
			continue
		}
		if r.SSHConfig != nil && r.SSHConfig.Username != "" {
			device.Credential = &models.Credential{
				Username: r.SSHConfig.Username,
				Password: r.SSHConfig.Password,
				KeyPath:  r.SSHConfig.KeyPath,
			}
		}
		s.devices[device.Name] = device
	}

	return nil
}

// Path returns the file the registry writes to.
func (s *Store) Path() string {
	return s.path
}

// Get returns the named device or models.ErrNotFound.
func (s *Store) Get(name string) (models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[name]
	if !ok {
		return models.Device{}, fmt.Errorf("device %q: %w", name, models.ErrNotFound)
	}
	return clone(device), nil
}

// List returns every device sorted by name.
func (s *Store) List() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, clone(d))
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices
}

// Add registers a new device. The name must not be taken.
func (s *Store) Add(device models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[device.Name]; exists {
		return fmt.Errorf("device %q: %w", device.Name, models.ErrAlreadyExists)
	}
	if device.Credential != nil {
		if err := device.Credential.Validate(); err != nil {
			return err
		}
	}

	s.devices[device.Name] = clone(device)
	return s.saveLocked(func() { delete(s.devices, device.Name) })
}

// Update replaces the device stored under name. A device without a
// credential keeps the stored one. Renaming is allowed when the new name is free.
func (s *Store) Update(name string, device models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.devices[name]
	if !ok {
		return fmt.Errorf("device %q: %w", name, models.ErrNotFound)
	}
	if device.Name != name {
		if _, exists := s.devices[device.Name]; exists {
			return fmt.Errorf("device %q: %w", device.Name, models.ErrAlreadyExists)
		}
	}

	if device.Credential == nil {
		device.Credential = current.Credential
	}

	delete(s.devices, name)
	s.devices[device.Name] = clone(device)

	return s.saveLocked(func() {
		delete(s.devices, device.Name)
		s.devices[name] = current
	})
}

// Remove deletes the named device.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.devices[name]
	if !ok {
		return fmt.Errorf("device %q: %w", name, models.ErrNotFound)
	}

	delete(s.devices, name)
	return s.saveLocked(func() { s.devices[name] = current })
}

// SetCredential attaches an SSH credential to the named device.
func (s *Store) SetCredential(name string, cred models.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.devices[name]
	if !ok {
		return fmt.Errorf("device %q: %w", name, models.ErrNotFound)
	}

	updated := current
	updated.Credential = &cred
	s.devices[name] = updated

	return s.saveLocked(func() { s.devices[name] = current })
}

// saveLocked writes the registry and calls rollback if the write fails, so
// memory never diverges from disk. Callers hold s.mu.
func (s *Store) saveLocked(rollback func()) error {
	if err := s.write(); err != nil {
		rollback()
		return err
	}
	return nil
}

// write replaces the registry file atomically: a temporary file in the same
// directory is synced and renamed into place. The file is owner-only because
// it may contain passwords.
func (s *Store) write() error {
	records := make(map[string]record, len(s.devices))
	for name, d := range s.devices {
		r := record{
			IPAddress:  d.IPAddress,
			MACAddress: d.MACAddress,
			Hostname:   d.Hostname,
		}
		if d.Credential != nil {
			r.SSHConfig = &sshRecord{
				Username: d.Credential.Username,
				Password: d.Credential.Password,
				KeyPath:  d.Credential.KeyPath,
			}
		}
		records[name] = r
	}

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temporary registry file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close registry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace registry: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Int("devices", len(records)).Msg("registry saved")
	return nil
}

func clone(d models.Device) models.Device {
	if d.Credential != nil {
		c := *d.Credential
		d.Credential = &c
	}
	return d
}
