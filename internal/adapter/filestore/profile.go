// Package filestore keeps tab storage in a YAML profile file, one profile per terminal "tab".
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pscheid92/tabconsole/internal/domain"
	"gopkg.in/yaml.v3"
)

// File represents ~/.tabconsole/config.yaml.
type File struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile is one named configuration with its own credential.
type Profile struct {
	IdentityURL string            `yaml:"identity-url,omitempty"`
	Values      map[string]string `yaml:"values,omitempty"`
}

// DefaultPath returns ~/.tabconsole/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tabconsole", "config.yaml")
	}
	return filepath.Join(home, ".tabconsole", "config.yaml")
}

// Load reads the file at path. A missing file is an empty configuration.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &File{Profiles: map[string]Profile{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profile file: %w", err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]Profile{}
	}
	return &f, nil
}

// Save writes f to path through a temporary file, so readers never see half a file.
func Save(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal profile file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp profile file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write profile file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod profile file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close profile file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace profile file: %w", err)
	}
	return nil
}

// ProfileStorage is a TabStorage over one profile of a profile file.
type ProfileStorage struct {
	mu      sync.Mutex
	path    string
	profile string
}

var _ domain.TabStorage = (*ProfileStorage)(nil)

func NewProfileStorage(path, profile string) *ProfileStorage {
	return &ProfileStorage{path: path, profile: profile}
}

func (s *ProfileStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := Load(s.path)
	if err != nil {
		return "", false, err
	}
	value, ok := f.Profiles[s.profile].Values[key]
	return value, ok, nil
}

func (s *ProfileStorage) Set(_ context.Context, key, value string) error {
	return s.update(func(values map[string]string) { values[key] = value })
}

func (s *ProfileStorage) Delete(_ context.Context, key string) error {
	return s.update(func(values map[string]string) { delete(values, key) })
}

func (s *ProfileStorage) update(mutate func(map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := Load(s.path)
	if err != nil {
		return err
	}

	p := f.Profiles[s.profile]
	if p.Values == nil {
		p.Values = map[string]string{}
	}
	mutate(p.Values)
	f.Profiles[s.profile] = p
	return Save(s.path, f)
}
