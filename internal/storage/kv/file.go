// Package kv is the device-local key/value store backing guest persistence
// and the guest AI cache. Values are strings; the file is YAML and is
// replaced atomically on every write.
package kv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type File struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// Open loads path, creating an empty store if the file does not exist yet.
func Open(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path required")
	}
	f := &File{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if f.values == nil {
		f.values = make(map[string]string)
	}
	return f, nil
}

func (f *File) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *File) Set(key, value string) error {
	return f.SetMany(map[string]string{key: value})
}

// SetMany writes all pairs in one file replacement.
func (f *File) SetMany(pairs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := make(map[string]*string, len(pairs))
	for k, v := range pairs {
		if old, ok := f.values[k]; ok {
			o := old
			prev[k] = &o
		} else {
			prev[k] = nil
		}
		f.values[k] = v
	}
	if err := f.flushLocked(); err != nil {
		for k, old := range prev {
			if old == nil {
				delete(f.values, k)
			} else {
				f.values[k] = *old
			}
		}
		return err
	}
	return nil
}

func (f *File) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
	}
	return f.flushLocked()
}

func (f *File) Path() string { return f.path }

func (f *File) flushLocked() error {
	data, err := yaml.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("marshal state file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
