package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "solivrah.keys.yaml"

// KeysFile is the on-disk API key registry:
//
//	default_policy:
//	  allow_localhost_without_auth: true
//	users:
//	  u1:
//	    keys: [...]
type KeysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Users map[string]UserKeys `yaml:"users"`
}

type UserKeys struct {
	Keys []string `yaml:"keys"`
}

// ResolveKeysPath honours SOLIVRAH_KEYS_FILE, else ./solivrah.keys.yaml.
func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv("SOLIVRAH_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

// ReadKeysFile returns an empty registry when path does not exist.
func ReadKeysFile(path string) (KeysFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return KeysFile{}, nil
		}
		return KeysFile{}, fmt.Errorf("read keys file: %w", err)
	}
	var cfg KeysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return KeysFile{}, fmt.Errorf("parse keys file: %w", err)
	}
	return cfg, nil
}

func WriteKeysFile(path string, cfg KeysFile) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal keys file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create keys dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write keys file: %w", err)
	}
	return nil
}

func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
