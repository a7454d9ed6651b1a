package cli

import (
	"fmt"
	"strings"

	"github.com/H4MSA/solivrah/internal/auth"
)

// InitKeysFile appends a fresh API key for userID to the keys file at path,
// creating the file with localhost bypass enabled when it does not exist.
func InitKeysFile(path, userID string) (string, error) {
	path = strings.TrimSpace(path)
	userID = strings.TrimSpace(userID)
	if path == "" {
		return "", fmt.Errorf("keys file path required")
	}
	if userID == "" {
		return "", fmt.Errorf("user id required")
	}

	cfg, err := auth.ReadKeysFile(path)
	if err != nil {
		return "", err
	}
	if cfg.Users == nil {
		cfg.Users = make(map[string]auth.UserKeys)
	}
	key, err := auth.GenerateKey()
	if err != nil {
		return "", err
	}
	uk := cfg.Users[userID]
	uk.Keys = append(uk.Keys, key)
	cfg.Users[userID] = uk
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		val := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &val
	}
	if err := auth.WriteKeysFile(path, cfg); err != nil {
		return "", err
	}
	return key, nil
}
