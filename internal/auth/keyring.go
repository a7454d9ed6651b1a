package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Keyring maps API keys to the user they act for.
type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keyToUser                 map[string]string
}

func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewKeyring(true, nil), nil
	}
	cfg, err := ReadKeysFile(path)
	if err != nil {
		return nil, err
	}
	ring := NewKeyring(true, nil)
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for user, uk := range cfg.Users {
		user = strings.TrimSpace(user)
		for _, key := range uk.Keys {
			key = strings.TrimSpace(key)
			if key == "" || user == "" {
				continue
			}
			if existing, ok := ring.keyToUser[key]; ok && existing != user {
				return nil, fmt.Errorf("key reused across users: %q", key)
			}
			ring.keyToUser[key] = user
		}
	}
	return ring, nil
}

func NewKeyring(allowLocalhost bool, keyToUser map[string]string) *Keyring {
	clone := make(map[string]string, len(keyToUser))
	for k, v := range keyToUser {
		clone[k] = v
	}
	return &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToUser: clone}
}

func (k *Keyring) UserForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	user, ok := k.keyToUser[key]
	return user, ok
}

// Users lists the users holding at least one key.
func (k *Keyring) Users() []string {
	if k == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, u := range k.keyToUser {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}
