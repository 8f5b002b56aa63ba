package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

// SecretRef points at a credential. Exactly one source should be set; when
// several are, the first non-empty one in the order value, file, env, keyring wins.
type SecretRef struct {
	// Value is an inline secret, intended for development only
	Value string `yaml:"value,omitempty"`

	// File is a path to a file containing the secret; surrounding whitespace is trimmed
	File string `yaml:"file,omitempty"`

	// Env names an environment variable holding the secret
	Env string `yaml:"env,omitempty"`

	// Keyring looks the secret up in the operating system keyring
	Keyring *KeyringRef `yaml:"keyring,omitempty"`
}

// KeyringRef identifies an entry in the operating system keyring
type KeyringRef struct {
	Service string `yaml:"service" validate:"required"`
	User    string `yaml:"user" validate:"required"`
}

// IsSet reports whether any source is configured
func (r SecretRef) IsSet() bool {
	return r.Value != "" || r.File != "" || r.Env != "" || r.Keyring != nil
}

// Resolve returns the secret from its configured source
func (r SecretRef) Resolve() (string, error) {
	switch {
	case r.Value != "":
		return r.Value, nil
	case r.File != "":
		data, err := os.ReadFile(filepath.Clean(r.File))
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file %s: %w", r.File, err)
		}
		return strings.TrimSpace(string(data)), nil
	case r.Env != "":
		value, ok := os.LookupEnv(r.Env)
		if !ok || value == "" {
			return "", fmt.Errorf("environment variable %s is not set", r.Env)
		}
		return value, nil
	case r.Keyring != nil:
		value, err := keyring.Get(r.Keyring.Service, r.Keyring.User)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from keyring %s/%s: %w", r.Keyring.Service, r.Keyring.User, err)
		}
		return value, nil
	default:
		return "", fmt.Errorf("no secret source configured")
	}
}

// String never reveals the secret value
func (r SecretRef) String() string {
	switch {
	case r.Value != "":
		return "inline"
	case r.File != "":
		return "file:" + r.File
	case r.Env != "":
		return "env:" + r.Env
	case r.Keyring != nil:
		return "keyring:" + r.Keyring.Service + "/" + r.Keyring.User
	default:
		return "unset"
	}
}
