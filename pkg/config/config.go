package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"
	"gopkg.in/yaml.v3"

	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

// EnvAccountsFile overrides the accounts-file flag when set.
const EnvAccountsFile = "FLUVIUS_ACCOUNTS_FILE"

// File is the layout of the accounts file.
type File struct {
	Accounts []types.Account `yaml:"accounts"`
}

// Loader reads and validates the accounts file.
type Loader struct {
	path          string
	encryptionKey string
}

// Configured registers the accounts flags and returns the loader.
func Configured() *Loader {
	l := &Loader{}
	path := lflag.String("accounts-file", "accounts.yaml", "Path to the YAML file listing the Fluvius accounts")
	key := lflag.String("credentials-encryption-key", "", "Passphrase used to decrypt passwordEncrypted values")

	lflag.Do(func() {
		l.path = *path
		if env := os.Getenv(EnvAccountsFile); env != "" {
			l.path = env
		}
		l.encryptionKey = *key
	})
	return l
}

// NewLoader returns a loader for path. key may be empty when no account uses
// passwordEncrypted.
func NewLoader(path, key string) *Loader {
	return &Loader{path: path, encryptionKey: key}
}

// Validate ensures the configuration is valid.
func (l *Loader) Validate() error {
	if l.path == "" {
		return errors.New("accounts-file is required")
	}
	return nil
}

// Load reads the accounts file, decrypts passwords, applies the defaults and
// validates every account.
func (l *Loader) Load(ctx context.Context) ([]types.Account, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file %s: %w", l.path, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "loading accounts file", slog.String("path", l.path))
	accounts, err := Parse(ctx, bytes.NewReader(data), l.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid accounts file %s: %w", l.path, err)
	}
	return accounts, nil
}

// Parse decodes an accounts file from r. Unknown keys are rejected so that
// typos don't silently fall back to defaults.
func Parse(ctx context.Context, r io.Reader, encryptionKey string) ([]types.Account, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if len(f.Accounts) == 0 {
		return nil, errors.New("no accounts configured")
	}

	var c *Cipher
	seen := make(map[string]struct{}, len(f.Accounts))
	for i := range f.Accounts {
		a := &f.Accounts[i]
		if a.Password == "" && a.PasswordEncrypted != "" {
			if c == nil {
				var err error
				if c, err = NewCipher(encryptionKey); err != nil {
					return nil, fmt.Errorf("account %d: %w", i, err)
				}
			}
			password, err := c.Decrypt(ctx, a.PasswordEncrypted)
			if err != nil {
				return nil, fmt.Errorf("account %d: %w", i, err)
			}
			a.Password = password
		}
		a.PasswordEncrypted = ""
		a.ApplyDefaults()
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[a.ID]; ok {
			return nil, fmt.Errorf("duplicate account id: %s", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return f.Accounts, nil
}
