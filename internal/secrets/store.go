// Package secrets keeps credentials such as the SMS auth token out of the
// config file. Values are AES-GCM sealed in a 0600 file; this is not a
// replacement for an OS keychain.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const fileName = "secrets.json"

// SMSToken is the name the SMS sender's auth token is stored under.
const SMSToken = "sms"

// ErrNotFound is returned by Get for a name with no stored value.
var ErrNotFound = errors.New("secret not found")

type secretFile struct {
	Values map[string]string `json:"values"` // name -> base64(nonce|ciphertext)
}

// Store is a directory holding the sealed secrets file.
type Store struct {
	Dir string
}

// Default is the store under the user config dir.
func Default() (Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return Store{}, err
	}
	return Store{Dir: filepath.Join(dir, "moneynudge")}, nil
}

func (s Store) path() (string, error) {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, fileName), nil
}

// Put seals value under name, replacing any previous value.
func (s Store) Put(name, value string) error {
	if name = norm(name); name == "" {
		return fmt.Errorf("secret name required")
	}
	path, err := s.path()
	if err != nil {
		return err
	}
	sf, err := load(path)
	if err != nil {
		return err
	}
	ct, err := seal([]byte(value))
	if err != nil {
		return err
	}
	sf.Values[name] = base64.StdEncoding.EncodeToString(ct)
	return save(path, sf)
}

// Get opens the value stored under name.
func (s Store) Get(name string) (string, error) {
	if name = norm(name); name == "" {
		return "", fmt.Errorf("secret name required")
	}
	path, err := s.path()
	if err != nil {
		return "", err
	}
	sf, err := load(path)
	if err != nil {
		return "", err
	}
	enc, ok := sf.Values[name]
	if !ok {
		return "", ErrNotFound
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decode secret %s: %w", name, err)
	}
	pt, err := open(raw)
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", name, err)
	}
	return string(pt), nil
}

// Delete removes name. Deleting a missing name is not an error.
func (s Store) Delete(name string) error {
	path, err := s.path()
	if err != nil {
		return err
	}
	sf, err := load(path)
	if err != nil {
		return err
	}
	delete(sf.Values, norm(name))
	return save(path, sf)
}

func load(path string) (secretFile, error) {
	sf := secretFile{Values: map[string]string{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return sf, nil
	}
	if err != nil {
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("parse %s: %w", path, err)
	}
	if sf.Values == nil {
		sf.Values = map[string]string{}
	}
	return sf, nil
}

func save(path string, sf secretFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func aead() (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(fmt.Sprintf("moneynudge-%s-%s", runtime.GOOS, os.Getenv("USER"))))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(plain []byte) ([]byte, error) {
	gcm, err := aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func open(sealed []byte) ([]byte, error) {
	gcm, err := aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
}
