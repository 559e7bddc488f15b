// Package settings holds the user settings document stored beside the
// library (settings.json). It syncs across devices with the storage it
// lives in, so API keys are sealed with age when an identity is configured.
package settings

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// sealedPrefix marks an API key value holding base64 age ciphertext.
const sealedPrefix = "age:"

// Settings is the user-facing configuration persisted in settings.json.
type Settings struct {
	Theme    string            `json:"theme,omitempty"`
	CardSize string            `json:"cardSize,omitempty"`
	APIKeys  map[string]string `json:"apiKeys,omitempty"`
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return &Settings{}
	}
	c := *s
	if s.APIKeys != nil {
		c.APIKeys = make(map[string]string, len(s.APIKeys))
		for k, v := range s.APIKeys {
			c.APIKeys[k] = v
		}
	}
	return &c
}

// Codec reads and writes the settings document. A Codec without an
// identity writes API keys in plain text.
type Codec struct {
	identity *age.X25519Identity
}

// NewCodec returns a codec that seals API keys to identity. identity may be nil.
func NewCodec(identity *age.X25519Identity) *Codec {
	return &Codec{identity: identity}
}

// Sealing reports whether API keys are encrypted on write.
func (c *Codec) Sealing() bool {
	return c != nil && c.identity != nil
}

// Marshal encodes s as indented JSON, sealing API keys.
func (c *Codec) Marshal(s *Settings) ([]byte, error) {
	out := s.Clone()
	if c.Sealing() {
		for name, key := range out.APIKeys {
			sealed, err := c.seal(key)
			if err != nil {
				return nil, fmt.Errorf("sealing api key %s: %w", name, err)
			}
			out.APIKeys[name] = sealed
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a settings document, opening sealed API keys. Unknown
// JSON fields are ignored.
func (c *Codec) Unmarshal(data []byte) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	for name, key := range s.APIKeys {
		if !strings.HasPrefix(key, sealedPrefix) {
			continue
		}
		if !c.Sealing() {
			return nil, fmt.Errorf("api key %s is sealed but no identity is configured", name)
		}
		plain, err := c.open(key)
		if err != nil {
			return nil, fmt.Errorf("opening api key %s: %w", name, err)
		}
		s.APIKeys[name] = plain
	}
	return &s, nil
}

func (c *Codec) seal(plain string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, plain); err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (c *Codec) open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), c.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted key: %w", err)
	}
	return string(plain), nil
}

// LoadIdentity reads an age X25519 identity file.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", path)
}

// GenerateIdentity creates a new identity file at path. It refuses to
// overwrite an existing file.
func GenerateIdentity(path string) (*age.X25519Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("identity file already exists at %s", path)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}
	content := "# public key: " + identity.Recipient().String() + "\n" + identity.String() + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("writing identity file: %w", err)
	}
	return identity, nil
}
