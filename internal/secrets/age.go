package secrets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
)

// Encrypted values are single-line ENC[age:...] blobs so they fit dotenv
// entries and JSONC config strings alike.
const (
	blobPrefix = "ENC[age:"
	blobSuffix = "]"
)

// Keyring wraps the local age identity that protects stored credentials.
type Keyring struct {
	id *age.X25519Identity
}

// Generate writes a fresh X25519 key file at path in age-keygen format,
// mode 0600. An existing key file is left untouched.
func Generate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# created: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "# public key: %s\n", id.Recipient())
	fmt.Fprintln(&b, id)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// Open loads the first X25519 identity found in the key file at path.
func Open(path string) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return &Keyring{id: x}, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", path)
}

// PublicKey returns the age recipient string.
func (k *Keyring) PublicKey() string {
	return k.id.Recipient().String()
}

// Encrypt seals plain for the keyring owner and returns an ENC[age:...] blob.
func (k *Keyring) Encrypt(plain string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, k.id.Recipient())
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plain); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return blobPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + blobSuffix, nil
}

// Decrypt opens an ENC[age:...] blob produced by Encrypt.
func (k *Keyring) Decrypt(blob string) (string, error) {
	body, ok := strings.CutPrefix(blob, blobPrefix)
	if ok {
		body, ok = strings.CutSuffix(body, blobSuffix)
	}
	if !ok {
		return "", fmt.Errorf("value is not an %s...%s blob", blobPrefix, blobSuffix)
	}

	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), k.id)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether s looks like an ENC[age:...] blob.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, blobPrefix) && strings.HasSuffix(s, blobSuffix)
}
