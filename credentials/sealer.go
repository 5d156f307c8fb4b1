package credentials

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const sealedPrefix = "leadsync.credential.v1:"

// Sealer encrypts credential payloads before they leave the process.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}

// AppKeySealer seals with AES-GCM under a single application key. Keys that
// are not 16, 24 or 32 bytes long are stretched with SHA-256.
type AppKeySealer struct {
	key   []byte
	keyID string
}

type sealedEnvelope struct {
	KeyID      string `json:"kid"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func NewAppKeySealer(keyMaterial string, keyID string) (*AppKeySealer, error) {
	key := bytes.TrimSpace([]byte(keyMaterial))
	if len(key) == 0 {
		return nil, fmt.Errorf("credentials: sealing key is required")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = "app-key"
	}
	return &AppKeySealer{key: normalizeKey(key), keyID: keyID}, nil
}

func (s *AppKeySealer) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("credentials: generate nonce: %w", err)
	}
	data, err := json.Marshal(sealedEnvelope{
		KeyID:      s.keyID,
		Algorithm:  "aes-gcm",
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	})
	if err != nil {
		return nil, fmt.Errorf("credentials: encode envelope: %w", err)
	}
	return append([]byte(sealedPrefix), data...), nil
}

func (s *AppKeySealer) Open(_ context.Context, sealed []byte) ([]byte, error) {
	payload, ok := bytes.CutPrefix(sealed, []byte(sealedPrefix))
	if !ok {
		return nil, fmt.Errorf("credentials: payload is not sealed")
	}
	var envelope sealedEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("credentials: decode envelope: %w", err)
	}
	if envelope.KeyID != s.keyID {
		return nil, fmt.Errorf("credentials: key id mismatch: got %q want %q", envelope.KeyID, s.keyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(envelope.Nonce)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode ciphertext: %w", err)
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("credentials: open payload: %w", err)
	}
	return plaintext, nil
}

func (s *AppKeySealer) aead() (cipher.AEAD, error) {
	if s == nil || len(s.key) == 0 {
		return nil, fmt.Errorf("credentials: sealer is not configured")
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("credentials: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: create gcm: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	switch len(value) {
	case 16, 24, 32:
		return bytes.Clone(value)
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var _ Sealer = (*AppKeySealer)(nil)
