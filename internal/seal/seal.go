// Package seal provides tamper-evident, encrypted, time-limited tokens for
// OAuth state and iframe credentials. Tokens are NaCl secretbox ciphertexts
// of a JSON envelope carrying the payload and its expiry.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

// Errors are deliberately unspecific; sealing failures must not reveal
// whether a token was malformed, tampered with or merely expired.
var (
	ErrInvalid = errors.New("invalid sealed token")
	ErrExpired = errors.New("sealed token expired")
)

// Sealer encodes and decodes sealed tokens with a shared secret.
type Sealer struct {
	key [32]byte
	now func() time.Time
}

// New derives the secretbox key from the configured password.
func New(password string) (*Sealer, error) {
	if password == "" {
		return nil, errors.New("seal: empty password")
	}
	return &Sealer{
		key: sha256.Sum256([]byte(password)),
		now: time.Now,
	}, nil
}

type envelope struct {
	ExpiresAt int64           `json:"exp"`
	Payload   json.RawMessage `json:"pld"`
}

// Seal encrypts payload into an URL-safe token valid for ttl.
func (s *Sealer) Seal(payload interface{}, ttl time.Duration) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	env, err := json.Marshal(envelope{
		ExpiresAt: s.now().Add(ttl).Unix(),
		Payload:   raw,
	})
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], env, &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unseal decrypts a token into payload, verifying integrity and expiry.
func (s *Sealer) Unseal(token string, payload interface{}) error {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(sealed) < 24 {
		return ErrInvalid
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	env, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return ErrInvalid
	}

	var e envelope
	if err := json.Unmarshal(env, &e); err != nil {
		return ErrInvalid
	}
	if s.now().Unix() > e.ExpiresAt {
		return ErrExpired
	}
	return json.Unmarshal(e.Payload, payload)
}
