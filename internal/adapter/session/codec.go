package session

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
)

var (
	keyAlgorithms      = []jose.KeyAlgorithm{jose.DIRECT}
	contentEncryptions = []jose.ContentEncryption{jose.A256GCM}
)

type envelope struct {
	ExpiresAt int64           `json:"exp"`
	Data      json.RawMessage `json:"data"`
}

// Codec seals values into compact JWE strings (dir + A256GCM) suitable for cookies.
type Codec struct {
	key []byte
	enc jose.Encrypter
	now func() time.Time
}

// NewCodec derives a 256-bit content key from secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("session: empty secret")
	}
	sum := sha256.Sum256([]byte(secret))
	key := sum[:]

	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: key}, nil)
	if err != nil {
		return nil, fmt.Errorf("session: new encrypter: %w", err)
	}
	return &Codec{key: key, enc: enc, now: time.Now}, nil
}

// Seal encrypts v. The result is rejected by Open after ttl.
func (c *Codec) Seal(v any, ttl time.Duration) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	payload, err := json.Marshal(envelope{ExpiresAt: c.now().Add(ttl).Unix(), Data: data})
	if err != nil {
		return "", fmt.Errorf("session: marshal envelope: %w", err)
	}
	obj, err := c.enc.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("session: encrypt: %w", err)
	}
	return obj.CompactSerialize()
}

// Open decrypts a sealed value into v. Any tampering, foreign key or expiry
// yields port.ErrSessionInvalid.
func (c *Codec) Open(token string, v any) error {
	if token == "" {
		return port.ErrSessionMissing
	}
	obj, err := jose.ParseEncrypted(token, keyAlgorithms, contentEncryptions)
	if err != nil {
		return fmt.Errorf("%w: parse: %v", port.ErrSessionInvalid, err)
	}
	payload, err := obj.Decrypt(c.key)
	if err != nil {
		return fmt.Errorf("%w: decrypt: %v", port.ErrSessionInvalid, err)
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: envelope: %v", port.ErrSessionInvalid, err)
	}
	if c.now().Unix() >= env.ExpiresAt {
		return fmt.Errorf("%w: cookie expired", port.ErrSessionInvalid)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: payload: %v", port.ErrSessionInvalid, err)
	}
	return nil
}

// EncodeCredential seals a session credential.
func (c *Codec) EncodeCredential(cred domain.SessionCredential, ttl time.Duration) (string, error) {
	return c.Seal(cred, ttl)
}

// EncodeLoginState seals the state and PKCE verifier of a pending login.
func (c *Codec) EncodeLoginState(state domain.LoginState, ttl time.Duration) (string, error) {
	return c.Seal(state, ttl)
}

// DecodeLoginState opens a login state cookie value.
func (c *Codec) DecodeLoginState(token string) (domain.LoginState, error) {
	var state domain.LoginState
	if err := c.Open(token, &state); err != nil {
		return domain.LoginState{}, err
	}
	return state, nil
}

// DecodeCredential opens a session cookie value.
func (c *Codec) DecodeCredential(token string) (domain.SessionCredential, error) {
	var cred domain.SessionCredential
	if err := c.Open(token, &cred); err != nil {
		return domain.SessionCredential{}, err
	}
	if cred.AccessToken == "" {
		return domain.SessionCredential{}, fmt.Errorf("%w: no access token", port.ErrSessionInvalid)
	}
	return cred, nil
}
