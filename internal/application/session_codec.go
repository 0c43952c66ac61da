package application

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
)

const sessionEnvelopeVersion = 1

// SessionKey derives the storage key of an account's session record.
func SessionKey(accountID domain.AccountID) string {
	sum := sha256.Sum256([]byte(accountID))
	return hex.EncodeToString(sum[:])
}

// sessionEnvelope is the plain-text form written to the key-value store. Only
// the ciphertext carries account data.
type sessionEnvelope struct {
	Version    int    `toml:"version"`
	Key        string `toml:"key"`
	Nonce      string `toml:"nonce"`
	Ciphertext string `toml:"ciphertext"`
}

type sessionPayload struct {
	AccountID      string          `toml:"account_id"`
	SavedAt        time.Time       `toml:"saved_at"`
	AbsoluteExpiry time.Time       `toml:"absolute_expiry"`
	SessionExpiry  time.Time       `toml:"session_expiry"`
	BoundProxy     string          `toml:"bound_proxy"`
	UseCount       int             `toml:"use_count"`
	Cookies        []cookiePayload `toml:"cookies"`
}

type cookiePayload struct {
	Name     string    `toml:"name"`
	Value    string    `toml:"value"`
	Domain   string    `toml:"domain"`
	Path     string    `toml:"path"`
	Expires  time.Time `toml:"expires"`
	HTTPOnly bool      `toml:"http_only"`
	Secure   bool      `toml:"secure"`
	SameSite string    `toml:"same_site"`
}

func encodeSession(sealer ports.Sealer, record domain.SessionRecord) ([]byte, error) {
	payload := sessionPayload{
		AccountID:      string(record.AccountID),
		SavedAt:        record.SavedAt.UTC(),
		AbsoluteExpiry: record.AbsoluteExpiry.UTC(),
		SessionExpiry:  record.SessionExpiry.UTC(),
		BoundProxy:     record.BoundProxy,
		UseCount:       record.UseCount,
		Cookies:        make([]cookiePayload, 0, len(record.Cookies)),
	}
	for _, cookie := range record.Cookies {
		payload.Cookies = append(payload.Cookies, cookiePayload(cookie))
	}

	plaintext, err := toml.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode session payload: %w", err)
	}

	nonce, ciphertext, err := sealer.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal session payload: %w", err)
	}

	data, err := toml.Marshal(sessionEnvelope{
		Version:    sessionEnvelopeVersion,
		Key:        SessionKey(record.AccountID),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, fmt.Errorf("encode session envelope: %w", err)
	}

	return data, nil
}

func decodeSession(sealer ports.Sealer, key string, data []byte) (domain.SessionRecord, error) {
	var envelope sessionEnvelope
	if err := toml.Unmarshal(data, &envelope); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("decode session envelope: %w", err)
	}
	if envelope.Version != sessionEnvelopeVersion {
		return domain.SessionRecord{}, fmt.Errorf("unsupported session envelope version %d", envelope.Version)
	}
	if envelope.Key != key {
		return domain.SessionRecord{}, fmt.Errorf("session envelope key mismatch")
	}

	nonce, err := base64.StdEncoding.DecodeString(envelope.Nonce)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("decode session nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("decode session ciphertext: %w", err)
	}

	plaintext, err := sealer.Open(nonce, ciphertext)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("open session payload: %w", err)
	}

	var payload sessionPayload
	if err := toml.Unmarshal(plaintext, &payload); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("decode session payload: %w", err)
	}
	if SessionKey(domain.AccountID(payload.AccountID)) != key {
		return domain.SessionRecord{}, fmt.Errorf("session payload belongs to another key")
	}

	record := domain.SessionRecord{
		AccountID:      domain.AccountID(payload.AccountID),
		SavedAt:        payload.SavedAt,
		AbsoluteExpiry: payload.AbsoluteExpiry,
		SessionExpiry:  payload.SessionExpiry,
		BoundProxy:     payload.BoundProxy,
		UseCount:       payload.UseCount,
		Cookies:        make([]domain.Cookie, 0, len(payload.Cookies)),
	}
	for _, cookie := range payload.Cookies {
		record.Cookies = append(record.Cookies, domain.Cookie(cookie))
	}

	return record, nil
}
