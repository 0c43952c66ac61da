package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/accountctl/internal/ports"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	SaltSize       = 16
	passphraseSize = 32
	fileMode       = 0o600
	dirMode        = 0o700
)

var ErrDecrypt = errors.New("decrypt sealed payload")

// Sealer encrypts payloads with ChaCha20-Poly1305 under a key derived from a
// passphrase with Argon2id.
type Sealer struct {
	aead cipher.AEAD
}

var _ ports.Sealer = (*Sealer)(nil)

func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create session cipher: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

func NewPassphraseSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("session passphrase is empty")
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("session salt is %d bytes, want at least %d", len(salt), SaltSize)
	}

	return NewSealer(DeriveKey([]byte(passphrase), salt))
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, []byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return nonce, s.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce is %d bytes", ErrDecrypt, len(nonce))
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}

	return plaintext, nil
}

// LoadOrCreateSalt reads the salt at path, writing a fresh random one the
// first time.
func LoadOrCreateSalt(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) < SaltSize {
			return nil, fmt.Errorf("salt file %s is %d bytes, want at least %d", path, len(data), SaltSize)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read salt file: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := writeNew(path, salt); err != nil {
		return nil, fmt.Errorf("write salt file: %w", err)
	}

	return salt, nil
}

// LoadOrCreatePassphrase returns the passphrase kept at path, generating a
// random one the first time.
func LoadOrCreatePassphrase(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		passphrase := strings.TrimSpace(string(data))
		if passphrase == "" {
			return "", fmt.Errorf("passphrase file %s is empty", path)
		}
		return passphrase, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read passphrase file: %w", err)
	}

	raw := make([]byte, passphraseSize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate passphrase: %w", err)
	}
	passphrase := hex.EncodeToString(raw)
	if err := writeNew(path, []byte(passphrase+"\n")); err != nil {
		return "", fmt.Errorf("write passphrase file: %w", err)
	}

	return passphrase, nil
}

func writeNew(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}

	return file.Close()
}
