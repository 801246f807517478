package provider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// KeySource selects where the artifact encryption key comes from
type KeySource string

const (
	KeySourceEnv        KeySource = "env"
	KeySourceFile       KeySource = "file"
	KeySourcePassphrase KeySource = "passphrase"
)

const (
	keySize          = 32
	pbkdf2Iterations = 100000
)

// EncryptionConfig configures artifact encryption
type EncryptionConfig struct {
	Enabled   bool      `yaml:"enabled" mapstructure:"enabled"`
	KeySource KeySource `yaml:"key_source" mapstructure:"key_source"`
	// KeyEnv is the variable holding a hex key, or the passphrase when
	// KeySource is passphrase
	KeyEnv  string `yaml:"key_env" mapstructure:"key_env"`
	KeyPath string `yaml:"key_path" mapstructure:"key_path"`
	Salt    string `yaml:"salt" mapstructure:"salt"`
}

// Validate checks that the configured key source is usable
func (c EncryptionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.KeySource {
	case KeySourceEnv:
		if c.KeyEnv == "" {
			return fmt.Errorf("key_env is required when key_source is env")
		}
	case KeySourceFile:
		if c.KeyPath == "" {
			return fmt.Errorf("key_path is required when key_source is file")
		}
	case KeySourcePassphrase:
		if c.KeyEnv == "" || c.Salt == "" {
			return fmt.Errorf("key_env and salt are required when key_source is passphrase")
		}
	default:
		return fmt.Errorf("unsupported key source: %s", c.KeySource)
	}
	return nil
}

// Sealer encrypts artifacts with AES-256-GCM. The nonce is stored as a
// prefix of the ciphertext.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer resolves the key and prepares the cipher. A disabled config
// yields a nil Sealer, which passes data through unchanged.
func NewSealer(cfg EncryptionConfig) (*Sealer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSealerWithKey(key)
}

// NewSealerWithKey builds a Sealer from a raw 32-byte key
func NewSealerWithKey(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes for AES-256", keySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts data
func (s *Sealer) Seal(data []byte) ([]byte, error) {
	if s == nil {
		return data, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, data, nil), nil
}

// Open decrypts data produced by Seal
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if s == nil {
		return data, nil
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}

	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

// Algorithm names the cipher for artifact manifests
func (s *Sealer) Algorithm() string {
	if s == nil {
		return "none"
	}
	return "aes-256-gcm"
}

// DeriveKey derives an AES-256 key from a passphrase with PBKDF2-SHA256
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

func loadKey(cfg EncryptionConfig) ([]byte, error) {
	switch cfg.KeySource {
	case KeySourceEnv:
		hexKey := os.Getenv(cfg.KeyEnv)
		if hexKey == "" {
			return nil, fmt.Errorf("environment variable %s not set", cfg.KeyEnv)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode hex key from %s: %w", cfg.KeyEnv, err)
		}
		return key, nil
	case KeySourceFile:
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		return key, nil
	case KeySourcePassphrase:
		passphrase := os.Getenv(cfg.KeyEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("environment variable %s not set", cfg.KeyEnv)
		}
		return DeriveKey(passphrase, []byte(cfg.Salt)), nil
	default:
		return nil, fmt.Errorf("unsupported key source: %s", cfg.KeySource)
	}
}
