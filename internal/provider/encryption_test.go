package provider

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealer_RoundTrip(t *testing.T) {
	sealer, err := NewSealerWithKey(testKey())
	require.NoError(t, err)

	plaintext := []byte("snapshot payload")
	sealed, err := sealer.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
	assert.Equal(t, "aes-256-gcm", sealer.Algorithm())
}

func TestSealer_RejectsTamperedData(t *testing.T) {
	sealer, err := NewSealerWithKey(testKey())
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("snapshot payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = sealer.Open(sealed)
	assert.Error(t, err)

	_, err = sealer.Open([]byte("short"))
	assert.ErrorContains(t, err, "too short")
}

func TestSealer_NilPassesThrough(t *testing.T) {
	var sealer *Sealer

	data := []byte("plain")
	sealed, err := sealer.Seal(data)
	require.NoError(t, err)
	assert.Equal(t, data, sealed)
	assert.Equal(t, "none", sealer.Algorithm())
}

func TestNewSealerWithKey_WrongSize(t *testing.T) {
	_, err := NewSealerWithKey([]byte("short"))
	assert.Error(t, err)
}

func TestNewSealer_KeySources(t *testing.T) {
	t.Setenv("DBR_TEST_KEY", hex.EncodeToString(testKey()))
	t.Setenv("DBR_TEST_PASSPHRASE", "correct horse battery staple")

	keyPath := filepath.Join(t.TempDir(), "artifact.key")
	require.NoError(t, os.WriteFile(keyPath, testKey(), 0600))

	tests := []struct {
		name    string
		cfg     EncryptionConfig
		wantNil bool
		wantErr bool
	}{
		{name: "disabled", cfg: EncryptionConfig{}, wantNil: true},
		{name: "env", cfg: EncryptionConfig{Enabled: true, KeySource: KeySourceEnv, KeyEnv: "DBR_TEST_KEY"}},
		{name: "file", cfg: EncryptionConfig{Enabled: true, KeySource: KeySourceFile, KeyPath: keyPath}},
		{name: "passphrase", cfg: EncryptionConfig{Enabled: true, KeySource: KeySourcePassphrase, KeyEnv: "DBR_TEST_PASSPHRASE", Salt: "dbr"}},
		{name: "missing env", cfg: EncryptionConfig{Enabled: true, KeySource: KeySourceEnv, KeyEnv: "DBR_TEST_UNSET"}, wantErr: true},
		{name: "missing salt", cfg: EncryptionConfig{Enabled: true, KeySource: KeySourcePassphrase, KeyEnv: "DBR_TEST_PASSPHRASE"}, wantErr: true},
		{name: "unknown source", cfg: EncryptionConfig{Enabled: true, KeySource: "vault"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealer, err := NewSealer(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, sealer)
				return
			}
			assert.NotNil(t, sealer)
		})
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey("secret", []byte("salt"))
	b := DeriveKey("secret", []byte("salt"))
	c := DeriveKey("secret", []byte("pepper"))

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
