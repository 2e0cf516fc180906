package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// encPrefix marks a sealed value in the config file.
const encPrefix = "enc:"

// machineKey derives a stable per-machine key from host identity.
// The sealing protects tokens at rest from casual copying, not from
// an attacker with code execution on the same machine.
func machineKey() ([]byte, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}
	seed := strings.Join([]string{hostname, runtime.GOOS, "steeplecast-agent"}, "|")
	return scrypt.Key([]byte(seed), []byte("steeplecast.v1"), 1<<15, 8, 1, 32)
}

// Seal encrypts a sensitive value into an "enc:<base64>" envelope.
func Seal(plain string) (string, error) {
	key, err := machineKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal decrypts an "enc:<base64>" envelope. Values without the
// prefix pass through unchanged, so plaintext configs keep working.
func Unseal(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}

	key, err := machineKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("envelope too short")
	}

	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("open envelope (moved between machines?): %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether a value is an envelope.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}
