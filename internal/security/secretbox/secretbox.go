// Package secretbox cifra tokens delegados en reposo con AES-256-GCM.
//
// La clave de datos se deriva de la clave maestra con HKDF-SHA256 para que la
// misma SECRETBOX_MASTER_KEY pueda reutilizarse en otros propósitos sin
// compartir material de clave.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)

	tokenKeyInfo = "quotamail/credential-tokens/v1"
)

var ErrInvalidFormat = errors.New("secretbox: formato inválido, esperado base64(nonce)|base64(ciphertext)")

// Box cifra y descifra strings con una clave derivada.
type Box struct {
	aead cipher.AEAD
}

// New crea un Box desde la clave maestra (base64, base64 raw o hex de 32 bytes).
func New(masterKey string) (*Box, error) {
	raw, err := ParseKey(masterKey)
	if err != nil {
		return nil, err
	}

	derived := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(tokenKeyInfo)), derived); err != nil {
		return nil, fmt.Errorf("secretbox: hkdf: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("secretbox: aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: cipher.NewGCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// ParseKey decodifica la clave maestra. Acepta base64 std, base64 sin padding
// o hex; siempre debe resultar en 32 bytes.
func ParseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("secretbox: clave vacía; genere una con: openssl rand -base64 32")
	}
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if len(key) == 2*requiredKeyLength {
		if b, err := hex.DecodeString(key); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("secretbox: la clave debe decodificar a %d bytes", requiredKeyLength)
}

// Encrypt devuelve base64(nonce)|base64(ciphertext). "" se mantiene "".
func (b *Box) Encrypt(plainText string) (string, error) {
	if plainText == "" {
		return "", nil
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce random: %w", err)
	}
	ct := b.aead.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt invierte Encrypt. "" se mantiene "".
func (b *Box) Decrypt(cipherText string) (string, error) {
	if cipherText == "" {
		return "", nil
	}
	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return "", ErrInvalidFormat
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("secretbox: decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("secretbox: decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("secretbox: nonce inválido: esperado %d bytes, obtuvo %d", nonceSizeGCM, len(nonce))
	}
	pt, err := b.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("secretbox: gcm auth/decrypt: %w", err)
	}
	return string(pt), nil
}

// Seal es Encrypt tolerante a Box nil (sin cifrado configurado).
func (b *Box) Seal(plainText string) (string, error) {
	if b == nil {
		return plainText, nil
	}
	return b.Encrypt(plainText)
}

// Open es Decrypt tolerante a Box nil.
func (b *Box) Open(cipherText string) (string, error) {
	if b == nil {
		return cipherText, nil
	}
	return b.Decrypt(cipherText)
}
