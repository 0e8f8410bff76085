package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var (
	ErrMalformedEnvelope = errors.New("envelope: malformed token")
	ErrEnvelopeTooShort  = errors.New("envelope: token too short to contain an IV")
	ErrDecryptFailed     = errors.New("envelope: decryption failed, key mismatch or corrupted data")
	ErrInvalidPayload    = errors.New("envelope: decrypted payload is not valid")
	ErrEmptySecret       = errors.New("envelope: secret is empty")
)

// Cipher seals payloads exchanged between the portal and deployed clients.
//
// A token is base64(IV || base64(AES-256-CBC(PKCS#7(plaintext)))). The inner
// base64 layer is what openssl produces without OPENSSL_RAW_DATA, which keeps
// tokens readable by clients already in the field.
type Cipher struct {
	key []byte
}

// New builds a Cipher from the pre-shared secret. A 32-byte secret is used as
// the AES key verbatim; any other length is stretched with HKDF-SHA256.
// Changing the secret invalidates every token issued with the previous one.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	if len(secret) == keySize {
		return &Cipher{key: []byte(secret)}, nil
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("license-envelope"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive envelope key: %w", err)
	}

	return &Cipher{key: key}, nil
}

func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	inner := base64.StdEncoding.EncodeToString(ciphertext)

	raw := make([]byte, 0, len(iv)+len(inner))
	raw = append(raw, iv...)
	raw = append(raw, inner...)

	return base64.StdEncoding.EncodeToString(raw), nil
}

func (c *Cipher) Decrypt(token string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace([]byte(token))))
	if err != nil {
		return nil, ErrMalformedEnvelope
	}

	if len(raw) <= aes.BlockSize {
		return nil, ErrEnvelopeTooShort
	}

	iv := raw[:aes.BlockSize]
	ciphertext, err := base64.StdEncoding.DecodeString(string(raw[aes.BlockSize:]))
	if err != nil {
		return nil, ErrMalformedEnvelope
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformedEnvelope
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, ok := unpad(plaintext, aes.BlockSize)
	if !ok {
		return nil, ErrDecryptFailed
	}

	if !utf8.Valid(plaintext) {
		return nil, ErrDecryptFailed
	}

	return plaintext, nil
}

// Seal marshals v to JSON and encrypts it.
func (c *Cipher) Seal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	return c.Encrypt(data)
}

// Open decrypts token and unmarshals the JSON payload into v.
func (c *Cipher) Open(token string, v interface{}) error {
	plaintext, err := c.Decrypt(token)
	if err != nil {
		return err
	}

	if !json.Valid(plaintext) {
		return ErrInvalidPayload
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}

	return data[:len(data)-n], true
}
