package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// BlockSize is the AES block size and the length of the IV prefix on the wire.
const BlockSize = aes.BlockSize

// ErrDecode is returned for any payload that cannot be turned back into text:
// short or misaligned ciphertext, bad padding, or invalid UTF-8.
var ErrDecode = errors.New("decode error")

// Codec encrypts and decrypts bridge payloads with AES-256-CBC.
//
// Wire format: iv (16 bytes) || ciphertext, PKCS#7 padded. There is no
// authentication tag, callers detect tampering through decode failures.
type Codec struct {
	block cipher.Block
	rand  io.Reader
}

// DeriveKey returns the SHA-256 digest of the passphrase.
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// New creates a codec keyed by DeriveKey(passphrase).
func New(passphrase string) (*Codec, error) {
	block, err := aes.NewCipher(DeriveKey(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}

	return &Codec{
		block: block,
		rand:  rand.Reader,
	}, nil
}

// Encrypt pads plaintext, encrypts it under a fresh random IV and returns iv || ciphertext.
func (c *Codec) Encrypt(plaintext string) ([]byte, error) {
	padded := pad([]byte(plaintext), BlockSize)

	out := make([]byte, BlockSize+len(padded))
	iv := out[:BlockSize]
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %v", err)
	}

	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[BlockSize:], padded)
	return out, nil
}

// Decrypt reverses Encrypt. It never panics; every failure wraps ErrDecode.
func (c *Codec) Decrypt(blob []byte) (string, error) {
	if len(blob) < BlockSize {
		return "", fmt.Errorf("%w: payload is %d bytes, shorter than one block", ErrDecode, len(blob))
	}

	iv, ciphertext := blob[:BlockSize], blob[BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d", ErrDecode, len(ciphertext), BlockSize)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ciphertext)

	data, err := unpad(plain, BlockSize)
	if err != nil {
		return "", err
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecode)
	}

	return string(data), nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	for i := 0; i < n; i++ {
		out = append(out, byte(n))
	}
	return out
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecode)
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: invalid padding length %d", ErrDecode, n)
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent padding bytes", ErrDecode)
		}
	}

	return data[:len(data)-n], nil
}
