package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	k1 := DeriveKey("secret")
	k2 := DeriveKey("secret")
	k3 := DeriveKey("Secret")

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestRoundTrip(t *testing.T) {
	c, err := New("secret")
	require.NoError(t, err)

	cases := []string{
		"",
		"a",
		"exactly 16 bytes",
		strings.Repeat("x", 15),
		strings.Repeat("y", 17),
		`{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":40.0,"dato_button":1}`,
		"temperatura 21,5 °C, humedad 40 % ✓",
	}

	for _, s := range cases {
		blob, err := c.Encrypt(s)
		require.NoError(t, err)

		assert.Zero(t, len(blob)%BlockSize, "blob length for %q", s)
		assert.Greater(t, len(blob), BlockSize, "padding always adds at least one byte")

		got, err := c.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	c, err := New("secret")
	require.NoError(t, err)

	a, err := c.Encrypt("same text")
	require.NoError(t, err)
	b, err := c.Encrypt("same text")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a[:BlockSize], b[:BlockSize])

	for _, blob := range [][]byte{a, b} {
		got, err := c.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, "same text", got)
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	c, err := New("secret")
	require.NoError(t, err)

	for _, n := range []int{0, 1, BlockSize - 1, BlockSize, BlockSize + 1, 2*BlockSize + 3} {
		_, err := c.Decrypt(make([]byte, n))
		assert.ErrorIs(t, err, ErrDecode, "length %d", n)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	enc, err := New("secret")
	require.NoError(t, err)
	dec, err := New("other")
	require.NoError(t, err)

	blob, err := enc.Encrypt(`{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":40.0,"dato_button":1}`)
	require.NoError(t, err)

	got, err := dec.Decrypt(blob)
	if err == nil {
		// Confidentiality only: an unlucky padding match is possible, but the
		// result must not parse back into the original object.
		var v map[string]any
		assert.Error(t, json.Unmarshal([]byte(got), &v))
		return
	}
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecryptTampered(t *testing.T) {
	c, err := New("secret")
	require.NoError(t, err)

	plain := `{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":40.0,"dato_button":1}`
	blob, err := c.Encrypt(plain)
	require.NoError(t, err)

	for i := range blob {
		tampered := bytes.Clone(blob)
		tampered[i] ^= 0x01

		got, err := c.Decrypt(tampered)
		if err != nil {
			assert.ErrorIs(t, err, ErrDecode)
			continue
		}
		assert.NotEqual(t, plain, got, "flipping byte %d must change the plaintext", i)
	}
}

func TestDecryptBadPadding(t *testing.T) {
	c, err := New("secret")
	require.NoError(t, err)

	encryptRaw := func(padded []byte) []byte {
		iv := make([]byte, BlockSize)
		out := make([]byte, len(padded))
		block, err := aes.NewCipher(DeriveKey("secret"))
		require.NoError(t, err)
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
		return append(iv, out...)
	}

	cases := map[string][]byte{
		"zero pad":         append(bytes.Repeat([]byte("a"), 15), 0),
		"pad too large":    append(bytes.Repeat([]byte("a"), 15), 17),
		"inconsistent pad": append(bytes.Repeat([]byte("a"), 13), 1, 2, 3),
	}

	for name, padded := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(encryptRaw(padded))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}

	t.Run("invalid utf8", func(t *testing.T) {
		padded := append([]byte{0xff, 0xfe, 0xfd}, bytes.Repeat([]byte{13}, 13)...)
		_, err := c.Decrypt(encryptRaw(padded))
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestPad(t *testing.T) {
	for n := 0; n <= 2*BlockSize; n++ {
		padded := pad(bytes.Repeat([]byte{'z'}, n), BlockSize)
		assert.Zero(t, len(padded)%BlockSize)

		p := int(padded[len(padded)-1])
		assert.GreaterOrEqual(t, p, 1)
		assert.LessOrEqual(t, p, BlockSize)

		data, err := unpad(padded, BlockSize)
		require.NoError(t, err)
		assert.Len(t, data, n)
	}
}
