package cryptox

import (
	"crypto/rand"
	"testing"

	"github.com/piivault/piivault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := randKey(t)

	for _, plaintext := range []string{"123-45-6789", "", "тест", `{"a":1}`} {
		blob, err := Seal([]byte(plaintext), key)
		require.NoError(t, err)
		assert.NotEqual(t, []byte(plaintext), blob)

		got, err := Open(blob, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(got))
	}
}

func TestSeal_UniqueNonces(t *testing.T) {
	key := randKey(t)

	a, err := Seal([]byte("same plaintext"), key)
	require.NoError(t, err)
	b, err := Seal([]byte("same plaintext"), key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	blob, err := Seal([]byte("secret"), randKey(t))
	require.NoError(t, err)

	_, err = Open(blob, randKey(t))
	assert.ErrorIs(t, err, common.ErrDecryption)
}

func TestOpen_TamperedBlobFails(t *testing.T) {
	key := randKey(t)
	blob, err := Seal([]byte("secret"), key)
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff

	_, err = Open(blob, key)
	assert.ErrorIs(t, err, common.ErrDecryption)
}

func TestOpen_TruncatedBlobFails(t *testing.T) {
	_, err := Open([]byte("short"), randKey(t))
	assert.ErrorIs(t, err, common.ErrDecryption)
}

func TestBadKeySize(t *testing.T) {
	_, err := Seal([]byte("x"), []byte("too-short"))
	assert.ErrorIs(t, err, common.ErrKeyRetrieval)

	_, err = Open(make([]byte, 64), []byte("too-short"))
	assert.ErrorIs(t, err, common.ErrKeyRetrieval)
}
