package discover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenFrameRoundTrip(t *testing.T) {
	var key [NetworkKeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("ping-pong payload")

	frame, err := sealFrame(key, plaintext)
	require.NoError(t, err)
	assert.Len(t, frame, len(plaintext)+frameOverhead)

	got, err := openFrame(key, frame)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpenFrameRejectsWrongKey(t *testing.T) {
	var key1, key2 [NetworkKeySize]byte
	key2[0] = 1

	frame, err := sealFrame(key1, []byte("hello"))
	require.NoError(t, err)

	_, err = openFrame(key2, frame)
	assert.ErrorIs(t, err, ErrTagMismatch)
}

func TestOpenFrameRejectsTruncated(t *testing.T) {
	var key [NetworkKeySize]byte
	_, err := openFrame(key, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestOpenFrameRejectsTamperedCiphertext(t *testing.T) {
	var key [NetworkKeySize]byte
	frame, err := sealFrame(key, []byte("authenticate me"))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xff

	_, err = openFrame(key, frame)
	assert.ErrorIs(t, err, ErrTagMismatch)
}
