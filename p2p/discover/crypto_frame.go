package discover

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
)

// NetworkKeySize is the width, in bytes, of the optional shared network key
// (spec §3 "NetworkKey").
const NetworkKeySize = 32

const (
	nonceSize = 12
	tagSize   = 16
	// frameOverhead is the number of bytes an authenticated frame adds
	// over the plaintext it carries.
	frameOverhead = nonceSize + tagSize
)

// ErrFrameTooShort is returned when an authenticated frame is shorter than
// the fixed nonce+tag overhead.
var ErrFrameTooShort = errors.New("discover: authenticated frame too short")

// ErrTagMismatch is returned when a frame's MAC does not verify; callers
// must silently drop the packet rather than propagate this upward (spec
// §4.1, §7).
var ErrTagMismatch = errors.New("discover: authentication tag mismatch")

// sealFrame wraps plaintext in the authenticated, obfuscated framing spec
// §4.1 describes: nonce || tag || ciphertext, where the keystream comes from
// ChaCha20 keyed by the 32-byte network key and the tag is a 16-byte
// blake2b keyed MAC over nonce||ciphertext — the spec's permitted
// substitute for "a ChaCha20 stream and an HMAC-like finaliser".
func sealFrame(key [NetworkKeySize]byte, plaintext []byte) ([]byte, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := chachaXOR(key, nonce, plaintext)
	if err != nil {
		return nil, err
	}
	tag, err := frameTag(key, nonce, ciphertext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, frameOverhead+len(plaintext))
	out = append(out, nonce[:]...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// openFrame reverses sealFrame, verifying the tag before decrypting. On any
// verification failure it returns ErrTagMismatch; the caller must drop the
// packet without further processing.
func openFrame(key [NetworkKeySize]byte, frame []byte) ([]byte, error) {
	if len(frame) < frameOverhead {
		metricTagMismatch.Inc(1)
		return nil, ErrFrameTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], frame[:nonceSize])
	gotTag := frame[nonceSize : nonceSize+tagSize]
	ciphertext := frame[nonceSize+tagSize:]

	wantTag, err := frameTag(key, nonce, ciphertext)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		metricTagMismatch.Inc(1)
		return nil, ErrTagMismatch
	}
	return chachaXOR(key, nonce, ciphertext)
}

func chachaXOR(key [NetworkKeySize]byte, nonce [nonceSize]byte, in []byte) ([]byte, error) {
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("discover: init chacha20 stream: %w", err)
	}
	out := make([]byte, len(in))
	cipher.XORKeyStream(out, in)
	return out, nil
}

func frameTag(key [NetworkKeySize]byte, nonce [nonceSize]byte, ciphertext []byte) ([]byte, error) {
	h, err := blake2b.New(tagSize, key[:])
	if err != nil {
		return nil, fmt.Errorf("discover: init blake2b mac: %w", err)
	}
	h.Write(nonce[:])
	h.Write(ciphertext)
	return h.Sum(nil), nil
}
