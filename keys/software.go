package keys

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// SoftwareKey is an in-memory X25519 key. It holds the private scalar, or
// only the public half, in which case it cannot derive symmetric keys.
type SoftwareKey struct {
	private    [KeySize]byte
	public     [KeySize]byte
	hasPrivate bool
}

// NewSoftwareKey constructs a key from a 32-byte private scalar. The public
// key is derived by multiplying the base point.
func NewSoftwareKey(private [KeySize]byte) (*SoftwareKey, error) {
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, wrapKeyError(err, "invalid private scalar")
	}

	k := &SoftwareKey{private: private, hasPrivate: true}
	copy(k.public[:], pub)
	return k, nil
}

// NewPublicOnly constructs a key from a 32-byte public key alone. The
// resulting key can address recipients but cannot derive symmetric keys.
func NewPublicOnly(public [KeySize]byte) *SoftwareKey {
	return &SoftwareKey{public: public}
}

// Generate creates a new software key from 32 uniform random bytes.
func Generate() (*SoftwareKey, error) {
	var private [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, private[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return NewSoftwareKey(private)
}

// PublicKey returns the public half.
func (k *SoftwareKey) PublicKey() ([KeySize]byte, error) {
	return k.public, nil
}

// CanDeriveSymmetric reports whether the private half is present.
func (k *SoftwareKey) CanDeriveSymmetric() bool {
	return k.hasPrivate
}

// DeriveWrite computes the writer-side symmetric key for a packet addressed
// to readerPub.
func (k *SoftwareKey) DeriveWrite(readerPub [KeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	if !k.hasPrivate {
		return key, keyError("cannot derive write key without the private half")
	}

	dh, err := curve25519.X25519(k.private[:], readerPub[:])
	if err != nil {
		return key, wrapKeyError(err, "x25519")
	}
	return sessionKey(dh, readerPub, k.public), nil
}

// DeriveRead computes the reader-side symmetric key for a packet produced by
// writerPub.
func (k *SoftwareKey) DeriveRead(writerPub [KeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	if !k.hasPrivate {
		return key, keyError("cannot derive read key without the private half")
	}

	dh, err := curve25519.X25519(k.private[:], writerPub[:])
	if err != nil {
		return key, wrapKeyError(err, "x25519")
	}
	return sessionKey(dh, k.public, writerPub), nil
}

// Zero wipes the private scalar. The key degrades to a public-only key.
func (k *SoftwareKey) Zero() {
	ZeroKey(&k.private)
	k.hasPrivate = false
}
