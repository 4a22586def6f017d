// Package keys implements the asymmetric key backends used to unlock and
// re-address Crypt4GH containers. A Key performs X25519 key agreement and
// derives the directional symmetric keys that seal header packets. Backends
// include in-memory software keys, keys loaded from Crypt4GH key files and
// external keys that delegate the raw ECDH computation to an outside holder
// of the private scalar (a gpg-agent, a remote key server).
package keys

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// KeySize is the size of X25519 keys and derived symmetric keys in bytes.
	KeySize = 32

	// NonceSize is the size of ChaCha20-Poly1305 nonces in bytes.
	NonceSize = 12

	// TagSize is the size of Poly1305 authentication tags in bytes.
	TagSize = 16
)

// BasePoint is the X25519 generator point (X coordinate 9).
var BasePoint = [KeySize]byte{9}

// ErrKey is the base error for any problem acquiring, decoding or using a
// key: a bad envelope, a missing passphrase, a failed KDF, an agent or HTTP
// protocol violation, a missing private half.
var ErrKey = errors.New("KEY")

// keyError builds an ErrKey-based error with a formatted message.
func keyError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrKey, fmt.Sprintf(format, args...))
}

// wrapKeyError attaches a cause to an ErrKey-based error.
func wrapKeyError(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrKey, fmt.Sprintf(format, args...), err)
}

// Key is a capability over an X25519 key pair. Implementations always expose
// the public half; deriving symmetric keys requires access to the private
// half, which CanDeriveSymmetric reports.
type Key interface {
	// PublicKey returns the 32-byte public key. Backends that hold their
	// key material elsewhere may need to fetch it, hence the error.
	PublicKey() ([KeySize]byte, error)

	// CanDeriveSymmetric reports whether this key has access to a private
	// half and can therefore compute the directional symmetric keys.
	CanDeriveSymmetric() bool

	// DeriveWrite computes the symmetric key this side uses as the writer
	// of a header packet addressed to the holder of readerPub.
	DeriveWrite(readerPub [KeySize]byte) ([KeySize]byte, error)

	// DeriveRead computes the symmetric key this side uses as the reader
	// of a header packet produced by the holder of writerPub.
	DeriveRead(writerPub [KeySize]byte) ([KeySize]byte, error)
}

// ECDHKey is a Key that additionally exposes the raw X25519 shared point
// computation. External backends implement it; the path key server requires
// it.
type ECDHKey interface {
	Key

	// ComputeECDH multiplies the given public point by the private scalar
	// and returns the resulting point.
	ComputeECDH(point [KeySize]byte) ([KeySize]byte, error)
}

// sessionKey derives the Crypt4GH symmetric key from an X25519 shared secret
// and the two party public keys. Both directions arrive at the same bytes:
// BLAKE2b-512(dh || readerPub || writerPub) truncated to 32 bytes, with the
// reader in the client role and the writer in the server role. The writer's
// transmit key therefore equals the reader's receive key.
func sessionKey(dh []byte, readerPub, writerPub [KeySize]byte) [KeySize]byte {
	buf := make([]byte, 0, len(dh)+2*KeySize)
	buf = append(buf, dh...)
	buf = append(buf, readerPub[:]...)
	buf = append(buf, writerPub[:]...)
	sum := blake2b.Sum512(buf)

	var key [KeySize]byte
	copy(key[:], sum[:KeySize])
	return key
}

// ZeroBytes zeroes out a byte slice to prevent sensitive material from
// lingering in memory.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey zeroes out a key array.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
