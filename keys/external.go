package keys

import (
	"sync"

	"golang.org/x/crypto/curve25519"
)

// Oracle finalizes an X25519 exchange on behalf of a private key held
// elsewhere: given a public point it returns that point multiplied by the
// private scalar.
type Oracle func(point [KeySize]byte) ([KeySize]byte, error)

// ExternalKey delegates the raw ECDH computation to an Oracle and performs
// the Crypt4GH symmetric key derivation locally. External keys always have
// access to a private scalar, so they can always derive symmetric keys.
type ExternalKey struct {
	oracle Oracle
	pubFn  func() ([KeySize]byte, error)

	mu     sync.Mutex
	pub    [KeySize]byte
	pubSet bool
}

// NewExternalKey constructs an external key whose public key is obtained by
// applying the oracle to the X25519 base point. This works with any backend
// because scalar multiplication of the generator is exactly the public key,
// independent of whatever vendor API would otherwise expose it.
func NewExternalKey(oracle Oracle) *ExternalKey {
	return &ExternalKey{oracle: oracle}
}

// NewExternalKeyFunc constructs an external key with a dedicated public key
// source, for backends that publish the public half through their own
// protocol.
func NewExternalKeyFunc(pub func() ([KeySize]byte, error), oracle Oracle) *ExternalKey {
	return &ExternalKey{oracle: oracle, pubFn: pub}
}

// PublicKey returns the public half, fetching it on first use.
func (k *ExternalKey) PublicKey() ([KeySize]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.pubSet {
		return k.pub, nil
	}
	var (
		pub [KeySize]byte
		err error
	)
	if k.pubFn != nil {
		pub, err = k.pubFn()
	} else {
		pub, err = k.oracle(BasePoint)
	}
	if err != nil {
		return pub, err
	}
	k.pub = pub
	k.pubSet = true
	return k.pub, nil
}

// CanDeriveSymmetric always reports true: the oracle stands in for the
// private half.
func (k *ExternalKey) CanDeriveSymmetric() bool {
	return true
}

// ComputeECDH multiplies the given public point by the delegated private
// scalar.
func (k *ExternalKey) ComputeECDH(point [KeySize]byte) ([KeySize]byte, error) {
	return k.oracle(point)
}

// DeriveWrite computes the writer-side symmetric key for a packet addressed
// to readerPub.
func (k *ExternalKey) DeriveWrite(readerPub [KeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	pub, err := k.PublicKey()
	if err != nil {
		return key, err
	}
	dh, err := k.oracle(readerPub)
	if err != nil {
		return key, err
	}
	return sessionKey(dh[:], readerPub, pub), nil
}

// DeriveRead computes the reader-side symmetric key for a packet produced by
// writerPub.
func (k *ExternalKey) DeriveRead(writerPub [KeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	pub, err := k.PublicKey()
	if err != nil {
		return key, err
	}
	dh, err := k.oracle(writerPub)
	if err != nil {
		return key, err
	}
	return sessionKey(dh[:], pub, writerPub), nil
}

// WrapSoftware exposes a SoftwareKey through the ExternalKey interface,
// computing the ECDH locally. Intended for tests and local key-server
// deployments; production servers should delegate to a real external holder
// of the private key.
func WrapSoftware(sk *SoftwareKey) (*ExternalKey, error) {
	if !sk.CanDeriveSymmetric() {
		return nil, keyError("wrapping as external key requires the private half")
	}

	pub := sk.public
	private := sk.private
	return NewExternalKeyFunc(
		func() ([KeySize]byte, error) { return pub, nil },
		func(point [KeySize]byte) ([KeySize]byte, error) {
			var out [KeySize]byte
			dh, err := curve25519.X25519(private[:], point[:])
			if err != nil {
				return out, wrapKeyError(err, "x25519")
			}
			copy(out[:], dh)
			return out, nil
		},
	), nil
}
