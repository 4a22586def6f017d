package crypt4gh

import (
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/seqvault/crypt4gh/keys"
)

// DEK is a Data Encryption Key together with the reader public key that
// unlocked the header packet it came from.
type DEK struct {
	key       [keys.KeySize]byte
	readerKey [keys.KeySize]byte
}

// NewDEK builds a DEK from its symmetric key and the reader key that
// recovered it.
func NewDEK(key, readerKey [keys.KeySize]byte) *DEK {
	return &DEK{key: key, readerKey: readerKey}
}

// NewDEKFromBytes builds a DEK from a byte slice, enforcing the strict
// 32-byte length.
func NewDEKFromBytes(key []byte, readerKey [keys.KeySize]byte) (*DEK, error) {
	if len(key) != keys.KeySize {
		return nil, dekError("DEK must be %d bytes, got %d", keys.KeySize, len(key))
	}
	var k [keys.KeySize]byte
	copy(k[:], key)
	return NewDEK(k, readerKey), nil
}

// Key returns the symmetric key bytes.
func (d *DEK) Key() [keys.KeySize]byte {
	return d.key
}

// ReaderKey returns the reader public key that unlocked this DEK.
func (d *DEK) ReaderKey() [keys.KeySize]byte {
	return d.readerKey
}

// DEKCollection is an ordered set of DEKs with a moving cursor. The cursor
// points at the DEK that deciphered the most recent block, so runs of
// blocks under the same key decrypt without retries. Before any block, it
// points at the DEK added last: the cursor state carries over from header
// parsing into block decryption.
type DEKCollection struct {
	deks    []*DEK
	current int
}

// NewDEKCollection creates an empty collection.
func NewDEKCollection() *DEKCollection {
	return &DEKCollection{}
}

// Count returns the number of DEKs in the collection.
func (c *DEKCollection) Count() int {
	return len(c.deks)
}

// Empty reports whether no DEKs were recovered.
func (c *DEKCollection) Empty() bool {
	return len(c.deks) == 0
}

// Contains reports whether a DEK with the given key bytes is present. The
// length must be exactly 32 bytes.
func (c *DEKCollection) Contains(key []byte) (bool, error) {
	if len(key) != keys.KeySize {
		return false, dekError("DEK must be %d bytes, got %d", keys.KeySize, len(key))
	}
	var k [keys.KeySize]byte
	copy(k[:], key)
	for _, d := range c.deks {
		if d.key == k {
			return true, nil
		}
	}
	return false, nil
}

// Add inserts the DEK unless one with identical key bytes is already
// present. It reports whether the collection grew; a newly added DEK
// becomes the cursor position.
func (c *DEKCollection) Add(dek *DEK) bool {
	for _, d := range c.deks {
		if d.key == dek.key {
			return false
		}
	}
	c.deks = append(c.deks, dek)
	c.current = len(c.deks) - 1
	return true
}

// DEK returns the DEK at the given index.
func (c *DEKCollection) DEK(idx int) *DEK {
	return c.deks[idx]
}

// DecryptBlock reads one data block from the stream and tries to decrypt it
// with the collected DEKs, starting at the cursor and wrapping.
//
// A nil raw return signals end of stream: nothing was read, or too little
// for even an empty block (truncation mid-block is tolerated). When no DEK
// opens the block, raw is returned with a nil cleartext and index -1 - that
// is not an error. I/O failures other than end of stream propagate.
func (c *DEKCollection) DecryptBlock(r io.Reader) (raw, cleartext []byte, dekIndex int, err error) {
	nonce := make([]byte, keys.NonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil, -1, nil
		}
		return nil, nil, -1, err
	}

	body := make([]byte, SegmentSize+keys.TagSize)
	n, err := io.ReadFull(r, body)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, -1, err
	}
	if n < keys.TagSize {
		return nil, nil, -1, nil
	}
	body = body[:n]
	raw = append(nonce, body...)

	if c.Empty() {
		return raw, nil, -1, nil
	}

	current := c.current
	for {
		aead, err := chacha20poly1305.New(c.deks[current].key[:])
		if err != nil {
			return nil, nil, -1, dekError("creating cipher: %v", err)
		}
		if cleartext, err := aead.Open(nil, nonce, body, nil); err == nil {
			c.current = current
			return raw, cleartext, current, nil
		}
		current = (current + 1) % len(c.deks)
		if current == c.current {
			return raw, nil, -1, nil
		}
	}
}
