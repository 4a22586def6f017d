// Package crypt4gh processes Crypt4GH v1 containers: it parses headers,
// recovers Data Encryption Keys with a collection of candidate reader keys,
// streams and optionally decrypts data blocks, rewrites header packet lists
// through chainable filters and serialises the result back to the wire
// format.
//
// The container input is consumed lazily: the header packets are read on
// first access and the data block stream can be taken exactly once.
package crypt4gh

import "github.com/seqvault/crypt4gh/keys"

const (
	// MagicSize is the size of the container magic bytes.
	MagicSize = 8

	// Version1 is the only supported container version.
	Version1 = 1

	// SegmentSize is the cleartext capacity of one data block.
	SegmentSize = 65536

	// blockOverhead is the per-block framing: nonce plus Poly1305 tag.
	blockOverhead = keys.NonceSize + keys.TagSize
)

// containerMagic opens every Crypt4GH container.
var containerMagic = [MagicSize]byte{'c', 'r', 'y', 'p', 't', '4', 'g', 'h'}

// HeaderView is the read-only header contract shared by parsed containers
// and filtered views of them.
type HeaderView interface {
	// Magic returns the container magic bytes.
	Magic() [MagicSize]byte

	// Version returns the container version. Always 1.
	Version() uint32

	// Packets returns the header packets in container order, loading them
	// if necessary.
	Packets() ([]*HeaderPacket, error)
}

// Source is anything the Writer can serialise: a parsed container or a
// filter over one. Filters wrap a Source and are themselves Sources, so
// they compose; the wrapped container knows nothing of its filters.
type Source interface {
	// Header returns the (possibly rewritten) header view.
	Header() HeaderView

	// Blocks returns the single-use data block iterator.
	Blocks() (*BlockIterator, error)
}
