package crypt4gh

import (
	"fmt"
	"io"

	"github.com/seqvault/crypt4gh/keys"
)

// Container binds a parsed header to the data block stream behind it. The
// block stream can be taken exactly once; a container is not safe for
// concurrent use, but independent containers over independent streams may
// run concurrently.
type Container struct {
	r        io.Reader
	header   *Header
	decrypt  bool
	analyzer *Analyzer
	consumed bool
}

// Option customises container processing.
type Option func(*Container)

// WithoutDecryption streams data blocks as opaque byte runs of the standard
// framing without trying any DEK.
func WithoutDecryption() Option {
	return func(c *Container) { c.decrypt = false }
}

// WithAnalyzer records, per packet, which reader key could read it and, per
// block, which DEK deciphered it. The findings are available from Analyzer
// once the stream is drained.
func WithAnalyzer() Option {
	return func(c *Container) { c.analyzer = newAnalyzer() }
}

// New opens a container over the stream using a collection of candidate
// reader keys. The preamble is verified immediately; header packets load
// lazily.
func New(r io.Reader, readerKeys *keys.Collection, opts ...Option) (*Container, error) {
	c := &Container{r: r, decrypt: true}
	for _, opt := range opts {
		opt(c)
	}

	header, err := newHeader(r, readerKeys, c.analyzer)
	if err != nil {
		return nil, err
	}
	c.header = header
	return c, nil
}

// NewWithKey opens a container with a single reader key.
func NewWithKey(r io.Reader, readerKey keys.Key, opts ...Option) (*Container, error) {
	collection, err := keys.NewCollection(readerKey)
	if err != nil {
		return nil, err
	}
	return New(r, collection, opts...)
}

// Header returns the container header view.
func (c *Container) Header() HeaderView {
	return c.header
}

// DEKs returns the Data Encryption Keys recovered from the header.
func (c *Container) DEKs() (*DEKCollection, error) {
	return c.header.DEKs()
}

// ReaderKeysUsed returns the distinct reader public keys that decrypted at
// least one header packet.
func (c *Container) ReaderKeysUsed() ([][keys.KeySize]byte, error) {
	return c.header.ReaderKeysUsed()
}

// Analyzer returns the analyzer attached with WithAnalyzer, or nil.
func (c *Container) Analyzer() *Analyzer {
	return c.analyzer
}

// Blocks returns the data block iterator. The header packets are loaded
// first so the stream is positioned at the data section. The iterator can
// be taken once; a second take fails with ErrProcessed.
func (c *Container) Blocks() (*BlockIterator, error) {
	if _, err := c.header.Packets(); err != nil {
		return nil, err
	}
	if c.consumed {
		return nil, fmt.Errorf("%w: data block stream already taken", ErrProcessed)
	}
	c.consumed = true
	return &BlockIterator{c: c}, nil
}

// BlockIterator streams the data blocks of one container in input order.
type BlockIterator struct {
	c      *Container
	offset int64
	done   bool
}

// Next returns the next data block, or io.EOF when the stream is drained.
// An I/O failure mid-block propagates and ends the iteration; there is no
// partial recovery.
func (it *BlockIterator) Next() (*DataBlock, error) {
	if it.done {
		return nil, io.EOF
	}

	var block *DataBlock
	if it.c.decrypt {
		deks, err := it.c.header.DEKs()
		if err != nil {
			it.done = true
			return nil, err
		}
		raw, cleartext, dekIndex, err := deks.DecryptBlock(it.c.r)
		if err != nil {
			it.done = true
			return nil, err
		}
		if raw == nil {
			it.done = true
			return nil, io.EOF
		}
		block = &DataBlock{raw: raw, cleartext: cleartext, dekIndex: dekIndex, offset: it.offset}
	} else {
		buf := make([]byte, keys.NonceSize+SegmentSize+keys.TagSize)
		n, err := io.ReadFull(it.c.r, buf)
		if n == 0 {
			it.done = true
			if err == io.EOF || err == io.ErrUnexpectedEOF || err == nil {
				return nil, io.EOF
			}
			return nil, err
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			it.done = true
			return nil, err
		}
		block = &DataBlock{raw: buf[:n], dekIndex: -1, offset: it.offset}
	}

	it.offset += int64(block.Size())
	if it.c.analyzer != nil {
		it.c.analyzer.analyzeBlock(block)
	}
	return block, nil
}

// NextDeciphered returns the next deciphered block, skipping opaque ones,
// or io.EOF when the stream is drained.
func (it *BlockIterator) NextDeciphered() (*DataBlock, error) {
	for {
		block, err := it.Next()
		if err != nil {
			return nil, err
		}
		if block.IsDeciphered() {
			return block, nil
		}
	}
}
