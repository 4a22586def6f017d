package crypt4gh

import (
	"bytes"
	"io"

	"github.com/seqvault/crypt4gh/keys"
)

// Header is a parsed container header: the preamble plus the ordered header
// packets. Packets are read lazily on first access; while they load, every
// recovered Data Encryption Key is collected for the data block engine.
type Header struct {
	magic       [MagicSize]byte
	version     uint32
	packetCount uint32

	r          io.Reader
	readerKeys *keys.Collection
	analyzer   *Analyzer

	loaded  bool
	packets []*HeaderPacket
	deks    *DEKCollection
}

// ReadHeader parses the container preamble and prepares lazy packet
// loading. Magic and version are verified immediately; version and packet
// count are 4-byte little-endian values and anything shorter is rejected.
func ReadHeader(r io.Reader, readerKeys *keys.Collection) (*Header, error) {
	return newHeader(r, readerKeys, nil)
}

func newHeader(r io.Reader, readerKeys *keys.Collection, analyzer *Analyzer) (*Header, error) {
	h := &Header{r: r, readerKeys: readerKeys, analyzer: analyzer, deks: NewDEKCollection()}

	if _, err := io.ReadFull(r, h.magic[:]); err != nil {
		return nil, headerError("cannot read magic bytes")
	}
	if !bytes.Equal(h.magic[:], containerMagic[:]) {
		return nil, headerError("incorrect magic %q", h.magic[:])
	}

	version, err := readLEUint32(r)
	if err != nil {
		return nil, headerError("cannot read version")
	}
	if version != Version1 {
		return nil, headerError("unsupported version %d", version)
	}
	h.version = version

	h.packetCount, err = readLEUint32(r)
	if err != nil {
		return nil, headerError("cannot read packet count")
	}
	return h, nil
}

// load reads the declared number of packets and harvests their DEKs. It is
// idempotent; the reader key collection is released once loading finishes.
func (h *Header) load() error {
	if h.loaded {
		return nil
	}
	if h.readerKeys == nil {
		return headerError("no reader keys available")
	}

	h.packets = make([]*HeaderPacket, 0, h.packetCount)
	for i := uint32(0); i < h.packetCount; i++ {
		p, err := readHeaderPacket(h.r, h.readerKeys)
		if err != nil {
			return err
		}
		if p.IsDataEncryptionParameters() {
			dek, err := p.DataEncryptionKey()
			if err != nil {
				return err
			}
			reader, _ := p.ReaderKey()
			h.deks.Add(NewDEK(dek, reader))
		}
		h.packets = append(h.packets, p)
		if h.analyzer != nil {
			h.analyzer.analyzePacket(p)
		}
	}
	h.readerKeys = nil
	h.loaded = true
	return nil
}

// Magic returns the container magic bytes.
func (h *Header) Magic() [MagicSize]byte {
	return h.magic
}

// Version returns the container version. Always 1.
func (h *Header) Version() uint32 {
	return h.version
}

// PacketCount returns the packet count declared in the preamble.
func (h *Header) PacketCount() uint32 {
	return h.packetCount
}

// Packets returns the header packets in container order, loading them on
// first access.
func (h *Header) Packets() ([]*HeaderPacket, error) {
	if err := h.load(); err != nil {
		return nil, err
	}
	return h.packets, nil
}

// DEKs returns the Data Encryption Keys recovered from the header packets,
// loading the packets first if needed.
func (h *Header) DEKs() (*DEKCollection, error) {
	if err := h.load(); err != nil {
		return nil, err
	}
	return h.deks, nil
}

// ReaderKeysUsed returns the distinct reader public keys that decrypted at
// least one packet, in first-use order.
func (h *Header) ReaderKeysUsed() ([][keys.KeySize]byte, error) {
	packets, err := h.Packets()
	if err != nil {
		return nil, err
	}

	var used [][keys.KeySize]byte
	seen := make(map[[keys.KeySize]byte]bool)
	for _, p := range packets {
		if reader, ok := p.ReaderKey(); ok && !seen[reader] {
			seen[reader] = true
			used = append(used, reader)
		}
	}
	return used, nil
}
