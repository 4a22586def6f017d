package crypt4gh

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/seqvault/crypt4gh/keys"
)

// Packet types carried in decrypted header packet payloads. The format
// reserves further types; packets of unknown type are kept readable but
// uninterpreted and preserved verbatim on write.
const (
	PacketTypeDataEncryptionParameters uint32 = 0
	PacketTypeEditList                 uint32 = 1
)

// Layout offsets within a header packet, all relative to the packet start
// (the 4-byte length prefix).
const (
	packetEncryptionMethodOffset = 4
	packetWriterKeyOffset        = 8
	packetNonceOffset            = packetWriterKeyOffset + keys.KeySize
	packetPayloadOffset          = packetNonceOffset + keys.NonceSize
	packetMinLength              = packetPayloadOffset + keys.TagSize
)

// HeaderPacket is one header packet: the raw bytes as read (kept for
// round-trip serialisation) plus, when one of the reader keys could unseal
// it, the decrypted content and its interpretation.
type HeaderPacket struct {
	length uint32
	raw    []byte

	content    []byte
	readerKey  *[keys.KeySize]byte
	packetType uint32

	dataEncryptionMethod uint32
	dek                  [keys.KeySize]byte
	hasDEK               bool
}

// readHeaderPacket parses one packet from the stream and trial-decrypts it
// against the reader key collection, starting at the collection cursor. A
// packet no key can open is kept unreadable; a structurally broken packet
// is an error.
func readHeaderPacket(r io.Reader, readerKeys *keys.Collection) (*HeaderPacket, error) {
	length, err := readLEUint32(r)
	if err != nil {
		return nil, packetError("cannot read packet length")
	}
	if length < packetMinLength {
		return nil, packetError("packet length %d below minimum %d", length, packetMinLength)
	}

	raw := make([]byte, length)
	binary.LittleEndian.PutUint32(raw[:4], length)
	if n, err := io.ReadFull(r, raw[4:]); err != nil {
		return nil, packetError("read only %d of %d packet bytes", n+4, length)
	}

	encryptionMethod := binary.LittleEndian.Uint32(raw[packetEncryptionMethodOffset:])
	if encryptionMethod != 0 {
		return nil, packetError("unsupported encryption method %d", encryptionMethod)
	}

	var writerPub [keys.KeySize]byte
	copy(writerPub[:], raw[packetWriterKeyOffset:packetNonceOffset])
	nonce := raw[packetNonceOffset:packetPayloadOffset]
	sealed := raw[packetPayloadOffset:]

	p := &HeaderPacket{length: length, raw: raw}
	for idx, key := range readerKeys.Keys() {
		symmetric, err := key.DeriveRead(writerPub)
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.New(symmetric[:])
		if err != nil {
			return nil, packetError("creating cipher: %v", err)
		}
		content, err := aead.Open(nil, nonce, sealed, nil)
		if err != nil {
			// Not our packet with this key; try the next one.
			continue
		}
		pub, err := key.PublicKey()
		if err != nil {
			return nil, err
		}
		p.content = content
		p.readerKey = &pub
		readerKeys.SetCurrent(idx)
		break
	}

	if p.content != nil {
		if err := p.classify(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// classify interprets the decrypted content: the leading packet type and,
// for data-encryption-parameters packets, the method and the DEK.
func (p *HeaderPacket) classify() error {
	if len(p.content) < 4 {
		return packetError("decrypted content too short for packet type")
	}
	p.packetType = binary.LittleEndian.Uint32(p.content)

	if p.packetType == PacketTypeDataEncryptionParameters {
		if len(p.content) < 8+keys.KeySize {
			return packetError("data encryption parameters truncated: %d bytes", len(p.content))
		}
		p.dataEncryptionMethod = binary.LittleEndian.Uint32(p.content[4:])
		if p.dataEncryptionMethod != 0 {
			return packetError("unknown data encryption method %d", p.dataEncryptionMethod)
		}
		copy(p.dek[:], p.content[8:8+keys.KeySize])
		p.hasDEK = true
	}
	return nil
}

// Length returns the packet length in bytes, including the 4-byte length
// prefix itself.
func (p *HeaderPacket) Length() uint32 {
	return p.length
}

// Raw returns the original packet bytes for serialisation.
func (p *HeaderPacket) Raw() []byte {
	return p.raw
}

// IsReadable reports whether one of the reader keys could decrypt the
// packet.
func (p *HeaderPacket) IsReadable() bool {
	return p.content != nil
}

// IsDataEncryptionParameters reports whether this is a readable DEK packet.
func (p *HeaderPacket) IsDataEncryptionParameters() bool {
	return p.content != nil && p.packetType == PacketTypeDataEncryptionParameters
}

// IsEditList reports whether this is a readable edit list packet.
func (p *HeaderPacket) IsEditList() bool {
	return p.content != nil && p.packetType == PacketTypeEditList
}

// PacketType returns the packet type of a readable packet. The second
// return is false for unreadable packets.
func (p *HeaderPacket) PacketType() (uint32, bool) {
	return p.packetType, p.content != nil
}

// ReaderKey returns the public key that decrypted the packet. The second
// return is false for unreadable packets.
func (p *HeaderPacket) ReaderKey() ([keys.KeySize]byte, bool) {
	if p.readerKey == nil {
		var zero [keys.KeySize]byte
		return zero, false
	}
	return *p.readerKey, true
}

// Content returns the decrypted packet payload, or nil when unreadable.
func (p *HeaderPacket) Content() []byte {
	return p.content
}

// DataEncryptionKey returns the DEK of a data-encryption-parameters packet.
func (p *HeaderPacket) DataEncryptionKey() ([keys.KeySize]byte, error) {
	if !p.hasDEK {
		return [keys.KeySize]byte{}, packetError("packet carries no data encryption key")
	}
	return p.dek, nil
}
