package crypt4gh

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/seqvault/crypt4gh/keys"
)

// Identity passes the wrapped container through unchanged. Writing an
// identity-filtered container reproduces the input bytes exactly.
type Identity struct {
	src Source
}

// NewIdentity wraps a container source without altering it.
func NewIdentity(src Source) *Identity {
	return &Identity{src: src}
}

// Header returns the original header view.
func (f *Identity) Header() HeaderView {
	return f.src.Header()
}

// Blocks returns the original block iterator.
func (f *Identity) Blocks() (*BlockIterator, error) {
	return f.src.Blocks()
}

// OnlyReadable drops header packets that none of the reader keys could
// decrypt. Data blocks pass through untouched.
type OnlyReadable struct {
	src Source
}

// NewOnlyReadable wraps a container source, hiding unreadable packets.
func NewOnlyReadable(src Source) *OnlyReadable {
	return &OnlyReadable{src: src}
}

// Header returns the filtered header view.
func (f *OnlyReadable) Header() HeaderView {
	return &onlyReadableHeader{orig: f.src.Header()}
}

// Blocks returns the original block iterator.
func (f *OnlyReadable) Blocks() (*BlockIterator, error) {
	return f.src.Blocks()
}

type onlyReadableHeader struct {
	orig HeaderView
}

func (h *onlyReadableHeader) Magic() [MagicSize]byte { return h.orig.Magic() }

func (h *onlyReadableHeader) Version() uint32 { return h.orig.Version() }

func (h *onlyReadableHeader) Packets() ([]*HeaderPacket, error) {
	packets, err := h.orig.Packets()
	if err != nil {
		return nil, err
	}
	readable := make([]*HeaderPacket, 0, len(packets))
	for _, p := range packets {
		if p.IsReadable() {
			readable = append(readable, p)
		}
	}
	return readable, nil
}

// AddRecipient re-addresses a container: every readable DEK and edit list
// packet is re-encrypted for each new recipient and appended to the packet
// list. The original packets and all data blocks stay untouched, so the
// new recipients decrypt the very same ciphertext blocks.
type AddRecipient struct {
	src    Source
	header *addRecipientHeader
}

// NewAddRecipient wraps a container source, adding the given recipient
// public keys. Recipients that already decrypt a packet are skipped.
func NewAddRecipient(src Source, recipients ...[keys.KeySize]byte) *AddRecipient {
	return &AddRecipient{
		src:    src,
		header: &addRecipientHeader{orig: src.Header(), recipients: recipients},
	}
}

// Header returns the header view with the added recipient packets.
func (f *AddRecipient) Header() HeaderView {
	return f.header
}

// Blocks returns the original block iterator.
func (f *AddRecipient) Blocks() (*BlockIterator, error) {
	return f.src.Blocks()
}

type addRecipientHeader struct {
	orig       HeaderView
	recipients [][keys.KeySize]byte

	done    bool
	packets []*HeaderPacket
	err     error
}

func (h *addRecipientHeader) Magic() [MagicSize]byte { return h.orig.Magic() }

func (h *addRecipientHeader) Version() uint32 { return h.orig.Version() }

// Packets materialises the extended packet list once and memoizes it, so
// repeated access stays idempotent.
func (h *addRecipientHeader) Packets() ([]*HeaderPacket, error) {
	if h.done {
		return h.packets, h.err
	}
	h.done = true
	h.packets, h.err = h.materialize()
	return h.packets, h.err
}

func (h *addRecipientHeader) materialize() ([]*HeaderPacket, error) {
	original, err := h.orig.Packets()
	if err != nil {
		return nil, err
	}

	packets := make([]*HeaderPacket, len(original), len(original)+len(h.recipients))
	copy(packets, original)

	for _, recipient := range h.recipients {
		if hasReader(original, recipient) {
			continue
		}
		for _, p := range original {
			if !p.IsReadable() {
				continue
			}
			if ptype, _ := p.PacketType(); ptype != PacketTypeDataEncryptionParameters && ptype != PacketTypeEditList {
				continue
			}
			sealed, err := sealPacketFor(p, recipient)
			if err != nil {
				return nil, err
			}
			packets = append(packets, sealed)
		}
	}
	return packets, nil
}

// sealPacketFor re-encrypts the decrypted content of a packet under a fresh
// ephemeral writer key and nonce for the given recipient. The resulting
// packet carries only serialisable state; it is unreadable to this side.
func sealPacketFor(p *HeaderPacket, recipient [keys.KeySize]byte) (*HeaderPacket, error) {
	ephemeral, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	defer ephemeral.Zero()

	symmetric, err := ephemeral.DeriveWrite(recipient)
	if err != nil {
		return nil, err
	}
	writerPub, err := ephemeral.PublicKey()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, keys.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	aead, err := chacha20poly1305.New(symmetric[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	// Same content, same sealing overhead: the packet length is unchanged.
	raw := make([]byte, 0, p.Length())
	raw = putLEUint32(raw, p.Length())
	raw = putLEUint32(raw, 0)
	raw = append(raw, writerPub[:]...)
	raw = append(raw, nonce...)
	raw = aead.Seal(raw, nonce, p.Content(), nil)

	return &HeaderPacket{length: p.Length(), raw: raw}, nil
}

// hasReader reports whether the recipient already reads one of the packets.
func hasReader(packets []*HeaderPacket, recipient [keys.KeySize]byte) bool {
	for _, p := range packets {
		if reader, ok := p.ReaderKey(); ok && reader == recipient {
			return true
		}
	}
	return false
}
