package crypt4gh

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/seqvault/crypt4gh/keys"
)

// PacketAccess records whether one header packet was readable and, if so,
// by which reader key.
type PacketAccess struct {
	Readable bool
	Reader   [keys.KeySize]byte
}

// BlockAccess records whether one data block was deciphered and, if so, by
// which DEK.
type BlockAccess struct {
	Deciphered bool
	DEKIndex   int
}

// Analyzer observes a container while it is processed and accumulates which
// reader keys could read which header packets and which DEKs deciphered
// which blocks. Attach it with WithAnalyzer; the report is complete once
// the block stream is drained.
type Analyzer struct {
	packets []PacketAccess
	blocks  []BlockAccess
	readers [][keys.KeySize]byte

	clearBytes int64
	totalBytes int64
}

func newAnalyzer() *Analyzer {
	return &Analyzer{}
}

func (a *Analyzer) analyzePacket(p *HeaderPacket) {
	reader, ok := p.ReaderKey()
	if !ok {
		a.packets = append(a.packets, PacketAccess{})
		return
	}
	a.packets = append(a.packets, PacketAccess{Readable: true, Reader: reader})
	for _, r := range a.readers {
		if r == reader {
			return
		}
	}
	a.readers = append(a.readers, reader)
}

func (a *Analyzer) analyzeBlock(b *DataBlock) {
	access := BlockAccess{DEKIndex: -1}
	if idx, ok := b.DEKIndex(); ok {
		access = BlockAccess{Deciphered: true, DEKIndex: idx}
		a.clearBytes += int64(b.Size())
	}
	a.totalBytes += int64(b.Size())
	a.blocks = append(a.blocks, access)
}

// Report is the analyzer's summary of one processed container.
type Report struct {
	// Header holds one entry per header packet in container order.
	Header []PacketAccess

	// Readers holds the distinct reader keys that decrypted at least one
	// packet, in first-use order.
	Readers [][keys.KeySize]byte

	// Blocks holds one entry per data block in stream order.
	Blocks []BlockAccess

	// TotalSize and ClearSize are the cleartext byte totals of all blocks
	// and of the deciphered blocks.
	TotalSize int64
	ClearSize int64
}

// Report returns the findings accumulated so far.
func (a *Analyzer) Report() *Report {
	return &Report{
		Header:    append([]PacketAccess(nil), a.packets...),
		Readers:   append([][keys.KeySize]byte(nil), a.readers...),
		Blocks:    append([]BlockAccess(nil), a.blocks...),
		TotalSize: a.totalBytes,
		ClearSize: a.clearBytes,
	}
}

// String renders a short human-readable summary.
func (r *Report) String() string {
	readable := 0
	for _, p := range r.Header {
		if p.Readable {
			readable++
		}
	}
	deciphered := 0
	for _, b := range r.Blocks {
		if b.Deciphered {
			deciphered++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "packets: %d/%d readable, readers: %d\n",
		readable, len(r.Header), len(r.Readers))
	fmt.Fprintf(&sb, "blocks: %d/%d deciphered, %s of %s recovered",
		deciphered, len(r.Blocks),
		humanize.IBytes(uint64(r.ClearSize)), humanize.IBytes(uint64(r.TotalSize)))
	return sb.String()
}
