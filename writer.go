package crypt4gh

import (
	"fmt"
	"io"
)

// Write serialises a container source back to the wire format: magic,
// version and packet count as little-endian uint32, then every packet's
// raw bytes, then every data block's raw bytes, both in order. Writing
// consumes the source's block stream.
func Write(w io.Writer, src Source) error {
	header := src.Header()
	packets, err := header.Packets()
	if err != nil {
		return err
	}

	magic := header.Magic()
	preamble := make([]byte, 0, MagicSize+8)
	preamble = append(preamble, magic[:]...)
	preamble = putLEUint32(preamble, header.Version())
	preamble = putLEUint32(preamble, uint32(len(packets)))
	if _, err := w.Write(preamble); err != nil {
		return fmt.Errorf("writing preamble: %w", err)
	}

	for _, p := range packets {
		if _, err := w.Write(p.Raw()); err != nil {
			return fmt.Errorf("writing header packet: %w", err)
		}
	}

	blocks, err := src.Blocks()
	if err != nil {
		return err
	}
	for {
		block, err := blocks.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(block.Raw()); err != nil {
			return fmt.Errorf("writing data block: %w", err)
		}
	}
}
