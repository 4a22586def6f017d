package crypt4gh

import (
	"bytes"
	"testing"
)

func TestWrite_Preamble(t *testing.T) {
	data := mustHex(t, helloWorldEncryptedHex)
	c, err := NewWithKey(bytes.NewReader(data), aliceKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out bytes.Buffer
	if err := Write(&out, c); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := []byte("crypt4gh\x01\x00\x00\x00\x01\x00\x00\x00")
	if got := out.Bytes()[:16]; !bytes.Equal(got, want) {
		t.Errorf("preamble = %x, want %x", got, want)
	}
}

func TestWrite_Cycle(t *testing.T) {
	data := mustHex(t, helloWorldEncryptedHex)
	c, err := NewWithKey(bytes.NewReader(data), aliceKey(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out bytes.Buffer
	if err := Write(&out, c); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Error("serialised container differs from input")
	}

	// The written bytes parse again with the same key.
	reopened, err := NewWithKey(bytes.NewReader(out.Bytes()), aliceKey(t))
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	it, err := reopened.Blocks()
	if err != nil {
		t.Fatalf("Blocks() error = %v", err)
	}
	blocks := drain(t, it)
	if len(blocks) != 1 || !blocks[0].IsDeciphered() {
		t.Error("write cycle lost the data block")
	}
}
