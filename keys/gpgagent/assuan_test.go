package gpgagent

import (
	"bytes"
	"testing"
)

func TestAssuanEscapeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"plain", []byte("hello")},
		{"newline", []byte("a\nb")},
		{"carriage return", []byte("a\rb")},
		{"percent", []byte("100%")},
		{"all escapes", []byte("%\r\n%%\n\r")},
		{"binary", []byte{0x00, 0x0a, 0x0d, 0x25, 0xff, 0x40}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := encodeAssuan(tc.data)
			if bytes.ContainsAny(encoded, "\r\n") {
				t.Errorf("encoded form contains raw line breaks: %q", encoded)
			}
			decoded, err := decodeAssuan(encoded)
			if err != nil {
				t.Fatalf("decodeAssuan() error = %v", err)
			}
			if !bytes.Equal(decoded, tc.data) {
				t.Errorf("round trip = %x, want %x", decoded, tc.data)
			}
		})
	}
}

func TestDecodeAssuan_KnownEscapes(t *testing.T) {
	decoded, err := decodeAssuan([]byte("a%0Ab%0Dc%25d"))
	if err != nil {
		t.Fatalf("decodeAssuan() error = %v", err)
	}
	if !bytes.Equal(decoded, []byte("a\nb\rc%d")) {
		t.Errorf("decoded = %q", decoded)
	}
}

func TestDecodeAssuan_Malformed(t *testing.T) {
	for _, input := range []string{"%", "%0", "%zz"} {
		if _, err := decodeAssuan([]byte(input)); err == nil {
			t.Errorf("decodeAssuan(%q) expected error", input)
		}
	}
}
