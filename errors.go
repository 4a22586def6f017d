package crypt4gh

import (
	"errors"
	"fmt"
)

// The error taxonomy is shallow: every failure belongs to one of a handful
// of kinds, each carried as a sentinel whose text doubles as the machine
// code. Failed decryption attempts while trying keys or DEKs are not
// errors; only structural problems raise.
var (
	// ErrHeader reports a malformed container preamble: bad magic, bad
	// version or an unreadable packet count.
	ErrHeader = errors.New("HEADER")

	// ErrDEK reports a structurally invalid Data Encryption Key.
	ErrDEK = errors.New("DEK")

	// ErrProcessed reports an attempt to take the single-use data block
	// stream a second time.
	ErrProcessed = errors.New("PROCESSED")
)

// ErrHeaderPacket reports an individual header packet that is malformed or
// wrongly sealed. It is a sub-kind of ErrHeader: errors.Is also matches
// ErrHeader for these failures.
var ErrHeaderPacket error = headerPacketSentinel{}

type headerPacketSentinel struct{}

func (headerPacketSentinel) Error() string { return "HEADERPACKET" }

func (headerPacketSentinel) Is(target error) bool { return target == ErrHeader }

func headerError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrHeader, fmt.Sprintf(format, args...))
}

func packetError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrHeaderPacket, fmt.Sprintf(format, args...))
}

func dekError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDEK, fmt.Sprintf(format, args...))
}
