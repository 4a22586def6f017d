package keys

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/dchest/bcrypt_pbkdf"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Envelope labels of the Crypt4GH native key format.
const (
	LabelPublicKey           = "CRYPT4GH PUBLIC KEY"
	LabelPrivateKey          = "CRYPT4GH PRIVATE KEY"
	LabelEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
)

// c4ghMagic opens the binary layout of every private key payload.
const c4ghMagic = "c4gh-v1"

// Supported KDF names of the private key format.
const (
	kdfNone   = "none"
	kdfScrypt = "scrypt"
	kdfBcrypt = "bcrypt"
	kdfPBKDF2 = "pbkdf2_hmac_sha256"
)

const (
	cipherNone             = "none"
	cipherChaCha20Poly1305 = "chacha20_poly1305"
)

// DecodeEnvelope reads a PEM-like ASCII envelope and returns its label and
// Base64-decoded payload. Blank lines and CR/LF line endings are tolerated;
// the BEGIN and END labels must agree.
func DecodeEnvelope(r io.Reader) (string, []byte, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, wrapKeyError(err, "reading envelope")
	}

	if len(lines) < 3 {
		return "", nil, keyError("envelope needs at least 3 lines, got %d", len(lines))
	}
	first, last := lines[0], lines[len(lines)-1]
	if !strings.HasPrefix(first, "-----BEGIN ") || !strings.HasSuffix(first, "-----") {
		return "", nil, keyError("envelope must start with a BEGIN line")
	}
	if !strings.HasPrefix(last, "-----END ") || !strings.HasSuffix(last, "-----") {
		return "", nil, keyError("envelope must end with an END line")
	}
	beginLabel := strings.TrimSuffix(strings.TrimPrefix(first, "-----BEGIN "), "-----")
	endLabel := strings.TrimSuffix(strings.TrimPrefix(last, "-----END "), "-----")
	if beginLabel != endLabel {
		return "", nil, keyError("BEGIN label %q does not match END label %q", beginLabel, endLabel)
	}

	data, err := base64.StdEncoding.DecodeString(strings.Join(lines[1:len(lines)-1], ""))
	if err != nil {
		return "", nil, wrapKeyError(err, "envelope payload")
	}
	return beginLabel, data, nil
}

// EncodeEnvelope writes the PEM-like ASCII envelope with the given label and
// payload, wrapping the Base64 content at 64 columns.
func EncodeEnvelope(w io.Writer, label string, data []byte) error {
	b64 := base64.StdEncoding.EncodeToString(data)
	var sb strings.Builder
	sb.WriteString("-----BEGIN " + label + "-----\n")
	for len(b64) > 64 {
		sb.WriteString(b64[:64] + "\n")
		b64 = b64[64:]
	}
	sb.WriteString(b64 + "\n")
	sb.WriteString("-----END " + label + "-----\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// WritePublicKey serialises the public half of any key as a CRYPT4GH PUBLIC
// KEY envelope. This allows exporting keys whose private half lives
// elsewhere (an agent, a remote server) for use by encrypting clients.
func WritePublicKey(w io.Writer, k Key) error {
	pub, err := k.PublicKey()
	if err != nil {
		return err
	}
	return EncodeEnvelope(w, LabelPublicKey, pub[:])
}

// LoadKeyFile opens the named file and loads the Crypt4GH key stored in it.
func LoadKeyFile(name string, cb PassphraseCallback) (*SoftwareKey, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, wrapKeyError(err, "opening key file")
	}
	defer f.Close()
	return LoadKey(f, cb)
}

// LoadKeyBytes loads a Crypt4GH key from the complete key file contents.
func LoadKeyBytes(contents []byte, cb PassphraseCallback) (*SoftwareKey, error) {
	return LoadKey(bytes.NewReader(contents), cb)
}

// LoadKey parses a Crypt4GH native key file from the stream. Public key
// files yield a public-only key; private key files yield a full key,
// invoking the passphrase callback only when the payload is sealed.
func LoadKey(r io.Reader, cb PassphraseCallback) (*SoftwareKey, error) {
	label, data, err := DecodeEnvelope(r)
	if err != nil {
		return nil, err
	}

	if label == LabelPublicKey {
		if len(data) != KeySize {
			return nil, keyError("public key must be %d bytes, got %d", KeySize, len(data))
		}
		var pub [KeySize]byte
		copy(pub[:], data)
		return NewPublicOnly(pub), nil
	}
	return parsePrivateKey(data, cb)
}

// parsePrivateKey decodes the binary private key layout: the c4gh-v1 magic,
// the KDF name and options, the cipher name and the (possibly sealed) key
// payload. All strings are 2-byte big-endian length prefixed.
func parsePrivateKey(data []byte, cb PassphraseCallback) (*SoftwareKey, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(c4ghMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != c4ghMagic {
		return nil, keyError("not a Crypt4GH private key")
	}

	kdfName, err := readString16(r, "kdf name")
	if err != nil {
		return nil, err
	}
	var (
		rounds uint32
		salt   []byte
	)
	switch string(kdfName) {
	case kdfNone:
	case kdfScrypt, kdfBcrypt, kdfPBKDF2:
		options, err := readString16(r, "kdf options")
		if err != nil {
			return nil, err
		}
		if len(options) < 4 {
			return nil, keyError("kdf options too short: %d bytes", len(options))
		}
		rounds = binary.BigEndian.Uint32(options[:4])
		salt = options[4:]
	default:
		return nil, keyError("unsupported KDF %q", kdfName)
	}

	cipherName, err := readString16(r, "cipher name")
	if err != nil {
		return nil, err
	}
	payload, err := readString16(r, "key payload")
	if err != nil {
		return nil, err
	}

	if string(cipherName) == cipherNone {
		return newPrivateFromBytes(payload)
	}
	if string(cipherName) != cipherChaCha20Poly1305 {
		return nil, keyError("unsupported key cipher %q", cipherName)
	}
	if len(payload) < NonceSize+TagSize {
		return nil, keyError("sealed key payload too short: %d bytes", len(payload))
	}
	if cb == nil {
		return nil, keyError("key is passphrase-protected and no passphrase callback was provided")
	}
	passphrase, err := cb()
	if err != nil {
		return nil, wrapKeyError(err, "obtaining passphrase")
	}

	symmetric, err := deriveKeyFileKey(string(kdfName), []byte(passphrase), salt, int(rounds))
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(symmetric)

	aead, err := chacha20poly1305.New(symmetric)
	if err != nil {
		return nil, wrapKeyError(err, "creating cipher")
	}
	secret, err := aead.Open(nil, payload[:NonceSize], payload[NonceSize:], nil)
	if err != nil {
		return nil, keyError("cannot decrypt private key (wrong passphrase?)")
	}
	defer ZeroBytes(secret)

	return newPrivateFromBytes(secret)
}

// deriveKeyFileKey runs the named KDF over the passphrase. Parameters follow
// the reference format: scrypt is fixed at N=2^14, r=8, p=1; bcrypt and
// pbkdf2 take the stored round count. All produce 32 bytes.
func deriveKeyFileKey(kdf string, passphrase, salt []byte, rounds int) ([]byte, error) {
	switch kdf {
	case kdfScrypt:
		key, err := scrypt.Key(passphrase, salt, 1<<14, 8, 1, KeySize)
		if err != nil {
			return nil, wrapKeyError(err, "scrypt")
		}
		return key, nil
	case kdfBcrypt:
		key, err := bcrypt_pbkdf.Key(passphrase, salt, rounds, KeySize)
		if err != nil {
			return nil, wrapKeyError(err, "bcrypt kdf")
		}
		return key, nil
	case kdfPBKDF2:
		return pbkdf2.Key(passphrase, salt, rounds, KeySize, sha256.New), nil
	}
	return nil, keyError("unsupported KDF %q", kdf)
}

func newPrivateFromBytes(secret []byte) (*SoftwareKey, error) {
	if len(secret) != KeySize {
		return nil, keyError("private key must be %d bytes, got %d", KeySize, len(secret))
	}
	var private [KeySize]byte
	copy(private[:], secret)
	return NewSoftwareKey(private)
}

// readString16 decodes a binary string stored as a 2-byte big-endian length
// followed by that many bytes.
func readString16(r *bytes.Reader, name string) ([]byte, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, keyError("short read of %s length", name)
	}
	s := make([]byte, length)
	if _, err := io.ReadFull(r, s); err != nil {
		return nil, keyError("short read of %s: want %d bytes", name, length)
	}
	return s, nil
}
