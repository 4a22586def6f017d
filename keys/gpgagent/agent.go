// Package gpgagent provides a Crypt4GH key backed by a private key held in
// a running gpg-agent, typically on an OpenPGP card. The agent is spoken to
// over its UNIX socket with the Assuan line protocol; one short-lived
// connection is opened per operation and closed on every exit path.
//
// The key never leaves the agent: only the finished ECDH point crosses the
// socket, and the Crypt4GH symmetric key derivation happens locally.
package gpgagent

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/seqvault/crypt4gh/keys"
)

const keygripSize = 20

// Config selects the agent socket and optionally a specific key.
type Config struct {
	// SocketPath is the explicit path to the agent socket. When empty the
	// path is computed from HomeDir and the per-user runtime directory.
	SocketPath string

	// HomeDir is the gnupg home directory backing the agent. Only used
	// when SocketPath is empty.
	HomeDir string

	// Keygrip restricts the key lookup to one keygrip, in hex. When empty
	// the first Curve25519 key the agent reports is used.
	Keygrip string
}

// AgentKey is a Crypt4GH key whose ECDH computation is delegated to a
// gpg-agent.
type AgentKey struct {
	*keys.ExternalKey

	socketPath string
	reqKeygrip string

	mu      sync.Mutex
	keygrip []byte // hex form used on the wire, set by readPublicKey
}

// New verifies that the agent socket exists and constructs the key. No
// connection is made yet; the public key is fetched on first use.
func New(cfg Config) (*AgentKey, error) {
	path := cfg.SocketPath
	if path == "" {
		var err error
		path, err = SocketPath(cfg.HomeDir)
		if err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, agentError("socket %s does not exist", path)
	}

	k := &AgentKey{
		socketPath: path,
		reqKeygrip: strings.ToUpper(cfg.Keygrip),
	}
	k.ExternalKey = keys.NewExternalKeyFunc(k.readPublicKey, k.computeECDH)
	return k, nil
}

// readPublicKey asks the agent for its keygrips and reads key descriptions
// until a Curve25519 key (or the requested keygrip) is found. The public
// key is the X coordinate of the q value, behind its compression byte.
func (k *AgentKey) readPublicKey() ([keys.KeySize]byte, error) {
	var pub [keys.KeySize]byte

	c, err := dialAgent(k.socketPath)
	if err != nil {
		return pub, err
	}
	defer c.Close()
	if err := c.expectOK(); err != nil {
		return pub, err
	}

	grips, err := c.request("HAVEKEY --list=1000")
	if err != nil {
		return pub, err
	}
	if len(grips) == 0 || len(grips)%keygripSize != 0 {
		return pub, agentError("invalid keygrips data length: %d", len(grips))
	}

	for idx := 0; idx < len(grips); idx += keygripSize {
		grip := []byte(strings.ToUpper(hex.EncodeToString(grips[idx : idx+keygripSize])))
		if k.reqKeygrip != "" && k.reqKeygrip != string(grip) {
			continue
		}

		reply, err := c.request("READKEY " + string(grip))
		if err != nil {
			return pub, err
		}
		q, ok := publicPointFromSexp(reply)
		if !ok {
			continue
		}

		copy(pub[:], q)
		k.mu.Lock()
		k.keygrip = grip
		k.mu.Unlock()
		return pub, nil
	}
	return pub, agentError("cannot determine public key")
}

// publicPointFromSexp extracts the 32-byte X coordinate from a READKEY
// reply of shape (public-key (ecc (curve Curve25519) ... (q <0x40||x>) ...)).
func publicPointFromSexp(data []byte) ([]byte, bool) {
	node, err := ParseSexp(data)
	if err != nil || len(node.Items) < 2 {
		return nil, false
	}
	if !bytes.Equal(node.Atom(0), []byte("public-key")) {
		return nil, false
	}
	ecc := node.Items[1]
	if ecc.IsAtom() || !bytes.Equal(ecc.Atom(0), []byte("ecc")) {
		return nil, false
	}
	curve := ecc.Child("curve")
	q := ecc.Child("q")
	if curve == nil || !bytes.Equal(curve.Atom(1), []byte("Curve25519")) || q == nil {
		return nil, false
	}
	point := q.Atom(1)
	if len(point) != keys.KeySize+1 {
		return nil, false
	}
	return point[1:], true
}

// computeECDH has the agent multiply the given public point by its private
// scalar. The point travels in an enc-val ecdh S-expression with a leading
// 0x40 compression byte; the reply point carries the same prefix, which is
// stripped.
func (k *AgentKey) computeECDH(point [keys.KeySize]byte) ([keys.KeySize]byte, error) {
	var result [keys.KeySize]byte

	// The keygrip is established as a side effect of the public key lookup.
	if _, err := k.PublicKey(); err != nil {
		return result, err
	}
	k.mu.Lock()
	grip := k.keygrip
	k.mu.Unlock()

	c, err := dialAgent(k.socketPath)
	if err != nil {
		return result, err
	}
	defer c.Close()
	if err := c.expectOK(); err != nil {
		return result, err
	}

	if _, err := c.request("SETKEY " + string(grip)); err != nil {
		return result, err
	}
	if err := c.writeLine([]byte("PKDECRYPT")); err != nil {
		return result, err
	}
	if err := c.readUntilInquire(); err != nil {
		return result, err
	}

	var cmd bytes.Buffer
	cmd.WriteString("D (7:enc-val(4:ecdh(1:e33:@")
	cmd.Write(encodeAssuan(point[:]))
	cmd.WriteString(")))")
	if err := c.writeLine(cmd.Bytes()); err != nil {
		return result, err
	}
	if err := c.writeLine([]byte("END")); err != nil {
		return result, err
	}

	reply, err := c.readData()
	if err != nil {
		return result, err
	}
	node, err := ParseSexp(reply)
	if err != nil {
		return result, err
	}
	value := node.Atom(1)
	if len(value) != keys.KeySize+1 {
		return result, agentError("unexpected ECDH result length %d", len(value))
	}
	copy(result[:], value[1:])
	return result, nil
}

// Keygrip returns the hex keygrip of the selected key once known.
func (k *AgentKey) Keygrip() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return string(k.keygrip)
}

// String identifies the key for logs without exposing material.
func (k *AgentKey) String() string {
	return fmt.Sprintf("gpg-agent key at %s", k.socketPath)
}
