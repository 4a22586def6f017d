package gpgagent

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seqvault/crypt4gh/keys"
)

// fakeAgent speaks just enough Assuan to stand in for a gpg-agent holding
// one Curve25519 key.
type fakeAgent struct {
	key     *keys.ExternalKey
	pub     [keys.KeySize]byte
	grip    [20]byte
	failCmd string // command answered with ERR, for failure tests
}

func startFakeAgent(t *testing.T, soft *keys.SoftwareKey, failCmd string) string {
	t.Helper()

	external, err := keys.WrapSoftware(soft)
	if err != nil {
		t.Fatalf("WrapSoftware() error = %v", err)
	}
	pub, err := soft.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}

	agent := &fakeAgent{key: external, pub: pub, grip: sha1.Sum(pub[:]), failCmd: failCmd}

	path := filepath.Join(t.TempDir(), "S.gpg-agent")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listening on %s: %v", path, err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go agent.serve(nc)
		}
	}()
	return path
}

func (a *fakeAgent) serve(nc net.Conn) {
	defer nc.Close()
	br := bufio.NewReader(nc)
	fmt.Fprintf(nc, "OK Pleased to meet you\n")

	var point [keys.KeySize]byte
	for {
		raw, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line := strings.TrimRight(raw, "\n")
		cmd := strings.SplitN(line, " ", 2)[0]
		if a.failCmd != "" && cmd == a.failCmd {
			fmt.Fprintf(nc, "ERR 67108881 No secret key <gpg-agent>\n")
			continue
		}

		switch cmd {
		case "HAVEKEY":
			fmt.Fprintf(nc, "D %s\nOK\n", encodeAssuan(a.grip[:]))
		case "READKEY":
			if !strings.EqualFold(strings.TrimPrefix(line, "READKEY "), hex.EncodeToString(a.grip[:])) {
				fmt.Fprintf(nc, "ERR 67108891 Not found <gpg-agent>\n")
				continue
			}
			q := append([]byte{0x40}, a.pub[:]...)
			sexp := fmt.Sprintf("(10:public-key(3:ecc(5:curve10:Curve25519)(1:q%d:%s)))", len(q), q)
			fmt.Fprintf(nc, "D %s\nOK\n", encodeAssuan([]byte(sexp)))
		case "SETKEY":
			fmt.Fprintf(nc, "OK\n")
		case "PKDECRYPT":
			fmt.Fprintf(nc, "S INQUIRE_MAXLEN 4096\nINQUIRE CIPHERTEXT\n")
		case "D":
			payload, err := decodeAssuan([]byte(line[2:]))
			if err != nil {
				fmt.Fprintf(nc, "ERR 1 bad data <fake>\n")
				continue
			}
			node, err := ParseSexp(payload)
			if err != nil || len(node.Items) < 2 {
				fmt.Fprintf(nc, "ERR 1 bad sexp <fake>\n")
				continue
			}
			// (enc-val (ecdh (e <0x40||point>)))
			e := node.Items[1].Items[1]
			copy(point[:], e.Atom(1)[1:])
		case "END":
			result, err := a.key.ComputeECDH(point)
			if err != nil {
				fmt.Fprintf(nc, "ERR 1 ecdh failed <fake>\n")
				continue
			}
			value := append([]byte{0x40}, result[:]...)
			sexp := fmt.Sprintf("(5:value%d:%s)", len(value), value)
			fmt.Fprintf(nc, "D %s\nOK\n", encodeAssuan([]byte(sexp)))
		case "BYE":
			fmt.Fprintf(nc, "OK closing connection\n")
			return
		default:
			fmt.Fprintf(nc, "ERR 536871187 Unknown IPC command <fake>\n")
		}
	}
}

func TestAgentKey_PublicKey(t *testing.T) {
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	path := startFakeAgent(t, soft, "")

	agent, err := New(Config{SocketPath: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	pub, err := agent.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	softPub, _ := soft.PublicKey()
	if pub != softPub {
		t.Errorf("agent public key = %x, want %x", pub, softPub)
	}
	if agent.Keygrip() == "" {
		t.Error("keygrip not recorded")
	}
}

func TestAgentKey_DeriveMatchesSoftware(t *testing.T) {
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	path := startFakeAgent(t, soft, "")
	agent, err := New(Config{SocketPath: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	peer, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	peerPub, _ := peer.PublicKey()

	softRead, err := soft.DeriveRead(peerPub)
	if err != nil {
		t.Fatalf("software DeriveRead() error = %v", err)
	}
	agentRead, err := agent.DeriveRead(peerPub)
	if err != nil {
		t.Fatalf("agent DeriveRead() error = %v", err)
	}
	if softRead != agentRead {
		t.Error("agent-backed read key differs from software key")
	}

	softWrite, err := soft.DeriveWrite(peerPub)
	if err != nil {
		t.Fatalf("software DeriveWrite() error = %v", err)
	}
	agentWrite, err := agent.DeriveWrite(peerPub)
	if err != nil {
		t.Fatalf("agent DeriveWrite() error = %v", err)
	}
	if softWrite != agentWrite {
		t.Error("agent-backed write key differs from software key")
	}
}

func TestAgentKey_RequestedKeygrip(t *testing.T) {
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	pub, _ := soft.PublicKey()
	grip := sha1.Sum(pub[:])
	path := startFakeAgent(t, soft, "")

	agent, err := New(Config{SocketPath: path, Keygrip: hex.EncodeToString(grip[:])})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := agent.PublicKey(); err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}

	// A keygrip the agent does not hold yields no key.
	other, err := New(Config{SocketPath: path, Keygrip: strings.Repeat("AB", 20)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := other.PublicKey(); !errors.Is(err, keys.ErrKey) {
		t.Errorf("PublicKey() error = %v, want ErrKey kind", err)
	}
}

func TestAgentKey_AgentError(t *testing.T) {
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	path := startFakeAgent(t, soft, "SETKEY")
	agent, err := New(Config{SocketPath: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	peerPub := keys.BasePoint
	_, err = agent.DeriveRead(peerPub)
	if !errors.Is(err, keys.ErrKey) {
		t.Fatalf("DeriveRead() error = %v, want ErrKey kind", err)
	}
	if !strings.Contains(err.Error(), "No secret key") {
		t.Errorf("agent text missing from error: %v", err)
	}
}

func TestNew_MissingSocket(t *testing.T) {
	_, err := New(Config{SocketPath: filepath.Join(t.TempDir(), "absent")})
	if !errors.Is(err, keys.ErrKey) {
		t.Errorf("New() error = %v, want ErrKey kind", err)
	}
}
