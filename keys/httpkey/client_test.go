package httpkey

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seqvault/crypt4gh/keys"
)

func softwareServer(t *testing.T, soft *keys.SoftwareKey, prefix, suffix string) *httptest.Server {
	t.Helper()
	server, err := NewServer(map[string]keys.Key{"testkey": soft}, prefix, suffix)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_PublicKey(t *testing.T) {
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	ts := softwareServer(t, soft, "", "x25519")

	client, err := NewClient(ts.URL + "/testkey/x25519")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	pub, err := client.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	softPub, _ := soft.PublicKey()
	if pub != softPub {
		t.Errorf("remote public key = %x, want %x", pub, softPub)
	}
}

func TestClient_DeriveMatchesSoftware(t *testing.T) {
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	ts := softwareServer(t, soft, "keys", "x25519")

	client, err := NewClient(ts.URL + "/keys/testkey/x25519/")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	peer, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	peerPub, _ := peer.PublicKey()

	want, err := soft.DeriveRead(peerPub)
	if err != nil {
		t.Fatalf("software DeriveRead() error = %v", err)
	}
	got, err := client.DeriveRead(peerPub)
	if err != nil {
		t.Fatalf("client DeriveRead() error = %v", err)
	}
	if got != want {
		t.Error("remote read key differs from software key")
	}
}

func TestNewClient_RejectsNonHTTP(t *testing.T) {
	for _, url := range []string{"https://keys.example.org/k", "ftp://x", "not a url ://"} {
		if _, err := NewClient(url); !errors.Is(err, keys.ErrKey) {
			t.Errorf("NewClient(%q) error = %v, want ErrKey kind", url, err)
		}
	}
}

func TestClient_ServerFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"short body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("short"))
		}},
		{"long body", func(w http.ResponseWriter, r *http.Request) {
			w.Write(make([]byte, 64))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(tc.handler)
			defer ts.Close()

			client, err := NewClient(ts.URL)
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if _, err := client.ComputeECDH(keys.BasePoint); !errors.Is(err, keys.ErrKey) {
				t.Errorf("ComputeECDH() error = %v, want ErrKey kind", err)
			}
		})
	}
}

func TestClient_TrailingSlashAdded(t *testing.T) {
	client, err := NewClient("http://keys.example.org/alice/x25519")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if got := client.BaseURL(); got != "http://keys.example.org/alice/x25519/" {
		t.Errorf("BaseURL() = %q", got)
	}
}
