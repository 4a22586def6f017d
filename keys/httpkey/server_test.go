package httpkey

import (
	"bytes"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seqvault/crypt4gh/keys"
)

func testServer(t *testing.T, opts ...ServerOption) (*Server, *keys.SoftwareKey) {
	t.Helper()
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	server, err := NewServer(map[string]keys.Key{"alice": soft}, "keys", "x25519", opts...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return server, soft
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Success(t *testing.T) {
	server, soft := testServer(t)

	point := hex.EncodeToString(keys.BasePoint[:])
	rec := get(t, server, "/keys/alice/x25519/"+point)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %q", ct)
	}

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if len(body) != keys.KeySize {
		t.Fatalf("body length = %d, want %d", len(body), keys.KeySize)
	}

	// ECDH of the base point is the public key.
	softPub, _ := soft.PublicKey()
	if string(body) != string(softPub[:]) {
		t.Error("served point is not the public key")
	}
}

func TestServer_NotFoundCases(t *testing.T) {
	server, _ := testServer(t)
	point := hex.EncodeToString(keys.BasePoint[:])

	paths := []struct {
		name string
		path string
	}{
		{"wrong prefix", "/nope/alice/x25519/" + point},
		{"missing prefix", "/alice/x25519/" + point},
		{"unknown key", "/keys/bob/x25519/" + point},
		{"wrong suffix", "/keys/alice/ed25519/" + point},
		{"missing point", "/keys/alice/x25519"},
		{"short point", "/keys/alice/x25519/" + point[:62]},
		{"long point", "/keys/alice/x25519/" + point + "ff"},
		{"not hex", "/keys/alice/x25519/" + "zz" + point[2:]},
		{"extra segment", "/keys/alice/x25519/" + point + "/more"},
	}
	for _, tc := range paths {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, server, tc.path)
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("404 body should be empty, got %d bytes", rec.Body.Len())
			}
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server, _ := testServer(t)
	point := hex.EncodeToString(keys.BasePoint[:])

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/alice/x25519/"+point, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_EmptyPrefixAndSuffix(t *testing.T) {
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	server, err := NewServer(map[string]keys.Key{"k": soft}, "", "")
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	point := hex.EncodeToString(keys.BasePoint[:])
	if rec := get(t, server, "/k/"+point); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestServer_RateLimit(t *testing.T) {
	server, _ := testServer(t, WithRateLimit(1e-9, 1))
	point := hex.EncodeToString(keys.BasePoint[:])

	if rec := get(t, server, "/keys/alice/x25519/"+point); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	// The burst is spent and the refill rate is negligible.
	if rec := get(t, server, "/keys/alice/x25519/"+point); rec.Code != http.StatusNotFound {
		t.Errorf("second request status = %d, want 404", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	server, _ := testServer(t, WithMetrics(NewMetrics(reg)))

	point := hex.EncodeToString(keys.BasePoint[:])
	get(t, server, "/keys/alice/x25519/"+point)
	get(t, server, "/keys/unknown/x25519/"+point)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "crypt4gh_keyserver_requests_total" {
			found = true
			var total float64
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			if total != 2 {
				t.Errorf("requests_total = %v, want 2", total)
			}
		}
	}
	if !found {
		t.Error("requests_total metric not registered")
	}
}

func TestServer_RequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "debug"}.newLogger(&buf)
	server, _ := testServer(t, WithLogger(logger))

	point := hex.EncodeToString(keys.BasePoint[:])
	get(t, server, "/keys/alice/x25519/"+point)
	if !strings.Contains(buf.String(), "key_id=alice") {
		t.Errorf("served request not logged: %s", buf.String())
	}

	buf.Reset()
	get(t, server, "/keys/unknown/x25519/"+point)
	if !strings.Contains(buf.String(), "outcome=unknown_key") {
		t.Errorf("rejected request not logged: %s", buf.String())
	}
}

func TestNewServer_RejectsPublicOnly(t *testing.T) {
	soft, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	pub, _ := soft.PublicKey()

	if _, err := NewServer(map[string]keys.Key{"half": keys.NewPublicOnly(pub)}, "", "x25519"); err == nil {
		t.Error("NewServer() accepted a key that cannot compute ECDH")
	}
}
