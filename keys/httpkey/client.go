// Package httpkey implements the Crypt4GH key network protocol: a client
// that delegates the ECDH computation to a remote holder of the private key
// over plain HTTP, and a path-based server that exposes named keys to such
// clients.
//
// The protocol is one round-trip: GET <base>/<hex public point> answers 200
// with a 32-byte octet-stream body carrying the multiplied point, and an
// empty 404 for every failure.
package httpkey

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/seqvault/crypt4gh/keys"
)

// Client is a Crypt4GH key whose private scalar lives behind a key server.
type Client struct {
	*keys.ExternalKey

	baseURL string
	hc      *http.Client
}

// NewClient validates the base URL and constructs the key. The public key
// is obtained lazily by requesting the ECDH of the X25519 base point, so no
// out-of-band public key distribution is needed.
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid key server URL: %v", keys.ErrKey, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("%w: only plain http URLs are accepted, got %q", keys.ErrKey, u.Scheme)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	c := &Client{baseURL: baseURL, hc: &http.Client{}}
	c.ExternalKey = keys.NewExternalKey(c.computeECDH)
	return c, nil
}

// computeECDH performs the protocol round-trip for one public point.
func (c *Client) computeECDH(point [keys.KeySize]byte) ([keys.KeySize]byte, error) {
	var result [keys.KeySize]byte

	resp, err := c.hc.Get(c.baseURL + hex.EncodeToString(point[:]))
	if err != nil {
		return result, fmt.Errorf("%w: key server request: %v", keys.ErrKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("%w: key server answered %s", keys.ErrKey, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, keys.KeySize+1))
	if err != nil {
		return result, fmt.Errorf("%w: key server response: %v", keys.ErrKey, err)
	}
	if len(body) != keys.KeySize {
		return result, fmt.Errorf("%w: key server returned %d bytes, want %d", keys.ErrKey, len(body), keys.KeySize)
	}
	copy(result[:], body)
	return result, nil
}

// BaseURL returns the normalised server URL this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}
