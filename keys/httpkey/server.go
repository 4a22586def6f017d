package httpkey

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/seqvault/crypt4gh/keys"
)

// Attribute keys of request log records.
const (
	logKeyID      = "key_id"
	logOutcome    = "outcome"
	logPath       = "path"
	logRemoteAddr = "remote_addr"
	logError      = "error"
)

// Server dispatches key protocol requests of the form
// <prefix>/<key-id>/<suffix>/<hex-point> to a named key. Path segments are
// matched exactly; the point must be exactly 64 hex characters. Every
// failure renders an empty 404 - the protocol deliberately does not
// distinguish failure causes to outsiders.
type Server struct {
	prefix  []string
	suffix  []string
	mapping map[string]keys.ECDHKey

	logger  *slog.Logger
	metrics *Metrics
	limiter *rate.Limiter
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithLogger attaches a structured logger for request logging.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit bounds the accepted request rate. Requests over the limit
// are answered 404 like every other failure.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewServer builds a server over a name-to-key mapping. Software keys are
// wrapped into external keys for uniformity; production deployments should
// register real external keys so the private scalar stays out of process.
func NewServer(mapping map[string]keys.Key, prefix, suffix string, opts ...ServerOption) (*Server, error) {
	s := &Server{
		prefix:  splitPath(prefix),
		suffix:  splitPath(suffix),
		mapping: make(map[string]keys.ECDHKey, len(mapping)),
		logger:  slog.New(slog.DiscardHandler),
	}
	for name, k := range mapping {
		switch key := k.(type) {
		case keys.ECDHKey:
			s.mapping[name] = key
		case *keys.SoftwareKey:
			wrapped, err := keys.WrapSoftware(key)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", name, err)
			}
			s.mapping[name] = wrapped
		default:
			return nil, fmt.Errorf("key %q cannot compute ECDH", name)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.reject(w, r, "rate_limited")
		return
	}
	if r.Method != http.MethodGet {
		s.reject(w, r, "bad_method")
		return
	}

	name, point, ok := s.matchPath(r.URL.Path)
	if !ok {
		s.reject(w, r, "bad_path")
		return
	}
	key, ok := s.mapping[name]
	if !ok {
		s.reject(w, r, "unknown_key")
		return
	}

	start := time.Now()
	result, err := key.ComputeECDH(point)
	if s.metrics != nil {
		s.metrics.ECDHDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.Warn("ecdh computation failed",
			logKeyID, name, logError, err.Error())
		s.reject(w, r, "ecdh_failed")
		return
	}

	if s.metrics != nil {
		s.metrics.Requests.WithLabelValues("ok").Inc()
	}
	s.logger.Debug("served key request",
		logKeyID, name, logRemoteAddr, r.RemoteAddr)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(result[:])
}

// reject renders the uniform empty 404.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, outcome string) {
	if s.metrics != nil {
		s.metrics.Requests.WithLabelValues(outcome).Inc()
	}
	s.logger.Debug("rejected key request",
		logOutcome, outcome,
		logPath, r.URL.Path,
		logRemoteAddr, r.RemoteAddr)
	w.WriteHeader(http.StatusNotFound)
}

// matchPath checks the request path against <prefix>/<key-id>/<suffix> and
// returns the key name and the decoded public point.
func (s *Server) matchPath(path string) (string, [keys.KeySize]byte, bool) {
	var point [keys.KeySize]byte

	if !strings.HasPrefix(path, "/") {
		return "", point, false
	}
	segments := splitPath(path)

	if len(segments) != len(s.prefix)+1+len(s.suffix)+1 {
		return "", point, false
	}
	for i, p := range s.prefix {
		if segments[i] != p {
			return "", point, false
		}
	}
	name := segments[len(s.prefix)]
	for i, sfx := range s.suffix {
		if segments[len(s.prefix)+1+i] != sfx {
			return "", point, false
		}
	}

	hexPoint := segments[len(segments)-1]
	if len(hexPoint) != 2*keys.KeySize {
		return "", point, false
	}
	raw, err := hex.DecodeString(hexPoint)
	if err != nil {
		return "", point, false
	}
	copy(point[:], raw)
	return name, point, true
}

// splitPath splits a path-like string into its non-empty segments.
func splitPath(s string) []string {
	var segments []string
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}
