// Package reportstream streams per-trace benchmark snapshots to a
// remote dashboard over HTTP/3, for the optional "serve" subcommand of the
// benchmark CLI. It is a harness collaborator, never touched by the
// allocator core: the core must never block on I/O (spec §5), and nothing
// here is on any allocator call path.
package reportstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quic-go/quic-go/http3"
)

// Snapshot is one point-in-time benchmark reading.
type Snapshot struct {
	Trace       string  `json:"trace"`
	Op          int     `json:"op"`
	LiveBytes   uint64  `json:"live_bytes"`
	HeapBytes   uint64  `json:"heap_bytes"`
	Utilization float64 `json:"utilization"`
}

// Server receives posted Snapshots over HTTP/3 and forwards each to handle.
// handle errors are swallowed: telemetry delivery is best-effort and must
// never affect the benchmark run that produced it.
type Server struct {
	srv *http3.Server
}

// NewServer builds a snapshot receiver bound to addr.
func NewServer(addr string, tlsConf *tls.Config, handle func(Snapshot)) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		var snap Snapshot

		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		handle(snap)
		w.WriteHeader(http.StatusNoContent)
	})

	return &Server{srv: &http3.Server{Addr: addr, TLSConfig: tlsConf, Handler: mux}}
}

// ListenAndServe blocks serving snapshot postings until Close is called.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Client posts Snapshots to a running Server over HTTP/3.
type Client struct {
	url string
	rt  *http3.Transport
}

// NewClient targets a Server's /snapshot endpoint, e.g.
// "https://dashboard.local:4433/snapshot".
func NewClient(url string, tlsConf *tls.Config) *Client {
	return &Client{url: url, rt: &http3.Transport{TLSClientConfig: tlsConf}}
}

// Send posts one Snapshot. Callers are expected to ignore the error for
// anything but diagnostics: a dropped snapshot must never abort a
// benchmark run.
func (c *Client) Send(ctx context.Context, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("reportstream: encode snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reportstream: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Transport: c.rt}).Do(req)
	if err != nil {
		return fmt.Errorf("reportstream: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("reportstream: unexpected status %s", resp.Status)
	}

	return nil
}

// Close releases the client's underlying QUIC transport.
func (c *Client) Close() error {
	return c.rt.Close()
}
