// Package udpserver implements the datagram denoising surface: one request
// per datagram, `<input_path>|<output_path>` in, `<code>|<message>` back to
// the sender. Code "0" means success, "1" means the run failed.
//
// Requests are handled one at a time in arrival order. The model's frame
// recurrence forces sequential evaluation anyway, so a per-request worker
// pool would only add queueing complexity without increasing throughput.
package udpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/auralab/clarion/internal/engine"
	"github.com/auralab/clarion/internal/observe"
)

// maxDatagram caps inbound request size. Paths never get near this; the
// headroom just avoids truncating a legitimate datagram.
const maxDatagram = 64 * 1024

// Server is the UDP protocol handler.
type Server struct {
	engine     *engine.Engine
	sampleRate int
	log        *slog.Logger
	metrics    *observe.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics installs metrics instruments. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a UDP server processing requests through eng at sampleRate.
func New(eng *engine.Engine, sampleRate int, opts ...Option) *Server {
	if sampleRate <= 0 {
		sampleRate = engine.DefaultSampleRate
	}
	s := &Server{
		engine:     eng,
		sampleRate: sampleRate,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run binds addr and serves datagrams until ctx is cancelled. Per-request
// failures are replied to or logged; they never terminate the loop.
func (s *Server) Run(ctx context.Context, addr string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("udpserver: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("udpserver: listen %q: %w", addr, err)
	}

	// Unblocks the blocking ReadFromUDP below when ctx ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.log.Info("udp server listening", "addr", conn.LocalAddr().String())

	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("udp read failed", "err", err)
			continue
		}
		s.handleDatagram(ctx, conn, raddr, string(buf[:n]))
	}
}

// handleDatagram parses and serves one request. A malformed request is
// logged and dropped without a reply.
func (s *Server) handleDatagram(ctx context.Context, conn *net.UDPConn, raddr *net.UDPAddr, msg string) {
	inputPath, outputPath, ok := parseRequest(msg)
	if !ok {
		s.recordRequest(ctx, "malformed")
		s.log.Warn("malformed datagram dropped", "from", raddr.String(), "len", len(msg))
		return
	}

	s.log.Info("udp denoise request", "from", raddr.String(), "input", inputPath, "output", outputPath)

	start := time.Now()
	_, err := s.engine.Denoise(ctx, inputPath, outputPath, s.sampleRate)
	s.engine.RecordRun(ctx, "udp", time.Since(start), err)

	var reply string
	if err != nil {
		s.recordRequest(ctx, "error")
		s.log.Error("udp denoise failed", "input", inputPath, "err", err)
		reply = "1|" + err.Error()
	} else {
		s.recordRequest(ctx, "ok")
		reply = "0|denoised " + outputPath
	}

	if _, err := conn.WriteToUDP([]byte(reply), raddr); err != nil {
		s.log.Warn("udp reply failed", "to", raddr.String(), "err", err)
	}
}

// parseRequest splits a datagram into input and output paths. Exactly one
// separator and two non-empty parts are required.
func parseRequest(msg string) (inputPath, outputPath string, ok bool) {
	msg = strings.TrimSpace(msg)
	parts := strings.Split(msg, "|")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (s *Server) recordRequest(ctx context.Context, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.DatagramRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}
