// Package tcpserver is the Listener and per-connection Client Connection
// state machine: newline-delimited JSON-RPC over TCP, a bearer-token
// handshake, and a background forwarder that mirrors the Event Bus onto
// every authenticated connection. Grounded on the teacher's connection-
// handling shape in internal/server (one goroutine per connection, a
// dedicated writer goroutine owning the socket's write side fed by a
// channel) generalised from an HTTP/WebSocket server to a raw line-JSON-RPC
// one, and on golang.org/x/time/rate for the accept-side rate limit noted
// in the domain stack.
package tcpserver

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xlab/codex-monitor-daemon/internal/daemonstate"
	"github.com/xlab/codex-monitor-daemon/internal/eventbus"
	"github.com/xlab/codex-monitor-daemon/internal/rpcdispatch"
)

// Config bundles the daemon-wide listener settings.
type Config struct {
	Addr          string
	Token         string // empty means insecure-no-auth
	ClientVersion string
}

// Server owns the accept loop and hands each connection off to its own
// goroutine.
type Server struct {
	cfg     Config
	daemon  *daemonstate.Daemon
	bus     *eventbus.Bus
	limiter *perAddrLimiter
}

// New constructs a Server. Each remote address gets its own accept-side
// limiter, 50 connection attempts/second with a burst of 100 — generous
// enough that a reconnecting client never trips it under normal operation,
// tight enough to blunt a single misbehaving source hammering the listener.
func New(cfg Config, daemon *daemonstate.Daemon, bus *eventbus.Bus) *Server {
	return &Server{
		cfg:     cfg,
		daemon:  daemon,
		bus:     bus,
		limiter: newPerAddrLimiter(rate.Limit(50), 100),
	}
}

// perAddrLimiter hands out a rate.Limiter per remote IP so one noisy source
// can't starve out everyone else's connection attempts.
type perAddrLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPerAddrLimiter(rps rate.Limit, burst int) *perAddrLimiter {
	return &perAddrLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *perAddrLimiter) wait(ctx context.Context, key string) error {
	p.mu.Lock()
	lim, ok := p.limiters[key]
	if !ok {
		lim = rate.NewLimiter(p.rps, p.burst)
		p.limiters[key] = lim
	}
	p.mu.Unlock()
	return lim.Wait(ctx)
}

// Serve accepts connections from ln until ctx is cancelled or the listener
// is closed. A failed Accept (other than the listener closing) is logged
// and retried, matching the original's accept-loop policy of never giving
// up on a single connection's failure.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		key := remoteKey(conn)
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = s.limiter.wait(waitCtx, key)
		cancel()
		if err != nil {
			_ = conn.Close()
			continue
		}
		go s.handleClient(ctx, conn)
	}
}

// remoteKey extracts the host portion of a connection's remote address, so
// a single source hitting the listener from many ephemeral ports still
// shares one limiter bucket.
func remoteKey(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outCh := make(chan string, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outCh {
			if _, err := conn.Write([]byte(msg)); err != nil {
				return
			}
			if _, err := conn.Write([]byte("\n")); err != nil {
				return
			}
		}
	}()
	defer func() {
		close(outCh)
		<-writerDone
	}()

	authenticated := s.cfg.Token == ""
	var forwarderCancel context.CancelFunc
	if authenticated {
		forwarderCancel = s.startForwarder(connCtx, outCh)
	}
	defer func() {
		if forwarderCancel != nil {
			forwarderCancel()
		}
	}()

	// Requests run concurrently; teardown cancels them and waits for every
	// handler to finish before outCh is closed.
	var handlers sync.WaitGroup
	defer func() {
		cancel()
		handlers.Wait()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}

		if !authenticated {
			if msg.Method != "auth" {
				sendError(outCh, msg.ID, "unauthorized")
				continue
			}
			provided := parseAuthToken(msg.Params)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Token)) != 1 {
				sendError(outCh, msg.ID, "invalid token")
				continue
			}
			authenticated = true
			sendResult(outCh, msg.ID, map[string]any{"ok": true})
			forwarderCancel = s.startForwarder(connCtx, outCh)
			continue
		}

		handlers.Add(1)
		go func(msg inboundMessage) {
			defer handlers.Done()
			result, err := rpcdispatch.Dispatch(connCtx, s.daemon, msg.Method, msg.Params, s.cfg.ClientVersion)
			if err != nil {
				sendError(outCh, msg.ID, err.Error())
				return
			}
			sendResult(outCh, msg.ID, result)
		}(msg)
	}
}

type inboundMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// parseAuthToken accepts either a bare string or {"token": "..."}.
func parseAuthToken(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(raw, &obj)
	return obj.Token
}

// sendError and sendResult both suppress the reply entirely when id is nil —
// a frame without an id never receives a response, regardless of outcome.
func sendError(outCh chan<- string, id *uint64, message string) {
	if id == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"id":    *id,
		"error": map[string]any{"message": message},
	})
	if err != nil {
		return
	}
	outCh <- string(data)
}

func sendResult(outCh chan<- string, id *uint64, result any) {
	if id == nil {
		return
	}
	data, err := json.Marshal(map[string]any{"id": *id, "result": result})
	if err != nil {
		return
	}
	outCh <- string(data)
}

// startForwarder subscribes to the event bus and mirrors every event onto
// outCh as a notification until ctx is cancelled or the bus closes. A
// watcher goroutine closes the subscriber as soon as ctx is done, so the
// forwarder's blocking Subscriber.Next() call is woken promptly on client
// disconnect instead of sitting parked until the next bus event.
func (s *Server) startForwarder(ctx context.Context, outCh chan<- string) context.CancelFunc {
	forwardCtx, cancel := context.WithCancel(ctx)
	sub := s.bus.Subscribe()

	go func() {
		<-forwardCtx.Done()
		sub.Close()
	}()

	go func() {
		for {
			ev, closed, lagged := sub.Next()
			if closed {
				return
			}
			if lagged {
				continue
			}
			notification := eventNotification(ev)
			data, err := json.Marshal(notification)
			if err != nil {
				continue
			}
			select {
			case outCh <- string(data):
			case <-forwardCtx.Done():
				return
			}
		}
	}()
	return cancel
}

func eventNotification(ev eventbus.Event) map[string]any {
	switch ev.Kind {
	case eventbus.KindTerminalOutput:
		return map[string]any{"method": "terminal-output", "params": ev.Payload}
	default:
		return map[string]any{"method": "app-server-event", "params": ev.Payload}
	}
}
