// Package wsdebug serves an optional, read-only WebSocket mirror of the
// Event Bus for local debugging — connect and watch every AppServer and
// TerminalOutput event the daemon publishes, without a real client's
// auth handshake or RPC dispatch in the way. Grounded on the teacher's
// internal/server/websocket.go (gorilla/websocket Upgrader with an
// explicit CheckOrigin, a write-mutex-guarded conn, a goroutine pumping
// an upstream source out as WriteJSON calls) reduced to a single
// one-way event stream with no inbound message handling.
package wsdebug

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/xlab/codex-monitor-daemon/internal/eventbus"
)

// Server serves GET /events, upgrading each connection to a WebSocket and
// streaming every bus event to it as JSON until the client disconnects or
// the bus closes. It is intended for `--debug-ws-listen` on loopback only;
// it performs no authentication of its own.
type Server struct {
	bus      *eventbus.Bus
	upgrader websocket.Upgrader
}

// New constructs a debug server over bus. Origin checking is disabled
// since this endpoint is meant for loopback tooling, not browsers talking
// to a remote host.
func New(bus *eventbus.Bus) *Server {
	return &Server{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the mux serving the single /events endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("wsdebug: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The client sends nothing we care about, but gorilla/websocket still
	// needs a read loop running to process control frames and notice the
	// peer going away.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := s.bus.Subscribe()
	for {
		select {
		case <-disconnected:
			return
		default:
		}
		ev, closed, lagged := sub.Next()
		if closed {
			return
		}
		if lagged {
			continue
		}
		if err := conn.WriteJSON(eventMessage(ev)); err != nil {
			return
		}
	}
}

func eventMessage(ev eventbus.Event) map[string]any {
	switch ev.Kind {
	case eventbus.KindTerminalOutput:
		return map[string]any{"kind": "terminal-output", "payload": ev.Payload}
	default:
		return map[string]any{"kind": "app-server-event", "payload": ev.Payload}
	}
}
