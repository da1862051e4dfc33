// Package websocket streams tab events (modal, toasts, navigation) to the browser tab.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/pscheid92/tabconsole/internal/app"
)

// EventSource is the event feed of one tab.
type EventSource interface {
	Subscribe(fn func(app.Event)) (unsubscribe func())
	Snapshot() []app.Event
}

type Streamer struct {
	upgrader websocket.Upgrader
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
}

// NewStreamer creates the stream endpoint. m may be nil.
func NewStreamer(checkOrigin func(r *http.Request) bool, clock clockwork.Clock, m *metrics.WebSocketMetrics) *Streamer {
	return &Streamer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clock:   clock,
		metrics: m,
	}
}

// Serve upgrades the request and forwards events of source until the client goes away.
// The current modal and toast state is sent first.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, source EventSource) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
		defer s.metrics.ActiveConnections.Dec()
	}

	cw := newClientWriter(conn, s.clock, s.metrics)
	forward := func(e app.Event) {
		msg, err := json.Marshal(e)
		if err != nil {
			slog.Error("Failed to encode tab event", "type", e.Type, "error", err)
			return
		}
		cw.send(msg)
	}

	// Events published while the snapshot is taken are held back and sent after it.
	var (
		gate    sync.Mutex
		live    bool
		pending []app.Event
	)
	unsubscribe := source.Subscribe(func(e app.Event) {
		gate.Lock()
		defer gate.Unlock()
		if !live {
			pending = append(pending, e)
			return
		}
		forward(e)
	})
	defer unsubscribe()

	snapshot := source.Snapshot()
	gate.Lock()
	for _, e := range snapshot {
		forward(e)
	}
	for _, e := range pending {
		forward(e)
	}
	pending, live = nil, true
	gate.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Tab stream closed", "error", err)
			}
			break
		}
	}

	cw.stopGraceful("bye")
	return nil
}
