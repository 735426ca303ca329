package portalhttp

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strongaya/federated-data-portal/internal/http/problem"
	"github.com/strongaya/federated-data-portal/internal/report"
	"github.com/strongaya/federated-data-portal/internal/store"
	pkglog "github.com/strongaya/federated-data-portal/pkg/log"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// streamEvent is one message on the /api/v1/stream socket.
type streamEvent struct {
	Event   string         `json:"event"`
	Summary report.Summary `json:"summary"`
}

// handleStream upgrades the connection and pushes a summary event for every
// new snapshot. The current snapshot, when present, is pushed immediately so
// clients render without waiting for the next refresh.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Stream Not Available",
			"No collector is attached to this server", traceIDFromContext(r.Context()), r.URL.Path)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.streamOriginAllowed,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		pkglog.Named("http").Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.collector.Subscribe()
	defer cancel()

	// Drain client frames so close and pong messages are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(snap store.Snapshot) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(streamEvent{
			Event:   "summary",
			Summary: report.Summarise(snap, s.cfg.Report.SubjectLabel),
		})
	}

	if snap, ok := s.store.Latest(); ok {
		if err := send(snap); err != nil {
			return
		}
	}

	pings := time.NewTicker(streamPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := send(snap); err != nil {
				return
			}
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamOriginAllowed mirrors the CORS policy for websocket upgrades. With no
// origins configured only same-host requests pass.
func (s *Server) streamOriginAllowed(r *http.Request) bool {
	if s.cors != nil {
		return s.cors.OriginAllowed(r)
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
