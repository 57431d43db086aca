package httpapi

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"tensord/internal/manager"
)

const (
	eventBuffer = 64
	writeWait   = 5 * time.Second
	pingPeriod  = 30 * time.Second
)

// EventSource hands out subscriptions to manager events.
type EventSource interface {
	Subscribe(size int) (<-chan manager.Event, func())
}

var eventSource EventSource

// SetEventSource enables GET /v2/events on routers built afterwards; nil disables it.
func SetEventSource(src EventSource) { eventSource = src }

// serveEvents streams manager events as JSON text frames. ?model=name keeps
// only that model's events.
func serveEvents(src EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		if corsEnabled {
			up.CheckOrigin = originAllowed
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied.
			if zlog != nil {
				zlog.Warn().Err(err).Msg("websocket upgrade failed")
			}
			return
		}
		defer conn.Close()

		events, cancel := src.Subscribe(eventBuffer)
		defer cancel()
		model := r.URL.Query().Get("model")

		// Read loop (to detect disconnect)
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-gone:
				return
			case <-serverBaseCtx.Done():
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case e, ok := <-events:
				if !ok {
					return
				}
				if model != "" && e.ModelID != model {
					continue
				}
				b, err := json.Marshal(e)
				if err != nil {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range corsAllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
