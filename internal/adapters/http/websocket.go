package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/samirrijal/souq/internal/adapters/nats"
	"github.com/samirrijal/souq/internal/pkg/metrics"
)

// wsMessage is sent by clients. The only action is "snapshot", which asks
// for the current filter state.
type wsMessage struct {
	Action string `json:"action"`
}

type wsFilterFrame struct {
	Type  string         `json:"type"`
	State FilterResponse `json:"state"`
}

// WebSocketHandler pushes the current location filter on connect and then
// relays every filter change published on NATS. Without a NATS connection
// clients only get snapshots on request.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		remoteAddr := c.RemoteAddr().String()
		slog.Debug("ws client connected", "remote", remoteAddr)

		var mu sync.Mutex
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}
		snapshot := func() error {
			return writeJSON(wsFilterFrame{Type: "snapshot", State: filterResponse(deps.Filter.Snapshot())})
		}

		if err := snapshot(); err != nil {
			return
		}

		if deps.NATS != nil {
			sub, err := deps.NATS.Subscribe(natsadapter.FilterSubjects, func(msg *nats.Msg) {
				_ = writeJSON(json.RawMessage(msg.Data))
			})
			if err != nil {
				slog.Warn("ws subscribe failed", "subject", natsadapter.FilterSubjects, "error", err)
				return
			}
			defer func() { _ = sub.Unsubscribe() }()
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m wsMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				_ = writeJSON(map[string]string{"error": "invalid JSON"})
				continue
			}
			switch m.Action {
			case "snapshot":
				_ = snapshot()
			default:
				_ = writeJSON(map[string]string{"error": "unknown action: " + m.Action})
			}
		}

		slog.Debug("ws client disconnected", "remote", remoteAddr)
	}
}
