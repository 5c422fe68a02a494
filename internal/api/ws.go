package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/mira/internal/turn"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Clients are native apps and the CLI; the bearer token is the check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client frame types.
const (
	frameMessage   = "message"
	frameInterrupt = "interrupt"
)

type clientFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// handleChatWS keeps one connection per client. Each message frame starts
// a turn whose events are written back as JSON frames; a newer message
// supersedes the running turn and an interrupt frame stops it.
func handleChatWS(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserID(r.Context())
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "user_id", userID, "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(wsReadLimit)

		ctx, cancel := context.WithCancel(r.Context())

		var writeMu sync.Mutex
		send := func(v any) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			return conn.WriteJSON(v)
		}

		var wg sync.WaitGroup
		defer wg.Wait()
		// Running turns are cancelled before the wait.
		defer cancel()

		for {
			var f clientFrame
			if err := conn.ReadJSON(&f); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("websocket read ended", "user_id", userID, "error", err)
				}
				return
			}

			switch f.Type {
			case frameMessage:
				wg.Add(1)
				go func(message string) {
					defer wg.Done()
					runWSTurn(ctx, deps.Turns, userID, message, send)
				}(f.Message)
			case frameInterrupt:
				deps.Turns.Interrupt(userID)
			default:
				send(turn.Event{Type: turn.EventError, Error: "unknown frame type"})
			}
		}
	}
}

func runWSTurn(ctx context.Context, turns TurnRunner, userID, message string, send func(any) error) {
	terminal := false
	err := turns.Run(ctx, turn.Request{UserID: userID, Message: message}, func(ev turn.Event) error {
		if ev.Terminal() {
			terminal = true
		}
		return send(ev)
	})
	if err == nil || terminal || cancelled(err) || ctx.Err() != nil {
		return
	}
	send(turn.Event{Type: turn.EventError, Error: publicMessage(err)})
}
