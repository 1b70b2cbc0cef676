package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/rhuss/codegate/pkg/debug"
	"github.com/rhuss/codegate/pkg/steps"
	"github.com/rhuss/codegate/pkg/transport"
)

const streamWriteTimeout = 5 * time.Second

// streamSteps upgrades to a websocket, sends the current step log and then
// every step appended after it, each as a JSON steps.Event. The stream
// ends when the client goes away or the session is deleted. Messages from
// the client are ignored.
func (h *handler) streamSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snapshot, events, cancel, err := h.svc.SubscribeSteps(r.Context(), id)
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("step stream upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	debug.Log("http", "step stream opened", "session_id", id, "snapshot", len(snapshot))

	for i, step := range snapshot {
		if err := writeEvent(ctx, conn, steps.Event{SessionID: id, Seq: i, Step: step}); err != nil {
			h.streamClosed(id, err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.streamClosed(id, ctx.Err())
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				h.streamClosed(id, err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev steps.Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func (h *handler) streamClosed(id string, err error) {
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
		debug.Log("http", "step stream closed by client", "session_id", id)
		return
	}
	h.logger.Debug("step stream ended", "session_id", id, "error", err)
}
