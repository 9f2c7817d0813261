package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/goldpulse/internal/events"
)

// wsHandler mirrors the SSE stream over a websocket for clients that
// prefer a bidirectional transport. The server only writes; reads are
// drained for close detection.
type wsHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

func newWSHandler(bus *events.Bus, log zerolog.Logger) *wsHandler {
	return &wsHandler{
		bus: bus,
		log: log.With().Str("component", "ws").Logger(),
	}
}

func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin policy handled by the CORS layer
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server shutting down")

	topics := requestedTopics(r)
	h.log.Info().Strs("topics", topicNames(topics)).Msg("Websocket client connected")

	// CloseRead drains incoming frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan *events.Event, 100)
	handler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_topic", string(event.Topic)).
				Msg("Websocket client queue full, dropping event")
		}
	}

	tokens := make([]events.Token, 0, len(topics))
	for _, topic := range topics {
		tokens = append(tokens, h.bus.Subscribe(topic, handler))
	}
	defer func() {
		for _, token := range tokens {
			h.bus.Unsubscribe(token)
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Websocket client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-eventChan:
			if err := h.write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		case <-heartbeat.C:
			if err := conn.Ping(ctx); err != nil {
				h.log.Debug().Err(err).Msg("Websocket ping failed")
				return
			}
		}
	}
}

func (h *wsHandler) write(ctx context.Context, conn *websocket.Conn, event *events.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}
