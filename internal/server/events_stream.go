package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/events"
)

// eventsStreamHandler serves the unified Server-Sent Events stream. A
// client may narrow the stream with ?topics=price_update,signal.
type eventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

func newEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *eventsStreamHandler {
	return &eventsStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

func (h *eventsStreamHandler) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	topics := requestedTopics(r)
	h.log.Info().Strs("topics", topicNames(topics)).Msg("Client connected to event stream")

	// Connection-local queue: the bus handler must never block on a slow
	// HTTP client.
	eventChan := make(chan *events.Event, 100)
	handler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_topic", string(event.Topic)).
				Msg("Stream client queue full, dropping event")
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

	fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]any{"topic": "connected"}))
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return
		case event := <-eventChan:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]any{
				"topic":     string(event.Topic),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			}))
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]any{
				"topic":     "heartbeat",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

func (h *eventsStreamHandler) encode(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}

// requestedTopics parses the ?topics filter; absent or empty means all.
func requestedTopics(r *http.Request) []events.Topic {
	filter := r.URL.Query().Get("topics")
	if filter == "" {
		return events.Topics
	}
	var topics []events.Topic
	for _, name := range strings.Split(filter, ",") {
		topic := events.Topic(strings.TrimSpace(name))
		for _, known := range events.Topics {
			if topic == known {
				topics = append(topics, topic)
				break
			}
		}
	}
	if len(topics) == 0 {
		return events.Topics
	}
	return topics
}

func topicNames(topics []events.Topic) []string {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = string(t)
	}
	return names
}
