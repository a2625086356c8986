package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// streamListener bridges the route listener worker and one SSE connection.
// Event blocks until the connection takes the event or goes away; that only
// stalls this listener's own queue.
type streamListener struct {
	id     string
	table  routing.TableID
	events chan routing.RouteEvent
	done   chan struct{}
}

func newStreamListener(table routing.TableID, buffer int) *streamListener {
	return &streamListener{
		id:     "sse-" + uuid.NewString(),
		table:  table,
		events: make(chan routing.RouteEvent, buffer),
		done:   make(chan struct{}),
	}
}

func (l *streamListener) ID() string { return l.id }

func (l *streamListener) Event(ev routing.RouteEvent) {
	if l.table != "" && routing.TableFor(ev.Subject().Prefix) != l.table {
		return
	}
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// StreamRoutes handles GET /api/v1/routes/stream?table=
//
// The stream starts with one ROUTE_ADDED per current best route, then carries
// every later change.
func (h *Handlers) StreamRoutes(w http.ResponseWriter, r *http.Request) {
	table := routing.TableID(r.URL.Query().Get("table"))
	if table != "" && table != routing.IPv4Table && table != routing.IPv6Table {
		writeError(w, fmt.Sprintf("Unknown table %q", table), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	listener := newStreamListener(table, h.config.StreamBuffer)
	h.routes.AddListener(listener)
	defer func() {
		close(listener.done)
		h.routes.RemoveListener(listener)
	}()

	log := h.logger.With(zap.String("listener", listener.id), zap.String("client", GetClientID(r)))
	log.Info("route stream opened")
	defer log.Info("route stream closed")

	if _, err := fmt.Fprintf(w, ": stream %s established\n\n", listener.id); err != nil {
		return
	}
	_ = rc.Flush()

	ticker := time.NewTicker(h.config.KeepaliveInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			_ = rc.Flush()

		case ev := <-listener.events:
			seq++
			if err := writeSSEMessage(w, toRouteEventMessage(seq, ev)); err != nil {
				log.Debug("route stream write failed", zap.Error(err))
				return
			}
			_ = rc.Flush()
		}
	}
}

func toRouteEventMessage(seq uint64, ev routing.RouteEvent) RouteEventMessage {
	return RouteEventMessage{
		Sequence:     seq,
		Type:         string(routing.TypeOf(ev)),
		Route:        toResolvedRouteResponse(ev.Subject()),
		Alternatives: toResolvedRouteResponses(ev.Alternatives()),
		Timestamp:    time.Now().UTC(),
	}
}

// writeSSEMessage writes a RouteEventMessage in SSE format
func writeSSEMessage(w http.ResponseWriter, message RouteEventMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", message.Sequence, message.Type, data)
	return err
}
