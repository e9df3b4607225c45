package api

import (
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/okian/intelsync/internal/adapters/mq/queue"
	"github.com/okian/intelsync/internal/domain/model"
)

const maxMatchBody = 1 << 20

// MatchesHandler accepts match batches from engines that cannot reach the bus.
type MatchesHandler struct {
	queue MatchQueue
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(q MatchQueue) *MatchesHandler {
	return &MatchesHandler{queue: q}
}

type ackResponse struct {
	Status string `json:"status"`
	Items  int    `json:"items"`
}

// HandlePostMatch handles POST /matches requests.
func (h *MatchesHandler) HandlePostMatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_match"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var ev model.MatchEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMatchBody)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := validateMatch(ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", NewKind(op, ErrUnavailable))
		return
	}
	if err := h.queue.TryEnqueue(r.Context(), ev); err != nil {
		if errors.Is(err, queue.ErrFull) {
			writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
			return
		}
		// Closed queue or stopped service.
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Items: len(ev.Items)})
}

func validateMatch(ev model.MatchEvent) error {
	if strings.TrimSpace(ev.Seen.Indicator) == "" {
		return errors.New("missing seen.indicator")
	}
	if len(ev.Items) == 0 {
		return errors.New("missing items")
	}
	for _, it := range ev.Items {
		if strings.TrimSpace(it.Indicator) == "" {
			return errors.New("item without indicator")
		}
	}
	return nil
}
