package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type parkedOutboxView struct {
	ID       string          `json:"id"`
	CausedBy string          `json:"caused_by"`
	Body     json.RawMessage `json:"body"`
	Attempts int             `json:"attempts"`
	Created  time.Time       `json:"created"`
}

type parkedTaskView struct {
	ID             string    `json:"id"`
	OutboxID       string    `json:"outbox_id"`
	SubscriptionID string    `json:"subscription_id"`
	Attempts       int       `json:"attempts"`
	Created        time.Time `json:"created"`
}

// ListParkedOutbox shows outbox rows that exhausted their fan-out attempts.
// These rows need code or data fixes before the relay picks them up again.
func (s *Server) ListParkedOutbox(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Parked.ParkedOutbox(r.Context(), s.MaxAttempts)
	if err != nil {
		log.Error().Err(err).Msg("list parked outbox failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	views := make([]parkedOutboxView, 0, len(rows))
	for _, row := range rows {
		views = append(views, parkedOutboxView{
			ID:       row.ID.String(),
			CausedBy: row.CausedBy,
			Body:     json.RawMessage(row.Body),
			Attempts: row.Attempts,
			Created:  row.Created,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"outbox": views})
}

// ListParkedTasks shows delivery tasks that exhausted their publish attempts.
func (s *Server) ListParkedTasks(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Parked.ParkedTasks(r.Context(), s.MaxAttempts)
	if err != nil {
		log.Error().Err(err).Msg("list parked tasks failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	views := make([]parkedTaskView, 0, len(rows))
	for _, row := range rows {
		views = append(views, parkedTaskView{
			ID:             row.ID.String(),
			OutboxID:       row.OutboxID.String(),
			SubscriptionID: row.SubscriptionID.String(),
			Attempts:       row.Attempts,
			Created:        row.Created,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}
