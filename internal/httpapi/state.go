// Package httpapi is the admin control surface: engine inventory, restart,
// subscription and recipient management, and parked-row views for the
// pipeline operators.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/domain"
	"github.com/xrayfleet/xrayfleet/internal/storage"
)

// engineControl is the slice of the engine service the API drives.
type engineControl interface {
	Restart(ctx context.Context, id, key uuid.UUID) error
	RemoveDead(ctx context.Context) (int64, error)
}

// engineDirectory reads engine rows for the inventory views.
type engineDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Engine, error)
	List(ctx context.Context, status string) ([]*domain.Engine, error)
}

type subscriptionAdmin interface {
	List(ctx context.Context, userID, engineID uuid.NullUUID) ([]storage.Subscription, error)
	Create(ctx context.Context, userID, engineID uuid.UUID, eventType string) (uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type userAdmin interface {
	List(ctx context.Context) ([]storage.User, error)
	Create(ctx context.Context, telegramID string) (uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type parkedViews interface {
	ParkedOutbox(ctx context.Context, maxAttempts int) ([]storage.ParkedOutboxRow, error)
	ParkedTasks(ctx context.Context, maxAttempts int) ([]storage.ParkedTaskRow, error)
}

// Server holds dependencies for the admin handlers.
type Server struct {
	Control engineControl
	Engines engineDirectory
	Subs    subscriptionAdmin
	Users   userAdmin
	Parked  parkedViews

	// MaxAttempts is the cap after which rows count as parked.
	MaxAttempts int
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func pathUUID(r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	return id, err == nil
}
