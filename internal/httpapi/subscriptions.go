package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/domain"
	"github.com/xrayfleet/xrayfleet/internal/storage"
)

type subscriptionView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EngineID  string    `json:"engine_id"`
	EventType string    `json:"event_type"`
	Created   time.Time `json:"created"`
}

func toSubscriptionView(s storage.Subscription) subscriptionView {
	return subscriptionView{
		ID:        s.ID.String(),
		UserID:    s.UserID.String(),
		EngineID:  s.EngineID.String(),
		EventType: s.EventType,
		Created:   s.Created,
	}
}

// ListSubscriptions supports optional ?user_id= and ?engine_id= filters.
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := optionalUUID(r.URL.Query().Get("user_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad user_id")
		return
	}
	engineID, ok := optionalUUID(r.URL.Query().Get("engine_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad engine_id")
		return
	}

	subs, err := s.Subs.List(r.Context(), userID, engineID)
	if err != nil {
		log.Error().Err(err).Msg("list subscriptions failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, toSubscriptionView(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": views})
}

type createSubscriptionReq struct {
	UserID    string `json:"user_id"`
	EngineID  string `json:"engine_id"`
	EventType string `json:"event_type"`
}

func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad user_id")
		return
	}
	engineID, err := uuid.Parse(req.EngineID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad engine_id")
		return
	}
	if !domain.KnownEventType(req.EventType) {
		writeError(w, http.StatusBadRequest, "unknown event_type")
		return
	}

	id, err := s.Subs.Create(r.Context(), userID, engineID, req.EventType)
	if err != nil {
		log.Error().Err(err).Msg("create subscription failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad subscription id")
		return
	}

	existed, err := s.Subs.Delete(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("delete subscription failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func optionalUUID(s string) (uuid.NullUUID, bool) {
	if s == "" {
		return uuid.NullUUID{}, true
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.NullUUID{}, false
	}
	return uuid.NullUUID{UUID: id, Valid: true}, true
}
