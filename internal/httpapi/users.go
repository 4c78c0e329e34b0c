package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/storage"
)

type userView struct {
	ID         string    `json:"id"`
	TelegramID string    `json:"telegram_id"`
	Created    time.Time `json:"created"`
}

func toUserView(u storage.User) userView {
	return userView{ID: u.ID.String(), TelegramID: u.TelegramID, Created: u.Created}
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Users.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list users failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, toUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}

type createUserReq struct {
	TelegramID string `json:"telegram_id"`
}

func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TelegramID == "" {
		writeError(w, http.StatusBadRequest, "telegram_id is required")
		return
	}

	id, err := s.Users.Create(r.Context(), req.TelegramID)
	if err != nil {
		log.Error().Err(err).Msg("create user failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad user id")
		return
	}

	existed, err := s.Users.Delete(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("delete user failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
