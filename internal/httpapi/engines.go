package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/domain"
	"github.com/xrayfleet/xrayfleet/internal/service"
)

type engineView struct {
	ID      string    `json:"id"`
	UUID    *string   `json:"uuid,omitempty"`
	Status  string    `json:"status"`
	Created time.Time `json:"created"`
	Addr    string    `json:"addr"`
	Version string    `json:"version"`
}

func toEngineView(e *domain.Engine) engineView {
	v := engineView{
		ID:      e.ID.String(),
		Status:  string(e.Status),
		Created: e.Created,
		Addr:    e.Addr,
		Version: e.Version.String(),
	}
	if e.UUID != nil {
		key := e.UUID.String()
		v.UUID = &key
	}
	return v
}

// ListEngines returns the engine inventory, optionally filtered with
// ?status=ACTIVE|READY|DEAD.
func (s *Server) ListEngines(w http.ResponseWriter, r *http.Request) {
	engines, err := s.Engines.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		log.Error().Err(err).Msg("list engines failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	views := make([]engineView, 0, len(engines))
	for _, e := range engines {
		views = append(views, toEngineView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"engines": views})
}

func (s *Server) GetEngine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad engine id")
		return
	}

	engine, err := s.Engines.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("get engine failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if engine == nil {
		writeError(w, http.StatusNotFound, "engine not found")
		return
	}
	writeJSON(w, http.StatusOK, toEngineView(engine))
}

type restartReq struct {
	UUID string `json:"uuid"`
}

// RestartEngine triggers the synchronous restart RPC. 404 when the engine is
// unknown, 409 when it is DEAD, 502 when the engine itself misbehaves.
func (s *Server) RestartEngine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad engine id")
		return
	}

	var req restartReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	key, err := uuid.Parse(req.UUID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad uuid")
		return
	}

	err = s.Control.Restart(r.Context(), id, key)
	var notExist *service.EngineNotExistError
	var dead *service.EngineDeadError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &notExist):
		writeError(w, http.StatusNotFound, "engine not found")
	case errors.As(err, &dead):
		writeError(w, http.StatusConflict, "engine is dead")
	default:
		log.Error().Err(err).Str("engine_id", id.String()).Msg("restart failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// RemoveDeadEngines garbage-collects DEAD rows.
func (s *Server) RemoveDeadEngines(w http.ResponseWriter, r *http.Request) {
	removed, err := s.Control.RemoveDead(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("remove dead engines failed")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
