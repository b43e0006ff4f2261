package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"automacro/internal/controller"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

// handleHALHealth runs a HAL health check. A degraded or unhealthy HAL still
// answers 200; callers read the status field.
func (s *Server) handleHALHealth(w http.ResponseWriter, r *http.Request) {
	res := s.ctl.Health(r.Context(), healthTimeout)
	writeJSON(w, http.StatusOK, res)
}

type recordRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.ctl.StartRecording(req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, controller.RecordResult{SessionID: sess.ID()})
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	sc, err := s.ctl.StopRecording(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, controller.RecordResult{ScriptID: sc.ID, Actions: len(sc.Actions)})
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	list, err := s.ctl.Scripts().List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": list, "count": len(list)})
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	sc, err := s.ctl.Scripts().Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Scripts().Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type playRequest struct {
	Speed  float64 `json:"speed"`
	Repeat int     `json:"repeat"`
	Loop   *bool   `json:"loop"`
	Graph  string  `json:"graph"`
}

// handlePlay starts a playback and returns immediately; progress arrives on /ws.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := s.ctl.Play(r.Context(), chi.URLParam(r, "id"), controller.PlayRequest{
		Speed:  req.Speed,
		Repeat: req.Repeat,
		Loop:   req.Loop,
		Graph:  req.Graph,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, controller.PlayResult{PlaybackID: h.ID, ScriptID: h.Script.ID})
}

func (s *Server) handlePlayback(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"playback": s.ctl.Scheduler().State().String()})
	}
}

func (s *Server) handleHotkeys(op func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op()
		writeJSON(w, http.StatusOK, controller.HotkeysResult{Suspended: s.ctl.Hotkeys().Suspended()})
	}
}
