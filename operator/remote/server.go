package remote

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
)

// Server exposes a local operator as a device agent.
type Server struct {
	op  operator.Operator
	log logger.Logger
}

// NewServer creates an agent for op.
func NewServer(op operator.Operator, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{op: op, log: log}
}

// Router returns the agent routes mounted on a new router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.Register(r)
	return r
}

// Register mounts the agent routes on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/screenshot", s.screenshot).Methods(http.MethodGet)
	r.HandleFunc("/execute", s.execute).Methods(http.MethodPost)
}

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	shot, err := s.op.Screenshot(r.Context())
	if err != nil {
		s.log.Error(r.Context(), "screenshot failed", map[string]interface{}{
			"error": err.Error(),
		})
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, shot)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var params operator.ExecuteParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	err := s.op.Execute(r.Context(), params)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.log.Warn(r.Context(), "execute failed", map[string]interface{}{
		"kind":  string(params.Action.Kind),
		"error": err.Error(),
	})

	status := http.StatusInternalServerError
	reason := operator.ReasonFailed
	var ee *operator.ExecutionError
	if errors.As(err, &ee) {
		reason = ee.Reason
		switch ee.Reason {
		case operator.ReasonTargetNotFound:
			status = http.StatusNotFound
		case operator.ReasonSurfaceClosed:
			status = http.StatusGone
		case operator.ReasonUnsupportedAction:
			status = http.StatusNotImplemented
		}
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
