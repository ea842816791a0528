package admin

import (
	"encoding/json"
	"net/http"

	"github.com/pgshardman/shardlord/sched"
	"github.com/rs/zerolog/log"
)

// TaskStatusProvider is what the admin surface needs from the running
// executor: a snapshot of every task still in flight.
type TaskStatusProvider interface {
	Snapshot() []sched.Status
}

// Handlers serves the task-introspection endpoints.
type Handlers struct {
	executor TaskStatusProvider
}

// NewHandlers builds Handlers backed by executor.
func NewHandlers(executor TaskStatusProvider) *Handlers {
	return &Handlers{executor: executor}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]string{"status": "ok"})
}

func (h *Handlers) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.executor.Snapshot())
}

func (h *Handlers) handleGetTask(w http.ResponseWriter, r *http.Request, name string) {
	for _, st := range h.executor.Snapshot() {
		if st.Name == name {
			writeJSONResponse(w, st)
			return
		}
	}
	writeErrorResponse(w, http.StatusNotFound, "no such task: "+name)
}

func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("failed to encode admin JSON response")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("failed to encode admin error response")
	}
}
