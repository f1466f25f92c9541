package handler

import (
	"net/http"

	"github.com/fleetrent/authcore/internal/retention"
)

// MaintenanceHandler exposes an admin trigger for the retention sweepers,
// for when operators need a cleanup pass outside the schedule.
type MaintenanceHandler struct {
	sweepers []*retention.Sweeper
}

func NewMaintenanceHandler(sweepers []*retention.Sweeper) *MaintenanceHandler {
	return &MaintenanceHandler{sweepers: sweepers}
}

func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	for _, s := range h.sweepers {
		if err := s.RunNow(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "sweep failed: "+s.Name())
			return
		}
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "cleanup complete"})
}
