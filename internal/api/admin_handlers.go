package api

import (
	"net/http"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version})
}

func (s *Server) handleRunAdminJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobName string `json:"job_name"`
	}
	if err := decodeJSON(r, &payload); err != nil || payload.JobName == "" {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := s.app.JobManager().RunJob(payload.JobName, s.app); err != nil {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": "Job '" + payload.JobName + "' started successfully.",
	})
}

func (s *Server) handleGetAdminJobsStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.JobManager().GetStatus())
}
