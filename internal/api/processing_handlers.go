package api

import (
	"errors"
	"net/http"

	"github.com/vrsandeep/vidscribe/internal/events"
	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/pathguard"
	"github.com/vrsandeep/vidscribe/internal/util"
)

var errNoOutputDir = errors.New("no output directory configured")

func (s *Server) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetProcessing()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, st)
}

// handleStartProcessing starts or resumes the processing loop. The output
// directory from the body replaces the stored one.
func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OutputDir string `json:"output_dir"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if payload.OutputDir != "" {
		dir, err := s.guard.Validate(payload.OutputDir, pathguard.Context{Kind: pathguard.Directory})
		if err != nil {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := util.ValidateFolderPath(dir, ""); err != nil {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload.OutputDir = dir
	}

	st, err := s.store.UpdateProcessing(func(p *models.ProcessingStatus) error {
		if payload.OutputDir != "" {
			p.OutputDir = payload.OutputDir
		}
		if p.OutputDir == "" {
			return errNoOutputDir
		}
		p.State = models.ProcessingRunning
		return nil
	})
	if errors.Is(err, errNoOutputDir) {
		RespondWithError(w, http.StatusBadRequest, "An output directory is required")
		return
	}
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.log.Info("processing started", "output_dir", st.OutputDir)
	s.app.WsHub().BroadcastEvent(events.SystemAlert{Level: "info", Message: "Processing started"})
	RespondWithJSON(w, http.StatusOK, st)
}

func (s *Server) handlePauseProcessing(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.UpdateProcessing(func(p *models.ProcessingStatus) error {
		if p.State == models.ProcessingRunning {
			p.State = models.ProcessingPaused
		}
		return nil
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.app.WsHub().BroadcastEvent(events.SystemAlert{Level: "info", Message: "Processing paused"})
	RespondWithJSON(w, http.StatusOK, st)
}

// handleStopProcessing stops the loop and puts the item being processed
// back at its place in the queue.
func (s *Server) handleStopProcessing(w http.ResponseWriter, r *http.Request) {
	var current string
	_, err := s.store.UpdateProcessing(func(p *models.ProcessingStatus) error {
		current = p.CurrentItemID
		p.State = models.ProcessingStopped
		p.CurrentItemID = ""
		return nil
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if current != "" {
		it, err := s.store.RequeueItem(current)
		if err != nil {
			s.log.Warn("could not requeue current item", "item_id", current, "error", err)
		} else {
			s.broadcastQueue(events.QueueUpdate{Action: events.QueueUpdated, Items: []models.QueueItem{it}})
		}
	}

	st, err := s.store.GetProcessing()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.app.WsHub().BroadcastEvent(events.SystemAlert{Level: "info", Message: "Processing stopped"})
	RespondWithJSON(w, http.StatusOK, st)
}
