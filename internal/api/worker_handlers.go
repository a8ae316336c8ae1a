package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/vidscribe/internal/events"
	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/pathguard"
	"github.com/vrsandeep/vidscribe/internal/store"
)

// handleWorkerClaim hands the next queued item to the transcription
// worker. It answers 204 when the queue is empty.
func (s *Server) handleWorkerClaim(w http.ResponseWriter, r *http.Request) {
	claimed, st, err := s.store.ClaimForProcessing()
	switch {
	case errors.Is(err, store.ErrNotRunning), errors.Is(err, store.ErrWorkerBusy):
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, store.ErrNoQueuedItems):
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		s.respondStoreError(w, err)
		return
	}

	s.log.Info("item claimed", "item_id", claimed.ID, "path", claimed.SourcePath)
	s.broadcastQueue(events.QueueUpdate{Action: events.QueueUpdated, Items: []models.QueueItem{claimed}})
	s.app.WsHub().BroadcastEvent(events.ProcessingUpdate{ID: claimed.ID, Progress: claimed.Progress})
	RespondWithJSON(w, http.StatusOK, map[string]any{"item": claimed, "output_dir": st.OutputDir})
}

func (s *Server) handleWorkerProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	var payload struct {
		Progress int    `json:"progress"`
		Step     string `json:"step"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	it, err := s.store.UpdateProgress(id, payload.Progress, payload.Step)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.app.WsHub().BroadcastEvent(events.ProcessingUpdate{ID: it.ID, Progress: it.Progress, CurrentStep: it.CurrentStep})
	RespondWithJSON(w, http.StatusOK, it)
}

func (s *Server) handleWorkerComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	var payload struct {
		OutputPath string `json:"output_path"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	out, err := s.guard.Validate(payload.OutputPath, pathguard.Context{Kind: pathguard.OutputFile})
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	it, err := s.store.CompleteItem(id, out)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.releaseCurrent(id)

	s.log.Info("item completed", "item_id", id, "output", out)
	s.app.WsHub().BroadcastEvent(events.ProcessingComplete{ID: id, OutputPath: out})
	s.alertIfDrained()
	RespondWithJSON(w, http.StatusOK, it)
}

func (s *Server) handleWorkerFail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	var payload struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	it, err := s.store.FailItem(id, payload.Kind, payload.Message)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.releaseCurrent(id)

	s.log.Warn("item failed", "item_id", id, "kind", it.Error.Kind, "message", it.Error.Message)
	s.app.WsHub().BroadcastEvent(events.ProcessingError{ID: id, Error: *it.Error})
	s.alertIfDrained()
	RespondWithJSON(w, http.StatusOK, it)
}

// releaseCurrent clears the current item when it is id.
func (s *Server) releaseCurrent(id string) {
	_, err := s.store.UpdateProcessing(func(p *models.ProcessingStatus) error {
		if p.CurrentItemID == id {
			p.CurrentItemID = ""
		}
		return nil
	})
	if err != nil {
		s.log.Error("could not release current item", "item_id", id, "error", err)
	}
}

func (s *Server) alertIfDrained() {
	st, err := s.store.Stats()
	if err != nil || st.Queued > 0 || st.Processing > 0 {
		return
	}
	s.app.WsHub().BroadcastEvent(events.SystemAlert{
		Level:   "info",
		Message: fmt.Sprintf("Queue finished: %d completed, %d failed", st.Completed, st.Failed),
	})
}
