package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/vidscribe/internal/events"
	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/pathguard"
	"github.com/vrsandeep/vidscribe/internal/store"
	"github.com/vrsandeep/vidscribe/internal/util"
)

// respondStoreError maps store errors to status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrItemNotFound):
		RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrItemBusy), errors.Is(err, store.ErrInvalidTransition):
		RespondWithError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("store error", "error", err)
		RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// broadcastQueue sends a queue update carrying fresh counts.
func (s *Server) broadcastQueue(upd events.QueueUpdate) {
	if st, err := s.store.Stats(); err == nil {
		upd.Stats = &st
	}
	s.app.WsHub().BroadcastEvent(upd)
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems()
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Paths []string `json:"paths"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(payload.Paths) == 0 {
		RespondWithError(w, http.StatusBadRequest, "No paths given")
		return
	}
	clean := make([]string, 0, len(payload.Paths))
	for _, p := range payload.Paths {
		n, err := s.guard.Validate(p, pathguard.Context{Kind: pathguard.InputFile})
		if err != nil {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		clean = append(clean, n)
	}

	items, err := s.store.AddItems(clean)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.broadcastQueue(events.QueueUpdate{Action: events.QueueAdded, Items: items})
	RespondWithJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddDirectory(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	dir, err := s.guard.Validate(payload.Path, pathguard.Context{Kind: pathguard.Directory})
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	found, err := s.findVideos(dir, payload.Recursive)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(found) == 0 {
		RespondWithJSON(w, http.StatusOK, []models.QueueItem{})
		return
	}

	items, err := s.store.AddItems(found)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.broadcastQueue(events.QueueUpdate{Action: events.QueueAdded, Items: items})
	RespondWithJSON(w, http.StatusOK, items)
}

// findVideos lists files under dir with a video extension in natural
// order. Paths the guard rejects are skipped.
func (s *Server) findVideos(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var found []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.exts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		clean, err := s.guard.Validate(p, pathguard.Context{Kind: pathguard.InputFile})
		if err != nil {
			s.log.Warn("skipping file", "path", p, "error", err)
			return nil
		}
		found = append(found, clean)
		return nil
	})
	if err != nil {
		return nil, err
	}
	util.SortNatural(found)
	return found, nil
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	if err := s.store.DeleteItem(id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.broadcastQueue(events.QueueUpdate{Action: events.QueueRemoved, RemovedIDs: []string{id}})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status models.ItemStatus `json:"status"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if payload.Status != "" && !payload.Status.Valid() {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", payload.Status))
		return
	}
	removed, err := s.store.ClearItems(payload.Status)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if len(removed) > 0 {
		s.broadcastQueue(events.QueueUpdate{Action: events.QueueCleared, RemovedIDs: removed})
	}
	RespondWithJSON(w, http.StatusOK, map[string]int{"removed": len(removed)})
}

// handleExportItem copies a completed item's transcript to the requested
// destination.
func (s *Server) handleExportItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	var payload struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	dest, err := s.guard.Validate(payload.Path, pathguard.Context{Kind: pathguard.OutputFile})
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	it, err := s.store.GetItem(id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if it.Status != models.StatusCompleted {
		RespondWithError(w, http.StatusConflict, fmt.Sprintf("Item %s is %s, not completed", id, it.Status))
		return
	}
	if err := util.ValidateFolderPath(filepath.Dir(dest), ""); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := copyFile(it.OutputPath, dest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			RespondWithError(w, http.StatusNotFound, "Transcript file not found")
			return
		}
		s.log.Error("export failed", "item_id", id, "error", err)
		RespondWithError(w, http.StatusInternalServerError, "Export failed")
		return
	}
	s.log.Info("transcript exported", "item_id", id, "path", dest)
	RespondWithJSON(w, http.StatusOK, it)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
