package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vrsandeep/vidscribe/internal/models"
)

const itemColumns = `id, source_path, status, progress, current_step, output_path, error_kind, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.QueueItem, error) {
	var it models.QueueItem
	var errKind, errMsg string
	err := row.Scan(&it.ID, &it.SourcePath, &it.Status, &it.Progress, &it.CurrentStep,
		&it.OutputPath, &errKind, &errMsg, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return models.QueueItem{}, err
	}
	if it.Status == models.StatusFailed {
		it.Error = &models.ItemError{Kind: errKind, Message: errMsg}
	}
	return it, nil
}

func getItem(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, id string) (models.QueueItem, error) {
	it, err := scanItem(q.QueryRow("SELECT "+itemColumns+" FROM queue_items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueueItem{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	return it, err
}

// AddItems appends one queued item per path, in order. A path that is
// already queued or processing is not added twice; its existing item is
// returned in its place.
func (s *Store) AddItems(paths []string) ([]models.QueueItem, error) {
	out := make([]models.QueueItem, 0, len(paths))
	err := s.withTx(func(tx *sql.Tx) error {
		var pos int64
		if err := tx.QueryRow("SELECT COALESCE(MAX(position), 0) FROM queue_items").Scan(&pos); err != nil {
			return err
		}
		for _, p := range paths {
			existing, err := scanItem(tx.QueryRow(
				"SELECT "+itemColumns+" FROM queue_items WHERE source_path = ? AND status IN ('queued', 'processing') ORDER BY position LIMIT 1", p))
			if err == nil {
				out = append(out, existing)
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}

			pos++
			now := s.timestamp()
			it := models.QueueItem{ID: s.newID(), SourcePath: p, Status: models.StatusQueued, CreatedAt: now, UpdatedAt: now}
			_, err = tx.Exec(`INSERT INTO queue_items (id, position, source_path, status, progress, created_at, updated_at)
				VALUES (?, ?, ?, ?, 0, ?, ?)`, it.ID, pos, it.SourcePath, it.Status, now, now)
			if err != nil {
				return err
			}
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListItems returns every item in queue order.
func (s *Store) ListItems() ([]models.QueueItem, error) {
	rows, err := s.db.Query("SELECT " + itemColumns + " FROM queue_items ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.QueueItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetItem fetches a single item by id.
func (s *Store) GetItem(id string) (models.QueueItem, error) {
	return getItem(s.db, id)
}

// DeleteItem removes an item that is not being processed.
func (s *Store) DeleteItem(id string) error {
	return s.withTx(func(tx *sql.Tx) error {
		it, err := getItem(tx, id)
		if err != nil {
			return err
		}
		if it.Status == models.StatusProcessing {
			return fmt.Errorf("%s: %w", id, ErrItemBusy)
		}
		_, err = tx.Exec("DELETE FROM queue_items WHERE id = ?", id)
		return err
	})
}

// ClearItems removes every item with status, or every item that is not
// processing when status is empty, and returns the removed ids.
func (s *Store) ClearItems(status models.ItemStatus) ([]string, error) {
	if status == models.StatusProcessing {
		return nil, fmt.Errorf("cannot clear %s items: %w", status, ErrItemBusy)
	}
	where := "status != 'processing'"
	args := []any{}
	if status != "" {
		where = "status = ?"
		args = append(args, status)
	}
	var ids []string
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query("SELECT id FROM queue_items WHERE "+where+" ORDER BY position", args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.Exec("DELETE FROM queue_items WHERE "+where, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ClaimNext moves the oldest queued item to processing.
func (s *Store) ClaimNext() (models.QueueItem, error) {
	var claimed models.QueueItem
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		claimed, err = s.claimNext(tx)
		return err
	})
	return claimed, err
}

func (s *Store) claimNext(tx *sql.Tx) (models.QueueItem, error) {
	var id string
	err := tx.QueryRow("SELECT id FROM queue_items WHERE status = 'queued' ORDER BY position LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueueItem{}, ErrNoQueuedItems
	}
	if err != nil {
		return models.QueueItem{}, err
	}
	_, err = tx.Exec(`UPDATE queue_items SET status = 'processing', progress = 0, current_step = '',
		updated_at = ? WHERE id = ?`, s.timestamp(), id)
	if err != nil {
		return models.QueueItem{}, err
	}
	return getItem(tx, id)
}

// transition loads id inside a transaction, checks its status is one of
// from, applies update and returns the stored result.
func (s *Store) transition(id string, from []models.ItemStatus, update string, args ...any) (models.QueueItem, error) {
	var out models.QueueItem
	err := s.withTx(func(tx *sql.Tx) error {
		it, err := getItem(tx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if it.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%s is %s: %w", id, it.Status, ErrInvalidTransition)
		}
		args = append(append([]any{}, args...), s.timestamp(), id)
		if _, err := tx.Exec("UPDATE queue_items SET "+update+", updated_at = ? WHERE id = ?", args...); err != nil {
			return err
		}
		out, err = getItem(tx, id)
		return err
	})
	return out, err
}

// UpdateProgress records progress on a processing item. Progress never
// moves backwards and stays below 100 until the item completes.
func (s *Store) UpdateProgress(id string, progress int, step string) (models.QueueItem, error) {
	progress = min(max(progress, 0), 99)
	return s.transition(id, []models.ItemStatus{models.StatusProcessing},
		"progress = MAX(progress, ?), current_step = ?", progress, strings.TrimSpace(step))
}

// CompleteItem marks a processing item completed with its transcript path.
func (s *Store) CompleteItem(id, outputPath string) (models.QueueItem, error) {
	if strings.TrimSpace(outputPath) == "" {
		return models.QueueItem{}, errors.New("output path is required")
	}
	return s.transition(id, []models.ItemStatus{models.StatusProcessing},
		"status = 'completed', progress = 100, current_step = '', output_path = ?, error_kind = '', error_message = ''",
		outputPath)
}

// FailItem marks a queued or processing item failed.
func (s *Store) FailItem(id, kind, message string) (models.QueueItem, error) {
	if kind == "" {
		kind = "processing"
	}
	if message == "" {
		message = "processing failed"
	}
	return s.transition(id, []models.ItemStatus{models.StatusQueued, models.StatusProcessing},
		"status = 'failed', progress = MIN(progress, 99), current_step = '', output_path = '', error_kind = ?, error_message = ?",
		kind, message)
}

// RequeueItem returns a processing or failed item to the queue with its
// progress reset.
func (s *Store) RequeueItem(id string) (models.QueueItem, error) {
	return s.transition(id, []models.ItemStatus{models.StatusProcessing, models.StatusFailed},
		"status = 'queued', progress = 0, current_step = '', error_kind = '', error_message = ''")
}

// RequeueProcessing returns every processing item to the queue. It is run
// at startup, when no worker can still hold one.
func (s *Store) RequeueProcessing() (int, error) {
	res, err := s.db.Exec(`UPDATE queue_items SET status = 'queued', progress = 0, current_step = '',
		updated_at = ? WHERE status = 'processing'`, s.timestamp())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats counts items per status.
func (s *Store) Stats() (models.QueueStats, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM queue_items GROUP BY status")
	if err != nil {
		return models.QueueStats{}, err
	}
	defer rows.Close()

	var st models.QueueStats
	for rows.Next() {
		var status models.ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return models.QueueStats{}, err
		}
		st.Total += n
		switch status {
		case models.StatusQueued:
			st.Queued = n
		case models.StatusProcessing:
			st.Processing = n
		case models.StatusCompleted:
			st.Completed = n
		case models.StatusFailed:
			st.Failed = n
		}
	}
	return st, rows.Err()
}

// PruneFinished deletes completed and failed items last touched before
// cutoff and returns their ids.
func (s *Store) PruneFinished(cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM queue_items
			WHERE status IN ('completed', 'failed') AND updated_at < ? ORDER BY position`, cutoff.UTC())
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.Exec("DELETE FROM queue_items WHERE id = ?", id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
