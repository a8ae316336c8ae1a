package store

import (
	"database/sql"

	"github.com/vrsandeep/vidscribe/internal/models"
)

// GetProcessing returns the persisted processing state with fresh queue
// counts.
func (s *Store) GetProcessing() (models.ProcessingStatus, error) {
	var st models.ProcessingStatus
	err := s.db.QueryRow("SELECT state, output_dir, current_item_id FROM processing_state WHERE id = 1").
		Scan(&st.State, &st.OutputDir, &st.CurrentItemID)
	if err != nil {
		return models.ProcessingStatus{}, err
	}
	st.Stats, err = s.Stats()
	return st, err
}

func readProcessing(tx *sql.Tx) (models.ProcessingStatus, error) {
	var st models.ProcessingStatus
	err := tx.QueryRow("SELECT state, output_dir, current_item_id FROM processing_state WHERE id = 1").
		Scan(&st.State, &st.OutputDir, &st.CurrentItemID)
	return st, err
}

func (s *Store) writeProcessing(tx *sql.Tx, st models.ProcessingStatus) error {
	_, err := tx.Exec(`UPDATE processing_state SET state = ?, output_dir = ?, current_item_id = ?, updated_at = ?
		WHERE id = 1`, st.State, st.OutputDir, st.CurrentItemID, s.timestamp())
	return err
}

// UpdateProcessing applies fn to the processing state inside a transaction
// and stores the result. fn may return an error to abort.
func (s *Store) UpdateProcessing(fn func(st *models.ProcessingStatus) error) (models.ProcessingStatus, error) {
	err := s.withTx(func(tx *sql.Tx) error {
		st, err := readProcessing(tx)
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		return s.writeProcessing(tx, st)
	})
	if err != nil {
		return models.ProcessingStatus{}, err
	}
	return s.GetProcessing()
}

// ClaimForProcessing claims the next queued item for the worker and makes
// it the current item. Processing must be running with no current item.
func (s *Store) ClaimForProcessing() (models.QueueItem, models.ProcessingStatus, error) {
	var claimed models.QueueItem
	err := s.withTx(func(tx *sql.Tx) error {
		st, err := readProcessing(tx)
		if err != nil {
			return err
		}
		if st.State != models.ProcessingRunning {
			return ErrNotRunning
		}
		if st.CurrentItemID != "" {
			return ErrWorkerBusy
		}
		claimed, err = s.claimNext(tx)
		if err != nil {
			return err
		}
		st.CurrentItemID = claimed.ID
		return s.writeProcessing(tx, st)
	})
	if err != nil {
		return models.QueueItem{}, models.ProcessingStatus{}, err
	}
	st, err := s.GetProcessing()
	return claimed, st, err
}
