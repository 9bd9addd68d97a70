package sqlite

import (
	"database/sql"

	"github.com/glorisonglotech/omnibiz-transferd/internal/storage"
)

const defaultHistoryLimit = 100

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

// Append records the terminal outcome of one transfer.
func (r *HistoryRepository) Append(rec storage.HistoryRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO transfer_history (transfer_id, source_url, display_name, status, bytes_received, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.TransferID, rec.SourceURL, rec.DisplayName, rec.Status, rec.BytesReceived, rec.FinishedAt)

	return err
}

// History returns the most recent outcomes, newest first, up to limit.
func (r *HistoryRepository) History(limit int) ([]storage.HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.db.Query(`
		SELECT transfer_id, source_url, display_name, status, bytes_received, finished_at
		FROM transfer_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.HistoryRecord

	for rows.Next() {
		var rec storage.HistoryRecord
		if err := rows.Scan(
			&rec.TransferID,
			&rec.SourceURL,
			&rec.DisplayName,
			&rec.Status,
			&rec.BytesReceived,
			&rec.FinishedAt,
		); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
