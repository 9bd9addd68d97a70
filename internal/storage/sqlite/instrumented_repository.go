package sqlite

import (
	"context"
	"database/sql"

	"github.com/glorisonglotech/omnibiz-transferd/internal/storage"
	"github.com/glorisonglotech/omnibiz-transferd/internal/telemetry"
)

// InstrumentedHistoryRepository wraps HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      *HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      NewHistoryRepository(dbConn),
		telemetry: tel,
	}
}

// Append records a terminal outcome with telemetry.
func (r *InstrumentedHistoryRepository) Append(rec storage.HistoryRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "append_history", func(ctx context.Context) error {
		return r.repo.Append(rec)
	})
}

// History retrieves recent outcomes with telemetry.
func (r *InstrumentedHistoryRepository) History(limit int) ([]storage.HistoryRecord, error) {
	var result []storage.HistoryRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_history", func(ctx context.Context) error {
		result, err = r.repo.History(limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
