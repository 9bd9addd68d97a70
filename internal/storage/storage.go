package storage

// HistoryRecord is the persisted outcome of a finished transfer. The live
// registry is never restored from history; this is an append-only audit
// trail for inspection.
type HistoryRecord struct {
	TransferID    int64  `json:"transfer_id"`
	SourceURL     string `json:"source_url"`
	DisplayName   string `json:"display_name"`
	Status        string `json:"status"`
	BytesReceived int64  `json:"bytes_received"`
	FinishedAt    string `json:"finished_at"`
}

// HistoryReadRepository serves the audit trail.
type HistoryReadRepository interface {
	History(limit int) ([]HistoryRecord, error)
}

// HistoryWriteRepository appends terminal transfer outcomes.
type HistoryWriteRepository interface {
	Append(rec HistoryRecord) error
}

// HistoryRepository combines both sides.
type HistoryRepository interface {
	HistoryReadRepository
	HistoryWriteRepository
}
