package transfer

import (
	"strings"
	"time"
)

// SizeUnknown marks a transfer whose total size was not declared by the
// origin, so percent-complete cannot be computed.
const SizeUnknown int64 = 0

// ResumePolicy describes how a paused transfer was continued.
type ResumePolicy string

const (
	// ResumeRange means the origin honored a ranged request and the
	// transfer continued from the last received byte offset.
	ResumeRange ResumePolicy = "range"
	// ResumeRestart means the origin ignored the ranged request and the
	// transfer restarted from zero.
	ResumeRestart ResumePolicy = "restart"
)

// Record is the tracked state of one in-progress or finished retrieval.
// Records are owned by the Registry; all mutation goes through it.
type Record struct {
	ID            int64        `json:"id"`
	SourceURL     string       `json:"source_url"`
	DisplayName   string       `json:"display_name"`
	Status        Status       `json:"status"`
	BytesReceived int64        `json:"bytes_received"`
	TotalBytes    int64        `json:"total_bytes"`
	Progress      float64      `json:"progress_percent"`
	SpeedBPS      float64      `json:"speed_bytes_per_sec"`
	ETASeconds    float64      `json:"eta_seconds"`
	ETAKnown      bool         `json:"eta_known"`
	Protocol      string       `json:"protocol_label"`
	ResumePolicy  ResumePolicy `json:"resume_policy,omitempty"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
}

// SizeKnown reports whether the origin declared a total size.
func (r *Record) SizeKnown() bool {
	return r.TotalBytes > SizeUnknown
}

// ProtocolLabel infers a descriptive tag from the URL shape. The label is
// informational only; magnet links are labeled but still fetched like any
// other URL.
func ProtocolLabel(rawURL string) string {
	lower := strings.ToLower(strings.TrimSpace(rawURL))

	switch {
	case strings.HasPrefix(lower, "magnet:"):
		return "BitTorrent"
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return "HTTP"
	case strings.HasPrefix(lower, "ftp://"):
		return "FTP"
	default:
		return "Direct"
	}
}
