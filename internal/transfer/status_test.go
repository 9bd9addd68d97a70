package transfer

import "testing"

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusDownloading, true},
		{StatusPending, StatusPaused, true},
		{StatusPending, StatusCompleted, false},
		{StatusDownloading, StatusPaused, true},
		{StatusDownloading, StatusCompleted, true},
		{StatusDownloading, StatusError, true},
		{StatusDownloading, StatusCancelled, true},
		{StatusPaused, StatusDownloading, true},
		{StatusPaused, StatusCompleted, false},
		{StatusError, StatusDownloading, true}, // manual retry
		{StatusCompleted, StatusDownloading, false},
		{StatusCompleted, StatusError, false},
		{StatusCancelled, StatusDownloading, false},
		// nothing ever re-enters pending
		{StatusDownloading, StatusPending, false},
		{StatusPaused, StatusPending, false},
		{StatusError, StatusPending, false},
		// staying put is always fine
		{StatusDownloading, StatusDownloading, true},
		{StatusCompleted, StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	for _, s := range []Status{StatusPending, StatusDownloading, StatusPaused, StatusError} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusDownloading, StatusPaused, StatusCompleted, StatusError, StatusCancelled} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}

	if Status("queued").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestProtocolLabel(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/report.pdf", "HTTP"},
		{"http://example.com/data.csv", "HTTP"},
		{"magnet:?xt=urn:btih:deadbeef", "BitTorrent"},
		{"MAGNET:?xt=urn:btih:deadbeef", "BitTorrent"},
		{"ftp://files.example.com/archive.zip", "FTP"},
		{"/relative/path", "Direct"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := ProtocolLabel(tt.url); got != tt.want {
				t.Errorf("ProtocolLabel(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
