package transfer

// Status is the lifecycle state of a transfer record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// transitions is the directed graph of allowed status changes. A status
// never re-enters pending, and completed/cancelled are terminal.
var transitions = map[Status][]Status{
	// pending → paused covers a pause that lands before the first byte
	// of the response arrives.
	StatusPending:     {StatusDownloading, StatusPaused, StatusError, StatusCancelled},
	StatusDownloading: {StatusPaused, StatusCompleted, StatusError, StatusCancelled},
	StatusPaused:      {StatusDownloading, StatusCancelled},
	StatusError:       {StatusDownloading, StatusCancelled},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]

	return ok
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether a record may move from s to next.
// Staying on the same status is always allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
