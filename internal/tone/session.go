package tone

// #region session-state
// HistorySize is the default bound on SessionState.History.
const HistorySize = 10

// MedianWindow is how many prior raw readings the median pre-filter needs.
const MedianWindow = 2

// SessionState is the per-session tone state threaded through every turn.
// It is a plain value owned by the caller; the pipeline never keeps a reference
// to it and returns an updated copy only when a turn succeeds.
type SessionState struct {
	// History holds post-regularization vectors, oldest first.
	History []Vector `json:"history"`
	// Window holds the most recent raw readings fed to the median filter.
	Window []Vector `json:"window"`
	// LastFeatures is the previous turn's feature map, for change-point detection.
	LastFeatures Features `json:"last_features,omitempty"`
	// LastEmitted is the previous filter-chain output (pre-regularizer). Nil before the first turn.
	LastEmitted *Vector `json:"last_emitted,omitempty"`
	Turns       int     `json:"turns"`
}

// NewSessionState returns the empty state of a session's first turn.
func NewSessionState() SessionState {
	return SessionState{}
}

// Clone deep-copies s so the copy can be mutated without touching s.
func (s SessionState) Clone() SessionState {
	out := SessionState{
		LastFeatures: s.LastFeatures.Clone(),
		Turns:        s.Turns,
	}
	if len(s.History) > 0 {
		out.History = append([]Vector(nil), s.History...)
	}
	if len(s.Window) > 0 {
		out.Window = append([]Vector(nil), s.Window...)
	}
	if s.LastEmitted != nil {
		v := *s.LastEmitted
		out.LastEmitted = &v
	}
	return out
}

// PushHistory appends v and evicts from the front until len(History) <= limit.
func (s *SessionState) PushHistory(v Vector, limit int) {
	s.History = pushBounded(s.History, v, limit)
}

// PushWindow appends a raw reading to the median window.
func (s *SessionState) PushWindow(v Vector) {
	s.Window = pushBounded(s.Window, v, MedianWindow)
}

// Recent returns up to n of the newest history entries, oldest first.
func (s SessionState) Recent(n int) []Vector {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

func pushBounded(buf []Vector, v Vector, limit int) []Vector {
	if limit < 1 {
		limit = 1
	}
	buf = append(buf, v)
	if over := len(buf) - limit; over > 0 {
		// Copy down so the backing array does not grow without bound.
		buf = append(buf[:0:0], buf[over:]...)
	}
	return buf
}

// #endregion session-state
