package logging

// SelfLog carries human readable diagnostics about the logger's own failures.
// A nil *SelfLog means diagnostics are disabled; all methods accept it.
type SelfLog struct {
	ch chan string
}

// NewSelfLog returns nil unless enabled, so nothing is allocated for a
// disabled channel.
func NewSelfLog(enabled bool) *SelfLog {
	if !enabled {
		return nil
	}
	return &SelfLog{ch: make(chan string, SelfLogCapacity)}
}

// Offer enqueues msg without blocking. It reports false when the channel is
// absent or full, in which case msg is discarded.
func (s *SelfLog) Offer(msg string) bool {
	if s == nil {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// C returns the read side, or nil with ok == false when disabled.
func (s *SelfLog) C() (<-chan string, bool) {
	if s == nil {
		return nil, false
	}
	return s.ch, true
}

func (s *SelfLog) Enabled() bool {
	return s != nil
}
