package coordination

import "time"

// timer wraps time.AfterFunc so every fire re-enters the actor through its
// command channel rather than touching actor state from the timer's own
// goroutine — spec.md §5's "timers may fire concurrently; their handlers
// re-enter the actor" requirement.
type timer struct {
	t *time.Timer
}

// newTimer schedules cmd to run on the server's actor loop after d by
// posting it as a command; cmd itself must not touch Server state directly
// except through its *Server parameter.
func (s *Server) newTimer(d time.Duration, cmd func(*Server)) *timer {
	t := time.AfterFunc(d, func() {
		s.post(cmd)
	})
	return &timer{t: t}
}

func (t *timer) stop() {
	if t != nil && t.t != nil {
		t.t.Stop()
	}
}

func (t *timer) reset(d time.Duration) {
	if t != nil && t.t != nil {
		t.t.Reset(d)
	}
}
