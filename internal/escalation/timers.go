package escalation

import (
	"sync"
	"time"
)

// timerSet tracks the pending SLA and retry timers per case so they
// can be cancelled the moment a case reaches a terminal state.
type timerSet struct {
	mu     sync.Mutex
	timers map[string][]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string][]*time.Timer)}
}

// After schedules fn for caseID and remembers the timer.
func (ts *timerSet) After(caseID string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	timer := time.AfterFunc(d, fn)
	ts.timers[caseID] = append(ts.timers[caseID], timer)
}

// Cancel stops every pending timer for caseID.
func (ts *timerSet) Cancel(caseID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, timer := range ts.timers[caseID] {
		timer.Stop()
	}
	delete(ts.timers, caseID)
}

// CancelAll stops everything, for shutdown.
func (ts *timerSet) CancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, timers := range ts.timers {
		for _, timer := range timers {
			timer.Stop()
		}
		delete(ts.timers, id)
	}
}
