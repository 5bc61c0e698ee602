package orchestrator

import "time"

// Handle cancels a scheduled call. Cancel after the call ran is a no-op.
type Handle interface {
	Cancel()
}

// Scheduler runs fn once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Handle
}

// TimerScheduler schedules on the wall clock.
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	return timerHandle{t: time.AfterFunc(d, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() { h.t.Stop() }
