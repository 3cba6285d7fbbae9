package interfaces

import "time"

// TaskStatus is a point-in-time snapshot of one scheduled maintenance task.
type TaskStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	IsRunning bool       `json:"is_running"`
	LastError string     `json:"last_error,omitempty"`
}

// SchedulerService runs periodic maintenance: expired-job sweeps, cache
// purges, token cleanup and store garbage collection.
type SchedulerService interface {
	Start() error
	Stop()

	// IsRunning returns true while the cron loop is active.
	IsRunning() bool

	// TaskStatuses reports every registered maintenance task.
	TaskStatuses() map[string]*TaskStatus
}
