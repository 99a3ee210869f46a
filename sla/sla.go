// Package sla computes deadlines and classifies time remaining against
// them. It is pure: no clocks, no I/O. Callers pass "now" explicitly,
// which keeps the same functions usable for permit expiry, approval-step
// time limits and investigation deadlines alike.
package sla

import "time"

// Status classifies how a deadline stands relative to now.
type Status string

const (
	StatusOnTrack Status = "on_track"
	StatusDueSoon Status = "due_soon"
	StatusOverdue Status = "overdue"
)

const (
	millisPerHour = int64(time.Hour / time.Millisecond)
	millisPerDay  = 24 * millisPerHour
)

// Report is the result of evaluating a deadline.
type Report struct {
	DueAt         int64  `json:"due_at"`
	DaysRemaining int64  `json:"days_remaining"`
	Status        Status `json:"status"`
}

// ComputeDeadline returns anchor + limitHours as a unix-millisecond
// timestamp. The arithmetic is pure elapsed duration, never calendar-day
// rounding.
func ComputeDeadline(anchor int64, limitHours float64) int64 {
	return anchor + int64(limitHours*float64(millisPerHour))
}

// Evaluate classifies a deadline against now. Overdue once now passes due;
// due-soon inside the window before it, else on-track. DaysRemaining is
// signed and truncated toward zero, so an overdue deadline reports a
// negative value.
func Evaluate(due, now int64, dueSoonWindow time.Duration) Report {
	remaining := due - now

	status := StatusOnTrack
	switch {
	case remaining < 0:
		status = StatusOverdue
	case remaining <= int64(dueSoonWindow/time.Millisecond):
		status = StatusDueSoon
	}

	return Report{
		DueAt:         due,
		DaysRemaining: remaining / millisPerDay,
		Status:        status,
	}
}

// EvaluateDefault evaluates with the conventional one-day due-soon window.
func EvaluateDefault(due, now int64) Report {
	return Evaluate(due, now, 24*time.Hour)
}
