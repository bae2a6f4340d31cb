package cron

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// NextFire computes the next fire time strictly after `after` (ms), or nil
// if the schedule is exhausted. It is a pure function: no I/O, no state.
//
// Cron expressions are evaluated at minute granularity in the schedule's
// timezone (local if unset). When both day-of-month and day-of-week are
// restricted the fields are OR-combined, standard cron semantics; gronx is
// the single authority so every store backend sees identical fire times.
//
// Malformed input is rejected by ValidateSchedule before a job is persisted,
// so NextFire is total over stored schedules.
func NextFire(s Schedule, after int64) *int64 {
	switch s.Kind {
	case ScheduleAt:
		if s.AtMS != nil && *s.AtMS > after {
			return s.AtMS
		}
		return nil

	case ScheduleEvery:
		if s.EveryMS == nil || *s.EveryMS <= 0 {
			return nil
		}
		next := after + *s.EveryMS
		return &next

	case ScheduleCron:
		if s.Expr == "" {
			return nil
		}
		ref := time.UnixMilli(after).In(scheduleLocation(s))
		next, err := gronx.NextTickAfter(s.Expr, ref, false)
		if err != nil {
			return nil
		}
		ms := next.UnixMilli()
		return &ms

	default:
		return nil
	}
}

// NextFireForJob computes a job's next fire time at wall-clock `now`,
// anchored on its scheduling state:
//   - interval jobs that have never fired are due immediately
//     (at creation time, or now if creation is already past);
//   - everything else is evaluated after the last fire, falling back to
//     creation time, which yields catch-up semantics across restarts
//     (a fire missed while the process was down produces one run, not N).
func NextFireForJob(j *Job, now int64) *int64 {
	if j.Schedule.Kind == ScheduleEvery && j.State.LastRunAtMS == nil {
		first := j.CreatedAtMS
		if now > first {
			first = now
		}
		return &first
	}

	after := j.CreatedAtMS
	if j.State.LastRunAtMS != nil {
		after = *j.State.LastRunAtMS
	}
	return NextFire(j.Schedule, after)
}

// ValidateSchedule rejects malformed schedules before they are persisted.
func ValidateSchedule(s Schedule) error {
	switch s.Kind {
	case ScheduleAt:
		if s.AtMS == nil || *s.AtMS <= 0 {
			return fmt.Errorf("%w: at schedule requires atMs", ErrInvalidSchedule)
		}
	case ScheduleEvery:
		if s.EveryMS == nil || *s.EveryMS <= 0 {
			return fmt.Errorf("%w: every schedule requires positive everyMs", ErrInvalidSchedule)
		}
	case ScheduleCron:
		if s.Expr == "" {
			return fmt.Errorf("%w: cron schedule requires expr", ErrInvalidSchedule)
		}
		if !gronx.New().IsValid(s.Expr) {
			return fmt.Errorf("%w: bad cron expression %q", ErrInvalidSchedule, s.Expr)
		}
		if s.TZ != "" {
			if _, err := time.LoadLocation(s.TZ); err != nil {
				return fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, s.TZ)
			}
		}
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidSchedule, s.Kind)
	}
	return nil
}

// ValidatePayload rejects payloads the executor could never act on.
func ValidatePayload(p Payload) error {
	switch p.Kind {
	case PayloadSystemEvent:
		if p.Text == "" {
			return fmt.Errorf("%w: systemEvent payload requires text", ErrInvalidPayload)
		}
	case PayloadAgentTurn:
		if p.Message == "" {
			return fmt.Errorf("%w: agentTurn payload requires message", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrInvalidPayload, p.Kind)
	}
	return nil
}

func scheduleLocation(s Schedule) *time.Location {
	if s.TZ == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.TZ)
	if err != nil {
		return time.Local
	}
	return loc
}
