package storage

import (
	"time"

	"github.com/cuemby/hutch/pkg/types"
)

// ScheduleRunUpdate carries the fields recorded after a schedule firing
type ScheduleRunUpdate struct {
	ExecutedAt time.Time
	Status     types.ExecutionStatus
	Error      string
}

// Store defines the interface for document-state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Applications
	CreateApplication(app *types.Application) error
	GetApplication(id string) (*types.Application, error)
	GetApplicationByKeyHash(keyHash string) (*types.Application, error)
	ListApplications() ([]*types.Application, error)
	UpdateApplication(app *types.Application) error
	DeleteApplication(id string) error

	// Subscriptions
	CreateSubscription(sub *types.Subscription) error
	GetSubscription(id string) (*types.Subscription, error)
	ListSubscriptions() ([]*types.Subscription, error)
	ListSubscriptionsByApplication(appID string) ([]*types.Subscription, error)
	UpdateSubscription(sub *types.Subscription) error
	DeleteSubscription(id string) error
	// RecordTrigger bumps triggerCount and lastTriggeredAt atomically
	RecordTrigger(id string, at time.Time) error

	// Schedules
	CreateSchedule(sched *types.Schedule) error
	GetSchedule(id string) (*types.Schedule, error)
	ListSchedules() ([]*types.Schedule, error)
	// ListDueSchedules returns enabled schedules whose nextExecutionAt is
	// at or before now, honoring endDate and limit constraints.
	ListDueSchedules(now time.Time) ([]*types.Schedule, error)
	UpdateSchedule(sched *types.Schedule) error
	DeleteSchedule(id string) error
	// AdvanceSchedule conditionally moves nextExecutionAt from prev to
	// next. It returns false without modifying the record when the stored
	// value no longer equals prev, which prevents duplicate firings.
	AdvanceSchedule(id string, prev *time.Time, next *time.Time, disable bool) (bool, error)
	// RecordScheduleRun stores the outcome of a firing and increments
	// executionCount.
	RecordScheduleRun(id string, run ScheduleRunUpdate) error

	// Utility
	Close() error
}
