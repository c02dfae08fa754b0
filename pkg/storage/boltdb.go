package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/hutch/pkg/types"
)

var (
	// Bucket names
	bucketApplications  = []byte("applications")
	bucketAppKeys       = []byte("application_keys") // key hash -> application id
	bucketSubscriptions = []byte("subscriptions")
	bucketSchedules     = []byte("schedules")
)

// ErrNotFound is returned when a record does not exist
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsNotFound reports whether err is a missing-record error
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hutch.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketApplications,
			bucketAppKeys,
			bucketSubscriptions,
			bucketSchedules,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Application operations

func (s *BoltStore) CreateApplication(app *types.Application) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		data, err := marshalApplication(app)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(app.ID), data); err != nil {
			return err
		}
		if app.KeyHash != "" {
			return tx.Bucket(bucketAppKeys).Put([]byte(app.KeyHash), []byte(app.ID))
		}
		return nil
	})
}

func (s *BoltStore) GetApplication(id string) (*types.Application, error) {
	var app types.Application
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketApplications).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "application", ID: id}
		}
		return unmarshalApplication(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *BoltStore) GetApplicationByKeyHash(keyHash string) (*types.Application, error) {
	var app types.Application
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketAppKeys).Get([]byte(keyHash))
		if id == nil {
			return &ErrNotFound{Kind: "application", ID: "<by key>"}
		}
		data := tx.Bucket(bucketApplications).Get(id)
		if data == nil {
			return &ErrNotFound{Kind: "application", ID: string(id)}
		}
		return unmarshalApplication(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *BoltStore) ListApplications() ([]*types.Application, error) {
	var apps []*types.Application
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApplications).ForEach(func(k, v []byte) error {
			var app types.Application
			if err := unmarshalApplication(v, &app); err != nil {
				return err
			}
			apps = append(apps, &app)
			return nil
		})
	})
	return apps, err
}

func (s *BoltStore) UpdateApplication(app *types.Application) error {
	return s.CreateApplication(app) // Same as create (upsert)
}

func (s *BoltStore) DeleteApplication(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		data := b.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "application", ID: id}
		}
		var app types.Application
		if err := unmarshalApplication(data, &app); err != nil {
			return err
		}
		if app.KeyHash != "" {
			if err := tx.Bucket(bucketAppKeys).Delete([]byte(app.KeyHash)); err != nil {
				return err
			}
		}
		return b.Delete([]byte(id))
	})
}

// Subscription operations

func (s *BoltStore) CreateSubscription(sub *types.Subscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSubscriptions).Put([]byte(sub.ID), data)
	})
}

func (s *BoltStore) GetSubscription(id string) (*types.Subscription, error) {
	var sub types.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSubscriptions).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "subscription", ID: id}
		}
		return json.Unmarshal(data, &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *BoltStore) ListSubscriptions() ([]*types.Subscription, error) {
	var subs []*types.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, v []byte) error {
			var sub types.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			subs = append(subs, &sub)
			return nil
		})
	})
	return subs, err
}

func (s *BoltStore) ListSubscriptionsByApplication(appID string) ([]*types.Subscription, error) {
	all, err := s.ListSubscriptions()
	if err != nil {
		return nil, err
	}
	var subs []*types.Subscription
	for _, sub := range all {
		if sub.ApplicationID == appID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (s *BoltStore) UpdateSubscription(sub *types.Subscription) error {
	return s.CreateSubscription(sub)
}

func (s *BoltStore) DeleteSubscription(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions)
		if b.Get([]byte(id)) == nil {
			return &ErrNotFound{Kind: "subscription", ID: id}
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) RecordTrigger(id string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions)
		data := b.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "subscription", ID: id}
		}
		var sub types.Subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			return err
		}
		sub.TriggerCount++
		sub.LastTriggeredAt = &at
		updated, err := json.Marshal(&sub)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// Schedule operations

func (s *BoltStore) CreateSchedule(sched *types.Schedule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sched)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSchedules).Put([]byte(sched.ID), data)
	})
}

func (s *BoltStore) GetSchedule(id string) (*types.Schedule, error) {
	var sched types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "schedule", ID: id}
		}
		return json.Unmarshal(data, &sched)
	})
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *BoltStore) ListSchedules() ([]*types.Schedule, error) {
	var scheds []*types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			var sched types.Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return err
			}
			scheds = append(scheds, &sched)
			return nil
		})
	})
	return scheds, err
}

func (s *BoltStore) ListDueSchedules(now time.Time) ([]*types.Schedule, error) {
	all, err := s.ListSchedules()
	if err != nil {
		return nil, err
	}
	var due []*types.Schedule
	for _, sched := range all {
		if !sched.Enabled || sched.NextExecutionAt == nil {
			continue
		}
		if sched.NextExecutionAt.After(now) {
			continue
		}
		if sched.Spec.EndDate != nil && !sched.Spec.EndDate.After(now) {
			continue
		}
		if sched.Spec.Limit > 0 && sched.ExecutionCount >= sched.Spec.Limit {
			continue
		}
		due = append(due, sched)
	}
	return due, nil
}

func (s *BoltStore) UpdateSchedule(sched *types.Schedule) error {
	return s.CreateSchedule(sched)
}

func (s *BoltStore) DeleteSchedule(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		if b.Get([]byte(id)) == nil {
			return &ErrNotFound{Kind: "schedule", ID: id}
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) AdvanceSchedule(id string, prev *time.Time, next *time.Time, disable bool) (bool, error) {
	advanced := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		data := b.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "schedule", ID: id}
		}
		var sched types.Schedule
		if err := json.Unmarshal(data, &sched); err != nil {
			return err
		}
		if !timesEqual(sched.NextExecutionAt, prev) {
			// Another instance advanced first; leave the record alone.
			return nil
		}
		sched.NextExecutionAt = next
		if disable {
			sched.Enabled = false
		}
		sched.UpdatedAt = time.Now()
		updated, err := json.Marshal(&sched)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), updated); err != nil {
			return err
		}
		advanced = true
		return nil
	})
	return advanced, err
}

func (s *BoltStore) RecordScheduleRun(id string, run ScheduleRunUpdate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		data := b.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "schedule", ID: id}
		}
		var sched types.Schedule
		if err := json.Unmarshal(data, &sched); err != nil {
			return err
		}
		executedAt := run.ExecutedAt
		sched.ExecutionCount++
		sched.LastExecutedAt = &executedAt
		sched.LastExecutionStatus = run.Status
		sched.LastExecutionError = run.Error
		sched.UpdatedAt = time.Now()
		updated, err := json.Marshal(&sched)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// marshalApplication includes the KeyHash field, which is excluded from
// the JSON representation returned by the API but must survive storage.
func marshalApplication(app *types.Application) ([]byte, error) {
	rec := struct {
		*types.Application
		KeyHash string `json:"keyHash"`
	}{app, app.KeyHash}
	return json.Marshal(rec)
}

// unmarshalApplication restores the KeyHash field from storage.
func unmarshalApplication(data []byte, app *types.Application) error {
	var rec struct {
		types.Application
		KeyHash string `json:"keyHash"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*app = rec.Application
	app.KeyHash = rec.KeyHash
	return nil
}
