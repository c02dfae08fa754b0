package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/backend"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/types"
)

// Service tracks jobs executed by out-of-band workers: callers submit a
// job, poll or list it, and report the outcome themselves. State lives
// in the same backend as managed queues so stats, retention and event
// fanout all apply.
type Service struct {
	backend *backend.Backend
	manager *queue.Manager
	logger  zerolog.Logger
}

// NewService creates the tracker service
func NewService(b *backend.Backend, m *queue.Manager) *Service {
	return &Service{backend: b, manager: m, logger: log.WithComponent("tracker")}
}

// Submit records a tracked job. No handler runs it; the job stays
// waiting until the external worker reports through Update.
func (s *Service) Submit(ctx context.Context, app *types.Application, req queue.EnqueueRequest) (*types.Job, error) {
	return s.manager.Enqueue(ctx, app, req)
}

// Status returns the current state of a tracked job
func (s *Service) Status(ctx context.Context, app *types.Application, queueName, jobID string) (*types.Job, error) {
	return s.manager.GetJob(ctx, app, queueName, jobID)
}

// ListFilter narrows List results. Metadata entries must all match.
type ListFilter struct {
	Queue    string
	Status   types.JobStatus
	Metadata map[string]string
	Limit    int64
}

// List returns tracked jobs across buckets matching the filter, scoped
// to the caller's application unless master.
func (s *Service) List(ctx context.Context, app *types.Application, filter ListFilter) ([]*types.Job, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	queues := []string{filter.Queue}
	if filter.Queue == "" {
		all, err := s.backend.Queues(ctx)
		if err != nil {
			return nil, err
		}
		queues = all
	}

	buckets := []string{
		backend.BucketWaiting, backend.BucketDelayed, backend.BucketActive,
		backend.BucketCompleted, backend.BucketFailed,
	}
	if filter.Status != "" {
		bucket, err := bucketForStatus(filter.Status)
		if err != nil {
			return nil, err
		}
		buckets = []string{bucket}
	}

	var out []*types.Job
	for _, q := range queues {
		for _, bucket := range buckets {
			ids, err := s.backend.ListJobIDs(ctx, q, bucket, 0, filter.Limit)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				job, err := s.backend.GetJob(ctx, q, id)
				if err != nil || job == nil {
					continue
				}
				if !s.visible(app, job) || !matchesMetadata(job, filter.Metadata) {
					continue
				}
				out = append(out, job)
				if int64(len(out)) >= filter.Limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// UpdateRequest reports progress or a terminal outcome. Exactly one of
// Progress, Result or Error is expected.
type UpdateRequest struct {
	Progress interface{}
	Result   interface{}
	Error    string
}

// Update applies an external worker's report to a tracked job
func (s *Service) Update(ctx context.Context, app *types.Application, queueName, jobID string, req UpdateRequest) (*types.Job, error) {
	job, err := s.manager.GetJob(ctx, app, queueName, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, apierr.New(apierr.CodeJobTerminal, "job %q already finished with status %s", jobID, job.Status)
	}

	switch {
	case req.Error != "":
		// external reports are authoritative, no retry cycle
		if err := s.manager.HandleFailure(ctx, job, req.Error, false); err != nil {
			return nil, err
		}
	case req.Result != nil:
		if err := s.manager.HandleSuccess(ctx, job, req.Result); err != nil {
			return nil, err
		}
	case req.Progress != nil:
		if err := s.manager.ReportProgress(ctx, job, req.Progress); err != nil {
			return nil, err
		}
	default:
		return nil, apierr.New(apierr.CodeValidation, "update requires one of progress, result or error").
			WithHints("send progress for interim updates, result to complete, error to fail")
	}

	return s.backend.GetJob(ctx, queueName, jobID)
}

func (s *Service) visible(app *types.Application, job *types.Job) bool {
	return app.IsMaster() || job.Metadata.ApplicationID == app.ID
}

// matchesMetadata compares filter entries against flattened job metadata
func matchesMetadata(job *types.Job, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	md := job.EventMetadata()
	for k, v := range want {
		got, ok := md[k]
		if !ok || fmt.Sprintf("%v", got) != v {
			return false
		}
	}
	return true
}

func bucketForStatus(status types.JobStatus) (string, error) {
	switch status {
	case types.JobStatusWaiting:
		return backend.BucketWaiting, nil
	case types.JobStatusDelayed:
		return backend.BucketDelayed, nil
	case types.JobStatusActive:
		return backend.BucketActive, nil
	case types.JobStatusCompleted:
		return backend.BucketCompleted, nil
	case types.JobStatusFailed:
		return backend.BucketFailed, nil
	}
	return "", apierr.New(apierr.CodeValidation, "unknown status %q", status).
		WithHints("valid statuses: " + strings.Join([]string{"waiting", "delayed", "active", "completed", "failed"}, ", "))
}

// ParseMetadataFilters extracts metadata.<key>=<value> pairs from query
// parameters.
func ParseMetadataFilters(params map[string][]string) map[string]string {
	out := map[string]string{}
	for key, values := range params {
		if !strings.HasPrefix(key, "metadata.") || len(values) == 0 {
			continue
		}
		out[strings.TrimPrefix(key, "metadata.")] = values[0]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
