package backend

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/types"
)

// Options configures the KV backend connection
type Options struct {
	Addr     string
	Password string
	DB       int
	// UseTLS dials with TLS but skips certificate verification. This
	// relaxation matches managed-database endpoints that present
	// certificates for internal hostnames; the port-based switch is
	// decided by the config layer.
	UseTLS   bool
	PoolSize int
}

// Backend exposes atomic queue primitives over a Redis-compatible store
type Backend struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// Bucket names accepted by Clean and ListJobIDs
const (
	BucketWaiting   = "waiting"
	BucketDelayed   = "delayed"
	BucketActive    = "active"
	BucketCompleted = "completed"
	BucketFailed    = "failed"
)

// New connects to the store and verifies the connection with a ping
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.PoolSize < 2 {
		opts.PoolSize = 2
	}

	ropts := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	}
	if opts.UseTLS {
		ropts.TLSConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- managed-DB endpoint, see Options.UseTLS
	}

	b := &Backend{
		rdb:    redis.NewClient(ropts),
		logger: log.WithComponent("backend"),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to key-value store at %s: %w", opts.Addr, err)
	}

	if opts.UseTLS {
		b.logger.Warn().Str("addr", opts.Addr).
			Msg("TLS certificate verification disabled for managed-DB port")
	}

	return b, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(rdb *redis.Client) *Backend {
	return &Backend{rdb: rdb, logger: log.WithComponent("backend")}
}

// Close releases the connection pool
func (b *Backend) Close() error {
	return b.rdb.Close()
}

// Push stores the job and appends it to the waiting list, or parks it in
// the delayed set when dueAt is non-zero.
func (b *Backend) Push(ctx context.Context, job *types.Job, dueAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	target := keyWaiting(job.Queue)
	dueMs := int64(0)
	if !dueAt.IsZero() {
		target = keyDelayed(job.Queue)
		dueMs = dueAt.UnixMilli()
	}

	keys := []string{target, keySeq(job.Queue), keyJob(job.Queue, job.ID), keyQueues}
	argv := []interface{}{job.ID, string(payload), job.Options.Priority, string(job.Status), dueMs, job.Queue}
	if err := pushScript.Run(ctx, b.rdb, keys, argv...).Err(); err != nil {
		return fmt.Errorf("failed to push job %s: %w", job.ID, err)
	}
	return nil
}

// Reserve atomically claims the next eligible waiting job for workerToken.
// It returns empty when the queue is paused or drained. The claimed job is
// reclaimable by others once the visibility deadline passes.
func (b *Backend) Reserve(ctx context.Context, queue, workerToken string, visibility time.Duration) (string, error) {
	now := time.Now()
	keys := []string{keyPaused(queue), keyWaiting(queue), keyActive(queue)}
	argv := []interface{}{now.Add(visibility).UnixMilli(), jobKeyPrefix(queue), now.UnixMilli(), workerToken}

	res, err := reserveScript.Run(ctx, b.rdb, keys, argv...).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to reserve from queue %s: %w", queue, err)
	}
	id, _ := res.(string)
	return id, nil
}

// Complete records a successful terminal transition
func (b *Backend) Complete(ctx context.Context, queue, jobID string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for job %s: %w", jobID, err)
	}
	keys := []string{keyActive(queue), keyWaiting(queue), keyDelayed(queue), keyCompleted(queue), keyJob(queue, jobID)}
	argv := []interface{}{jobID, time.Now().UnixMilli(), string(data)}
	if err := completeScript.Run(ctx, b.rdb, keys, argv...).Err(); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

// Fail records a failed terminal transition
func (b *Backend) Fail(ctx context.Context, queue, jobID, reason string) error {
	keys := []string{keyActive(queue), keyWaiting(queue), keyDelayed(queue), keyFailed(queue), keyJob(queue, jobID)}
	argv := []interface{}{jobID, time.Now().UnixMilli(), reason}
	if err := failScript.Run(ctx, b.rdb, keys, argv...).Err(); err != nil {
		return fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}
	return nil
}

// DelayUntil re-parks an active job in the delayed set for a later retry
func (b *Backend) DelayUntil(ctx context.Context, queue, jobID string, due time.Time, reason string) error {
	keys := []string{keyActive(queue), keyDelayed(queue), keyJob(queue, jobID)}
	argv := []interface{}{jobID, due.UnixMilli(), reason}
	if err := retryScript.Run(ctx, b.rdb, keys, argv...).Err(); err != nil {
		return fmt.Errorf("failed to delay job %s: %w", jobID, err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose due time has passed back to waiting.
// Returns the number of promoted jobs.
func (b *Backend) PromoteDue(ctx context.Context, queue string, limit int) (int64, error) {
	keys := []string{keyDelayed(queue), keyWaiting(queue), keySeq(queue)}
	argv := []interface{}{time.Now().UnixMilli(), limit, jobKeyPrefix(queue)}
	n, err := promoteScript.Run(ctx, b.rdb, keys, argv...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs in %s: %w", queue, err)
	}
	return n, nil
}

// ReclaimExpired returns active jobs whose visibility deadline has passed
// to the waiting list. At-least-once delivery depends on this sweep.
func (b *Backend) ReclaimExpired(ctx context.Context, queue string, limit int) (int64, error) {
	keys := []string{keyActive(queue), keyWaiting(queue), keySeq(queue)}
	argv := []interface{}{time.Now().UnixMilli(), limit, jobKeyPrefix(queue)}
	n, err := promoteScript.Run(ctx, b.rdb, keys, argv...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired jobs in %s: %w", queue, err)
	}
	return n, nil
}

// Remove deletes a waiting or delayed job. Returns false when the job was
// not in either bucket (active or terminal jobs are not removable here).
func (b *Backend) Remove(ctx context.Context, queue, jobID string) (bool, error) {
	keys := []string{keyWaiting(queue), keyDelayed(queue), keyJob(queue, jobID)}
	n, err := removeScript.Run(ctx, b.rdb, keys, jobID).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to remove job %s: %w", jobID, err)
	}
	return n > 0, nil
}

// GetJob loads a job and overlays its mutable state. Returns nil when the
// job hash does not exist.
func (b *Backend) GetJob(ctx context.Context, queue, jobID string) (*types.Job, error) {
	fields, err := b.rdb.HGetAll(ctx, keyJob(queue, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return unmarshalJob(fields)
}

// SetProgress persists a progress update on an active job
func (b *Backend) SetProgress(ctx context.Context, queue, jobID string, progress interface{}) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress for job %s: %w", jobID, err)
	}
	return b.rdb.HSet(ctx, keyJob(queue, jobID), fieldProgress, string(data)).Err()
}

// Pause blocks reservations on the queue until Resume
func (b *Backend) Pause(ctx context.Context, queue string) error {
	return b.rdb.Set(ctx, keyPaused(queue), "1", 0).Err()
}

// Resume lifts a pause
func (b *Backend) Resume(ctx context.Context, queue string) error {
	return b.rdb.Del(ctx, keyPaused(queue)).Err()
}

// IsPaused reports the queue pause flag
func (b *Backend) IsPaused(ctx context.Context, queue string) (bool, error) {
	n, err := b.rdb.Exists(ctx, keyPaused(queue)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats returns per-bucket counts for a queue
func (b *Backend) Stats(ctx context.Context, queue string) (*types.QueueStats, error) {
	pipe := b.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, keyWaiting(queue))
	delayed := pipe.ZCard(ctx, keyDelayed(queue))
	active := pipe.ZCard(ctx, keyActive(queue))
	completed := pipe.ZCard(ctx, keyCompleted(queue))
	failed := pipe.ZCard(ctx, keyFailed(queue))
	paused := pipe.Exists(ctx, keyPaused(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read stats for queue %s: %w", queue, err)
	}

	stats := &types.QueueStats{
		Name:   queue,
		Paused: paused.Val() > 0,
		Counts: types.JobCounts{
			Waiting:   waiting.Val(),
			Delayed:   delayed.Val(),
			Active:    active.Val(),
			Completed: completed.Val(),
			Failed:    failed.Val(),
		},
	}
	// Waiting jobs in a paused queue are reported as paused
	if stats.Paused {
		stats.Counts.Paused = stats.Counts.Waiting
		stats.Counts.Waiting = 0
	}
	return stats, nil
}

// Clean trims a terminal bucket to the given age and count bounds,
// deleting the job hashes of trimmed entries.
func (b *Backend) Clean(ctx context.Context, queue, bucket string, maxAge time.Duration, maxCount int64) (int64, error) {
	key, err := bucketKey(queue, bucket)
	if err != nil {
		return 0, err
	}

	var trimmed []string

	if maxAge > 0 {
		cutoff := strconv.FormatInt(time.Now().Add(-maxAge).UnixMilli(), 10)
		old, err := b.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan bucket %s of %s: %w", bucket, queue, err)
		}
		trimmed = append(trimmed, old...)
	}

	if maxCount > 0 {
		card, err := b.rdb.ZCard(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if excess := card - int64(len(trimmed)) - maxCount; excess > 0 {
			oldest, err := b.rdb.ZRange(ctx, key, 0, excess-1).Result()
			if err != nil {
				return 0, err
			}
			trimmed = append(trimmed, oldest...)
		}
	}

	if len(trimmed) == 0 {
		return 0, nil
	}

	pipe := b.rdb.Pipeline()
	for _, id := range trimmed {
		pipe.ZRem(ctx, key, id)
		pipe.Del(ctx, keyJob(queue, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to trim bucket %s of %s: %w", bucket, queue, err)
	}
	return int64(len(trimmed)), nil
}

// ListJobIDs returns job ids in a bucket, oldest first
func (b *Backend) ListJobIDs(ctx context.Context, queue, bucket string, offset, count int64) ([]string, error) {
	key, err := bucketKey(queue, bucket)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 100
	}
	return b.rdb.ZRange(ctx, key, offset, offset+count-1).Result()
}

// Queues returns all queue names ever referenced
func (b *Backend) Queues(ctx context.Context) ([]string, error) {
	return b.rdb.SMembers(ctx, keyQueues).Result()
}

// RegisterQueue records a queue name without pushing a job
func (b *Backend) RegisterQueue(ctx context.Context, queue string) error {
	return b.rdb.SAdd(ctx, keyQueues, queue).Err()
}

func bucketKey(queue, bucket string) (string, error) {
	switch bucket {
	case BucketWaiting:
		return keyWaiting(queue), nil
	case BucketDelayed:
		return keyDelayed(queue), nil
	case BucketActive:
		return keyActive(queue), nil
	case BucketCompleted:
		return keyCompleted(queue), nil
	case BucketFailed:
		return keyFailed(queue), nil
	default:
		return "", fmt.Errorf("unknown bucket %q", bucket)
	}
}

func unmarshalJob(fields map[string]string) (*types.Job, error) {
	payload, ok := fields[fieldPayload]
	if !ok {
		return nil, fmt.Errorf("job hash has no payload field")
	}

	var job types.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	if v, ok := fields[fieldStatus]; ok && v != "" {
		job.Status = types.JobStatus(v)
	}
	if v, ok := fields[fieldAttemptsMade]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.AttemptsMade = n
		}
	}
	if v, ok := fields[fieldProgress]; ok && v != "" {
		var progress interface{}
		if err := json.Unmarshal([]byte(v), &progress); err == nil {
			job.Progress = progress
		}
	}
	if v, ok := fields[fieldResult]; ok && v != "" {
		var result interface{}
		if err := json.Unmarshal([]byte(v), &result); err == nil {
			job.Result = result
		}
	}
	if v, ok := fields[fieldFailedReason]; ok {
		job.FailedReason = v
	}
	if t := parseEpochMs(fields[fieldProcessedOn]); t != nil {
		job.ProcessedOn = t
	}
	if t := parseEpochMs(fields[fieldFinishedOn]); t != nil {
		job.FinishedOn = t
	}
	return &job, nil
}

func parseEpochMs(v string) *time.Time {
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
