package backend

import "github.com/redis/go-redis/v9"

// All multi-key transitions run as Lua scripts so that a job is never
// visible in two buckets at once.

// pushScript stores the job hash and parks the id in waiting or delayed.
// KEYS: target zset, seq, job hash, queues set
// ARGV: jobId, payload, priority, status, dueMs (0 = waiting), queueName
var pushScript = redis.NewScript(`
redis.call('SADD', KEYS[4], ARGV[6])
redis.call('HSET', KEYS[3], 'payload', ARGV[2], 'status', ARGV[4], 'priority', ARGV[3], 'attemptsMade', 0)
if tonumber(ARGV[5]) > 0 then
	redis.call('ZADD', KEYS[1], tonumber(ARGV[5]), ARGV[1])
else
	local seq = redis.call('INCR', KEYS[2])
	redis.call('ZADD', KEYS[1], seq - tonumber(ARGV[3]) * 1e9, ARGV[1])
end
return 1
`)

// reserveScript atomically moves the best eligible waiting job to active
// with a visibility deadline and marks the attempt started.
// KEYS: paused flag, waiting, active
// ARGV: deadlineMs, job key prefix, nowMs, workerToken
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return false
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '+inf', 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', KEYS[2], id)
redis.call('ZADD', KEYS[3], tonumber(ARGV[1]), id)
local jobKey = ARGV[2] .. id
redis.call('HSET', jobKey, 'status', 'active', 'processedOn', ARGV[3], 'worker', ARGV[4])
redis.call('HINCRBY', jobKey, 'attemptsMade', 1)
return id
`)

// completeScript moves a job to the completed bucket. Waiting and
// delayed are cleared too so externally tracked jobs can finish without
// ever being reserved; such jobs count one attempt, terminal jobs always
// have attemptsMade >= 1.
// KEYS: active, waiting, delayed, completed, job hash
// ARGV: jobId, nowMs, result JSON
var completeScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], tonumber(ARGV[2]), ARGV[1])
redis.call('HSET', KEYS[5], 'status', 'completed', 'result', ARGV[3], 'finishedOn', ARGV[2], 'failedReason', '')
if tonumber(redis.call('HGET', KEYS[5], 'attemptsMade') or '0') == 0 then
	redis.call('HSET', KEYS[5], 'attemptsMade', 1)
end
return 1
`)

// failScript moves a job to the failed bucket.
// KEYS: active, waiting, delayed, failed, job hash
// ARGV: jobId, nowMs, reason
var failScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], tonumber(ARGV[2]), ARGV[1])
redis.call('HSET', KEYS[5], 'status', 'failed', 'failedReason', ARGV[3], 'finishedOn', ARGV[2])
if tonumber(redis.call('HGET', KEYS[5], 'attemptsMade') or '0') == 0 then
	redis.call('HSET', KEYS[5], 'attemptsMade', 1)
end
return 1
`)

// retryScript parks a failed-but-retriable active job in the delayed set.
// KEYS: active, delayed, job hash
// ARGV: jobId, dueMs, reason
var retryScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[1])
redis.call('HSET', KEYS[3], 'status', 'delayed', 'failedReason', ARGV[3])
return 1
`)

// promoteScript moves due delayed jobs back to waiting, restoring priority
// ordering via the per-queue sequence counter.
// KEYS: source zset (delayed or active), waiting, seq
// ARGV: cutoffMs, limit, job key prefix
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	local seq = redis.call('INCR', KEYS[3])
	local pri = tonumber(redis.call('HGET', ARGV[3] .. id, 'priority')) or 0
	redis.call('ZADD', KEYS[2], seq - pri * 1e9, id)
	redis.call('HSET', ARGV[3] .. id, 'status', 'waiting')
end
return #due
`)

// removeScript deletes a non-active, non-terminal job.
// KEYS: waiting, delayed, job hash
// ARGV: jobId
var removeScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1]) + redis.call('ZREM', KEYS[2], ARGV[1])
if removed > 0 then
	redis.call('DEL', KEYS[3])
end
return removed
`)
