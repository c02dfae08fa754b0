package backend

// Key layout. Everything lives under the "hutch:" prefix:
//
//	hutch:queues              SET of registered queue names
//	hutch:q:<q>:waiting       ZSET, score = seq - priority*1e9 (lower pops first)
//	hutch:q:<q>:delayed       ZSET, score = due time (epoch ms)
//	hutch:q:<q>:active        ZSET, score = visibility deadline (epoch ms)
//	hutch:q:<q>:completed     ZSET, score = finish time (epoch ms)
//	hutch:q:<q>:failed        ZSET, score = finish time (epoch ms)
//	hutch:q:<q>:paused        flag key, present while the queue is paused
//	hutch:q:<q>:seq           FIFO sequence counter
//	hutch:job:<q>:<id>        HASH holding the job payload and mutable state

const keyPrefix = "hutch:"

const keyQueues = keyPrefix + "queues"

func keyWaiting(queue string) string   { return keyPrefix + "q:" + queue + ":waiting" }
func keyDelayed(queue string) string   { return keyPrefix + "q:" + queue + ":delayed" }
func keyActive(queue string) string    { return keyPrefix + "q:" + queue + ":active" }
func keyCompleted(queue string) string { return keyPrefix + "q:" + queue + ":completed" }
func keyFailed(queue string) string    { return keyPrefix + "q:" + queue + ":failed" }
func keyPaused(queue string) string    { return keyPrefix + "q:" + queue + ":paused" }
func keySeq(queue string) string       { return keyPrefix + "q:" + queue + ":seq" }

func keyJob(queue, jobID string) string { return jobKeyPrefix(queue) + jobID }
func jobKeyPrefix(queue string) string  { return keyPrefix + "job:" + queue + ":" }

// Hash fields of hutch:job:<q>:<id>. The payload field holds the full job
// JSON; the remaining fields are the mutable state overlaid on read.
const (
	fieldPayload      = "payload"
	fieldStatus       = "status"
	fieldAttemptsMade = "attemptsMade"
	fieldPriority     = "priority"
	fieldProgress     = "progress"
	fieldResult       = "result"
	fieldFailedReason = "failedReason"
	fieldProcessedOn  = "processedOn"
	fieldFinishedOn   = "finishedOn"
	fieldWorker       = "worker"
)
