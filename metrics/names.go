package metrics

// Instrument names recorded by the pool and the export engine.
const (
	TasksSubmitted   = "tasks_submitted"
	TasksStarted     = "tasks_started"
	TasksFinished    = "tasks_finished"
	TasksPanicked    = "tasks_panicked"
	TasksRunning     = "tasks_running"
	QueueDepth       = "queue_depth"
	QueueWaitSeconds = "queue_wait_seconds"

	JobsSubmitted = "jobs_submitted"
	JobsCompleted = "jobs_completed"
	JobsAborted   = "jobs_aborted"
	JobsActive    = "jobs_active"

	RowsProcessed  = "rows_processed"
	RowsWritten    = "rows_written"
	BatchFlushes   = "batch_flushes"
	EnrichCalls    = "enrich_calls"
	EnrichFailures = "enrich_failures"
	OfferRetries   = "handoff_offer_retries"
	SinkFaults     = "sink_faults"
)
