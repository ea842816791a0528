package telemetry

// Histogram bucket definitions.
var (
	// TaskDurationBuckets covers a copy-partition task's typical lifetime:
	// seconds for small partitions, tens of minutes for a large initial sync.
	TaskDurationBuckets = []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600}

	// StageDurationBuckets covers a single stage transition.
	StageDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60}
)

// Task and stage metrics.
var (
	// TasksInFlight tracks the number of tasks currently held by the
	// executor, labeled by kind (copy_partition, move_part, create_replica).
	TasksInFlight GaugeVec = noopGaugeVec{}

	// TasksCompletedTotal counts tasks that reached Done, labeled by kind
	// and result (ok, failed).
	TasksCompletedTotal CounterVec = noopCounterVec{}

	// TaskDurationSeconds measures wall-clock time from when a command's
	// task is built and queued to Done, labeled by kind.
	TaskDurationSeconds HistogramVec = noopHistogramVec{}

	// StageTransitionsTotal counts every stage advance, labeled by kind
	// and the stage being entered.
	StageTransitionsTotal CounterVec = noopCounterVec{}

	// StageRetriesTotal counts sqlnode.ErrRetry-classified failures,
	// labeled by kind and stage.
	StageRetriesTotal CounterVec = noopCounterVec{}

	// StagePollsTotal counts ErrNotYetReady-classified waits, labeled by
	// kind and stage.
	StagePollsTotal CounterVec = noopCounterVec{}

	// CommandQueueDepth tracks how many commands the shardlord claimed on
	// its most recent drain of shardman.cmd_log, including ones whose task
	// could not be built.
	CommandQueueDepth Gauge = NoopStat{}
)

// RegisterMetrics wires the package-level metric variables to real
// Prometheus collectors. Call it after InitializeTelemetry (which must run
// first so the registry exists); until then, and always when Prometheus is
// disabled, every variable above stays its noop default.
func RegisterMetrics() {
	TasksInFlight = NewGaugeVec("tasks_in_flight", "Tasks currently held by the executor", []string{"kind"})
	TasksCompletedTotal = NewCounterVec("tasks_completed_total", "Tasks that reached a terminal state", []string{"kind", "result"})
	TaskDurationSeconds = NewHistogramVec("task_duration_seconds", "Wall-clock duration of a task from being queued to completion", []string{"kind"}, TaskDurationBuckets)
	StageTransitionsTotal = NewCounterVec("stage_transitions_total", "Stage advances", []string{"kind", "stage"})
	StageRetriesTotal = NewCounterVec("stage_retries_total", "SQL-error retries within a stage", []string{"kind", "stage"})
	StagePollsTotal = NewCounterVec("stage_polls_total", "Not-yet-ready polls within a stage", []string{"kind", "stage"})
	CommandQueueDepth = NewGauge("command_queue_depth", "Commands claimed from shardman.cmd_log on the shardlord's last drain")
}
