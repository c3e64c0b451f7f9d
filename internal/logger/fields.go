package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields propagated through the call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the grading job ID
	FieldJobID = "job_id"

	// FieldSubmissionID is the submission being graded
	FieldSubmissionID = "submission_id"

	// FieldAssignmentID is the assignment the submission belongs to
	FieldAssignmentID = "assignment_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldWorker is the worker slot index
	FieldWorker = "worker"
)

// Standard metric fields used for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldAttempt is the job attempt number
	FieldAttempt = "attempt"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
