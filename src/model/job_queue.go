package model

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Work classes stored in the ledger's class column. The poller decodes
// them through a registry lookup; there is no reflective construction.
const (
	JobClassDispatchPosition = "position.dispatch"
	JobClassValidatePosition = "position.validate"
	JobClassRollbackPosition = "position.rollback"
	JobClassRepricePosition  = "position.reprice"
	JobClassClosePosition    = "position.close"
	JobClassDispatchOrder    = "order.dispatch"
	JobClassCancelOrder      = "order.cancel"
)

// JobQueueEntry is one schedulable unit of work in the durable ledger.
// Entries are only ever appended and mutated (pending -> running ->
// completed|failed); they are never deleted so the table doubles as an
// audit trail. At most one entry per GroupID may be running or failed
// at a time, enforced by the lease query rather than a lock table.
type JobQueueEntry struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Class     string `gorm:"size:100;not null;index" json:"class"`
	Arguments string `gorm:"type:text" json:"arguments"` // JSON array of strings
	Status    string `gorm:"size:20;not null;default:pending;index" json:"status"`
	GroupID   string `gorm:"size:60;index" json:"group_id"`

	// RunAfter is the earliest lease time in epoch millis. Zero means
	// immediately eligible. Used by the cooperative reschedule delay.
	RunAfter int64 `gorm:"not null;default:0" json:"run_after"`

	StartedAt   int64 `json:"started_at"`   // epoch millis
	CompletedAt int64 `json:"completed_at"` // epoch millis
	Duration    int64 `json:"duration"`     // millis

	Attempts     int    `gorm:"not null;default:0" json:"attempts"`
	Hostname     string `gorm:"size:100" json:"hostname"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`
}

func (JobQueueEntry) TableName() string {
	return "job_queue"
}
