// Package pushbus implements the realtime push channel used to deliver
// progress and system events to connected clients.
//
// The package is responsible for:
//   - Typed event payloads (progress, status, completion, disk space)
//   - Topic-based fan-out: per-task groups, space monitoring, batch groups
//   - A WebSocket transport for remote subscribers
//
// Delivery is at-least-once to connected subscribers and FIFO per
// subscription. Events are not persisted: a client that reconnects must
// re-query task status before resuming its subscription.
package pushbus

// Event is a payload deliverable over the push channel.
// Each implementation is a tagged variant identified by EventType.
type Event interface {
	// EventType returns the stable wire tag for this event.
	EventType() string
}

// ProgressUpdate reports transcoding progress for a task.
type ProgressUpdate struct {
	TaskID           string  `json:"taskId"`
	Progress         int     `json:"progress"`
	Message          string  `json:"message,omitempty"`
	Speed            float64 `json:"speed,omitempty"`
	RemainingSeconds int64   `json:"remainingSeconds,omitempty"`
}

func (ProgressUpdate) EventType() string { return "ProgressUpdate" }

// StatusUpdate reports a task state transition.
type StatusUpdate struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (StatusUpdate) EventType() string { return "StatusUpdate" }

// TaskCompleted reports terminal task completion (success or failure).
type TaskCompleted struct {
	TaskID       string `json:"taskId"`
	TaskName     string `json:"taskName"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (TaskCompleted) EventType() string { return "TaskCompleted" }

// SystemNotification is a broadcast operator message.
type SystemNotification struct {
	Message string `json:"message"`
	Level   string `json:"level"` // info, warning, error
}

func (SystemNotification) EventType() string { return "SystemNotification" }

// DiskSpaceUpdate carries a disk budget snapshot.
type DiskSpaceUpdate struct {
	TotalSpace         int64   `json:"totalSpace"`
	UsedSpace          int64   `json:"usedSpace"`
	AvailableSpace     int64   `json:"availableSpace"`
	ReservedSpace      int64   `json:"reservedSpace"`
	UsagePercent       float64 `json:"usagePercent"`
	HasSufficientSpace bool    `json:"hasSufficientSpace"`
}

func (DiskSpaceUpdate) EventType() string { return "DiskSpaceUpdate" }

// SpaceReleased reports storage reclaimed by the cleanup engine.
type SpaceReleased struct {
	ReleasedBytes int64  `json:"releasedBytes"`
	Reason        string `json:"reason"`
}

func (SpaceReleased) EventType() string { return "SpaceReleased" }

// SpaceWarning reports disk usage crossing the warning threshold.
type SpaceWarning struct {
	Message      string  `json:"message"`
	UsagePercent float64 `json:"usagePercent"`
	AvailableGB  float64 `json:"availableGb"`
}

func (SpaceWarning) EventType() string { return "SpaceWarning" }

// BatchTaskPaused reports a batch upload paused for lack of space.
type BatchTaskPaused struct {
	BatchID     string  `json:"batchId"`
	Reason      string  `json:"reason"`
	RequiredGB  float64 `json:"requiredGb"`
	AvailableGB float64 `json:"availableGb"`
}

func (BatchTaskPaused) EventType() string { return "BatchTaskPaused" }

// BatchTaskResumed reports a paused batch upload resuming.
type BatchTaskResumed struct {
	BatchID     string  `json:"batchId"`
	Reason      string  `json:"reason"`
	RequiredGB  float64 `json:"requiredGb"`
	AvailableGB float64 `json:"availableGb"`
}

func (BatchTaskResumed) EventType() string { return "BatchTaskResumed" }
