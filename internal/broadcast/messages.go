package broadcast

import "github.com/jdmontoya/invoiceflow/internal/model"

// Inbound message types.
const typeSubscribe = "subscribe"

// Outbound message types.
const (
	typeConnected     = "connected"
	typeSubscribed    = "subscribed"
	typeProgress      = "progress"
	typeTaskComplete  = "task_complete"
	typeTaskCancelled = "task_cancelled"
	typeTaskTimeout   = "task_timeout"
	typeError         = "error"
)

type inboundMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type connectedMessage struct {
	Type string `json:"type"`
}

type subscribedMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type progressMessage struct {
	Type string `json:"type"`
	model.ProgressEvent
}

type taskCompleteMessage struct {
	Type    string         `json:"type"`
	TaskID  string         `json:"taskId"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Result  map[string]any `json:"result,omitempty"`
}

type taskCancelledMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	Reason string `json:"reason"`
}

type taskTimeoutMessage struct {
	Type     string `json:"type"`
	TaskID   string `json:"taskId"`
	Duration string `json:"duration"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
