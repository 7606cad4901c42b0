package models

type ListCasesRequest struct {
	State  string `form:"state"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

type ResolveCaseRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// DeliveryReport is an externally measured notification delivery latency.
type DeliveryReport struct {
	SubjectID string `json:"subject_id" binding:"required"`
	LatencyMs *int64 `json:"latency_ms" binding:"required,min=0"`
}

type ListNotificationsRequest struct {
	UnreadOnly bool `form:"unread"`
	Limit      int  `form:"limit" binding:"omitempty,min=1,max=100"`
}

// CaseDetail is a case with its audit trail.
type CaseDetail struct {
	*ModerationCase
	Logs []ModerationLog `json:"logs"`
}

