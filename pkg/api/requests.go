package api

// ProcessRequest is the body of POST /agent/process and
// POST /agent/process/stream.
type ProcessRequest struct {
	Content  string `json:"content" binding:"required"`
	UserID   string `json:"userId"`
	Language string `json:"language"`
}

// CircuitCheckRequest is the body of the diagnostic POST /circuit/check.
type CircuitCheckRequest struct {
	Service         string `json:"service" binding:"required"`
	Action          string `json:"action" binding:"required"`
	EstimatedTokens int    `json:"estimatedTokens"`
	TaskID          string `json:"taskId"`
}
