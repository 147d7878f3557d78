package domain

// Lane is one of the two coarse execution paths for a question.
type Lane string

const (
	// LaneGrounded answers from retrieved runbook passages on the local model.
	LaneGrounded Lane = "grounded"
	// LaneCloudDirect sends the bare question to a cloud model, no retrieval.
	LaneCloudDirect Lane = "cloud_direct"
)

func (l Lane) String() string { return string(l) }

type AskRequest struct {
	Question  string   `json:"question"`
	Tags      []string `json:"tags,omitempty"`
	LaneHint  string   `json:"lane,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

type Citation struct {
	ChunkID int    `json:"chunk_id"`
	Source  string `json:"source"`
	Preview string `json:"preview"`
}

type RouteDecision struct {
	Lane         Lane   `json:"lane"`
	Provider     string `json:"provider"`
	FallbackUsed bool   `json:"fallback_used"`
}

type Telemetry struct {
	LatencyMs     int64 `json:"latency_ms"`
	TokenEstimate *int  `json:"token_estimate,omitempty"`
	CharEstimate  int   `json:"char_estimate,omitempty"`
}

type AskResponse struct {
	Answer    string        `json:"answer"`
	Citations []Citation    `json:"citations"`
	Route     RouteDecision `json:"route"`
	Telemetry Telemetry     `json:"telemetry"`
	RequestID string        `json:"request_id,omitempty"`
}
