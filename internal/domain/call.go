package domain

import (
	"encoding/json"
	"time"
)

// Outcome is the structured result recorded by the outcome tool.
type Outcome struct {
	Category OutcomeCategory   `json:"resultado"`
	Note     string            `json:"observacoes,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"` // other free-text arguments
}

// InputTokenDetails splits input tokens by modality.
type InputTokenDetails struct {
	CachedTokens int64 `json:"cached_tokens"`
	TextTokens   int64 `json:"text_tokens"`
	AudioTokens  int64 `json:"audio_tokens"`
}

// OutputTokenDetails splits output tokens by modality.
type OutputTokenDetails struct {
	TextTokens  int64 `json:"text_tokens"`
	AudioTokens int64 `json:"audio_tokens"`
}

// Usage mirrors the usage block of a completed model response.
type Usage struct {
	InputTokens        int64              `json:"input_tokens"`
	OutputTokens       int64              `json:"output_tokens"`
	InputTokenDetails  InputTokenDetails  `json:"input_token_details"`
	OutputTokenDetails OutputTokenDetails `json:"output_token_details"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.InputTokenDetails.CachedTokens += other.InputTokenDetails.CachedTokens
	u.InputTokenDetails.TextTokens += other.InputTokenDetails.TextTokens
	u.InputTokenDetails.AudioTokens += other.InputTokenDetails.AudioTokens
	u.OutputTokenDetails.TextTokens += other.OutputTokenDetails.TextTokens
	u.OutputTokenDetails.AudioTokens += other.OutputTokenDetails.AudioTokens
}

// EstimateCost returns the USD cost for the given per-million-token prices.
func (u Usage) EstimateCost(inputPerMTok, outputPerMTok float64) float64 {
	return float64(u.InputTokens)/1e6*inputPerMTok + float64(u.OutputTokens)/1e6*outputPerMTok
}

// CallSummary is handed to the recorder once a session ends.
type CallSummary struct {
	SessionID   string        `json:"session_id"`
	CallSID     string        `json:"call_sid,omitempty"`
	StreamSID   string        `json:"stream_sid,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"-"`
	Outcome     *Outcome      `json:"outcome,omitempty"`
	Usage       Usage         `json:"tokens"`
	EndReason   string        `json:"end_reason,omitempty"`
	BargeIns    int           `json:"barge_ins"`
	ToolCalls   int           `json:"tool_calls"`
	ToolCallLog []ToolCall    `json:"tool_call_log,omitempty"`
}

// MarshalJSON adds duration_seconds to the encoded summary.
func (c CallSummary) MarshalJSON() ([]byte, error) {
	type alias CallSummary
	return json.Marshal(struct {
		alias
		DurationSeconds int64 `json:"duration_seconds"`
	}{
		alias:           alias(c),
		DurationSeconds: int64(c.Duration / time.Second),
	})
}

// Category returns the outcome category or OutcomeUnknown when none was recorded.
func (c CallSummary) Category() OutcomeCategory {
	if c.Outcome == nil {
		return OutcomeUnknown
	}
	return c.Outcome.Category
}

// ToolCall is a resolved function call made by the model.
type ToolCall struct {
	CallID   string          `json:"call_id"`
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args"`
	Status   ToolCallStatus  `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
}
