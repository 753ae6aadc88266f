package protocol

import "github.com/xiaot623/gogo/callrelay/internal/domain"

// Event types sent to the realtime model
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioAppend       = "input_audio_buffer.append"
	TypeConversationItemCreate = "conversation.item.create"
	TypeConversationTruncate   = "conversation.item.truncate"
	TypeResponseCreate         = "response.create"
)

// Event types received from the realtime model
const (
	TypeSessionCreated            = "session.created"
	TypeSessionUpdated            = "session.updated"
	TypeOutputAudioDelta          = "response.output_audio.delta"
	TypeAudioDeltaLegacy          = "response.audio.delta"
	TypeSpeechStarted             = "input_audio_buffer.speech_started"
	TypeSpeechStopped             = "input_audio_buffer.speech_stopped"
	TypeInputAudioCommitted       = "input_audio_buffer.committed"
	TypeResponseContentDone       = "response.content.done"
	TypeResponseDone              = "response.done"
	TypeFunctionCallArgsDone      = "response.function_call_arguments.done"
	TypeRateLimitsUpdated         = "rate_limits.updated"
	TypeConversationItemTruncated = "conversation.item.truncated"
	TypeError                     = "error"
)

// Conversation item types
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Audio formats
const (
	AudioFormatPCMU        = "audio/pcmu"
	TurnDetectionServerVAD = "server_vad"
)

// ServerEvent is the union of the realtime model events the relay consumes.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// audio delta
	ResponseID   string `json:"response_id,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
	ContentIndex int    `json:"content_index,omitempty"`
	Delta        string `json:"delta,omitempty"`

	// speech started
	AudioStartMS int64 `json:"audio_start_ms,omitempty"`

	// function call arguments done
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Response *ResponseBody `json:"response,omitempty"`
	Error    *ErrorBody    `json:"error,omitempty"`
}

// ResponseBody is the response object of response.done.
type ResponseBody struct {
	ID     string        `json:"id,omitempty"`
	Status string        `json:"status,omitempty"`
	Usage  *domain.Usage `json:"usage,omitempty"`
}

// ErrorBody is the error object of an error event.
type ErrorBody struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// SessionUpdate configures the realtime session.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session body of SessionUpdate.
type SessionConfig struct {
	Type             string           `json:"type"`
	Model            string           `json:"model,omitempty"`
	OutputModalities []string         `json:"output_modalities,omitempty"`
	Audio            AudioConfig      `json:"audio"`
	Instructions     string           `json:"instructions,omitempty"`
	Tools            []ToolDefinition `json:"tools,omitempty"`
}

// AudioConfig declares codec, turn detection and voice.
type AudioConfig struct {
	Input  AudioInput  `json:"input"`
	Output AudioOutput `json:"output"`
}

// AudioInput is the caller side of AudioConfig.
type AudioInput struct {
	Format        AudioFormat    `json:"format"`
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
}

// AudioOutput is the model side of AudioConfig.
type AudioOutput struct {
	Format AudioFormat `json:"format"`
	Voice  string      `json:"voice,omitempty"`
}

// AudioFormat names a wire codec.
type AudioFormat struct {
	Type string `json:"type"`
}

// TurnDetection selects the voice activity detection mode.
type TurnDetection struct {
	Type string `json:"type"`
}

// ToolDefinition declares a function the model may call.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// InputAudioAppend forwards caller audio to the model.
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ItemTruncate cuts the model's transcript of an item at AudioEndMS.
type ItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

// ItemCreate adds an item to the conversation.
type ItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is a message or a function call output.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ContentPart is one part of a message item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponseCreate asks the model to continue generating.
type ResponseCreate struct {
	Type string `json:"type"`
}
