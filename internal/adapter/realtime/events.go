package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/callrelay/internal/config"
	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/protocol"
)

// ErrMalformedEvent is returned when a model event cannot be parsed.
var ErrMalformedEvent = errors.New("malformed realtime event")

// Kind classifies a decoded model event.
type Kind int

const (
	KindOther Kind = iota
	KindAudioDelta
	KindSpeechStarted
	KindResponseDone
	KindFunctionCall
	KindError
)

// Event is a decoded model event.
type Event struct {
	Kind Kind
	protocol.ServerEvent
}

// Usage returns the usage block of a response.done event, if any.
func (e Event) Usage() (domain.Usage, bool) {
	if e.Response == nil || e.Response.Usage == nil {
		return domain.Usage{}, false
	}
	return *e.Response.Usage, true
}

// loggedEventTypes are the event types worth a log line when they arrive.
var loggedEventTypes = map[string]bool{
	protocol.TypeError:                     true,
	protocol.TypeSessionCreated:            true,
	protocol.TypeSessionUpdated:            true,
	protocol.TypeResponseContentDone:       true,
	protocol.TypeRateLimitsUpdated:         true,
	protocol.TypeResponseDone:              true,
	protocol.TypeInputAudioCommitted:       true,
	protocol.TypeSpeechStopped:             true,
	protocol.TypeSpeechStarted:             true,
	protocol.TypeConversationItemTruncated: true,
}

// IsLogged reports whether an event type is in the observability set.
func IsLogged(eventType string) bool {
	return loggedEventTypes[eventType]
}

// DecodeEvent parses one model event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev.ServerEvent); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	switch ev.Type {
	case protocol.TypeOutputAudioDelta, protocol.TypeAudioDeltaLegacy:
		ev.Kind = KindAudioDelta
	case protocol.TypeSpeechStarted:
		ev.Kind = KindSpeechStarted
	case protocol.TypeResponseDone:
		ev.Kind = KindResponseDone
	case protocol.TypeFunctionCallArgsDone:
		ev.Kind = KindFunctionCall
	case protocol.TypeError:
		ev.Kind = KindError
	default:
		ev.Kind = KindOther
	}
	return ev, nil
}

// SessionUpdate builds the one-time session configuration from a script.
func SessionUpdate(s *config.Script) ([]byte, error) {
	format := protocol.AudioFormat{Type: protocol.AudioFormatPCMU}
	return json.Marshal(protocol.SessionUpdate{
		Type: protocol.TypeSessionUpdate,
		Session: protocol.SessionConfig{
			Type:             "realtime",
			Model:            s.Model,
			OutputModalities: []string{"audio"},
			Audio: protocol.AudioConfig{
				Input: protocol.AudioInput{
					Format:        format,
					TurnDetection: &protocol.TurnDetection{Type: protocol.TurnDetectionServerVAD},
				},
				Output: protocol.AudioOutput{
					Format: format,
					Voice:  s.Voice,
				},
			},
			Instructions: s.Instructions,
			Tools:        s.ToolDefinitions(),
		},
	})
}

// AudioAppend forwards one chunk of caller audio.
func AudioAppend(payload string) ([]byte, error) {
	return json.Marshal(protocol.InputAudioAppend{
		Type:  protocol.TypeInputAudioAppend,
		Audio: payload,
	})
}

// Truncate cuts an item at the point the caller stopped hearing it.
func Truncate(itemID string, contentIndex int, audioEndMS int64) ([]byte, error) {
	return json.Marshal(protocol.ItemTruncate{
		Type:         protocol.TypeConversationTruncate,
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMS:   audioEndMS,
	})
}

// FunctionCallOutput answers a function call.
func FunctionCallOutput(callID string, output json.RawMessage) ([]byte, error) {
	return json.Marshal(protocol.ItemCreate{
		Type: protocol.TypeConversationItemCreate,
		Item: protocol.ConversationItem{
			Type:   protocol.ItemTypeFunctionCallOutput,
			CallID: callID,
			Output: string(output),
		},
	})
}

// UserText adds a user text message to the conversation.
func UserText(text string) ([]byte, error) {
	return json.Marshal(protocol.ItemCreate{
		Type: protocol.TypeConversationItemCreate,
		Item: protocol.ConversationItem{
			Type: protocol.ItemTypeMessage,
			Role: "user",
			Content: []protocol.ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// ResponseCreate asks the model to produce a response.
func ResponseCreate() ([]byte, error) {
	return json.Marshal(protocol.ResponseCreate{Type: protocol.TypeResponseCreate})
}
