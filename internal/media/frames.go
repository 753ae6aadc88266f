// Package media adapts the telephony media stream: it decodes inbound frames into
// normalized events and encodes the frames played back to the caller.
package media

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/callrelay/internal/protocol"
)

// ErrMalformedFrame is returned when an inbound frame cannot be parsed.
var ErrMalformedFrame = errors.New("malformed media frame")

// Kind classifies a decoded inbound frame.
type Kind int

const (
	KindOther Kind = iota
	KindStart
	KindMedia
	KindMark
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindMedia:
		return "media"
	case KindMark:
		return "mark"
	case KindStop:
		return "stop"
	default:
		return "other"
	}
}

// Event is a normalized inbound frame.
type Event struct {
	Kind Kind
	// Name is the raw event name, kept for logging of unhandled frames.
	Name string

	StreamID string
	CallID   string

	TimestampMS int64
	Payload     string

	MarkName string
}

// Decode parses one inbound telephony frame.
func Decode(data []byte) (Event, error) {
	var msg protocol.MediaStreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if msg.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}

	ev := Event{Name: msg.Event}
	switch msg.Event {
	case protocol.EventStart:
		ev.Kind = KindStart
		ev.StreamID = msg.StreamSID
		if msg.Start != nil {
			if id := msg.Start.Stream(); id != "" {
				ev.StreamID = id
			}
			ev.CallID = msg.Start.Call()
		}
	case protocol.EventMedia:
		if msg.Media == nil {
			return Event{}, fmt.Errorf("%w: media frame without body", ErrMalformedFrame)
		}
		ev.Kind = KindMedia
		ev.TimestampMS = int64(msg.Media.Timestamp)
		ev.Payload = msg.Media.Payload
	case protocol.EventMark:
		ev.Kind = KindMark
		if msg.Mark != nil {
			ev.MarkName = msg.Mark.Name
		}
	case protocol.EventStop:
		ev.Kind = KindStop
	default:
		ev.Kind = KindOther
	}
	return ev, nil
}

// MediaFrame encodes an outbound audio chunk.
func MediaFrame(streamID, payload string) ([]byte, error) {
	return json.Marshal(protocol.OutboundMedia{
		Event:     protocol.EventMedia,
		StreamSID: streamID,
		Media:     protocol.OutboundMediaPayload{Payload: payload},
	})
}

// MarkFrame encodes a playback mark request.
func MarkFrame(streamID, name string) ([]byte, error) {
	return json.Marshal(protocol.OutboundMark{
		Event:     protocol.EventMark,
		StreamSID: streamID,
		Mark:      protocol.MarkPayload{Name: name},
	})
}

// ClearFrame encodes a request to discard queued playback.
func ClearFrame(streamID string) ([]byte, error) {
	return json.Marshal(protocol.OutboundClear{
		Event:     protocol.EventClear,
		StreamSID: streamID,
	})
}
