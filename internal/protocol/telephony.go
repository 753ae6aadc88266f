// Package protocol defines the wire messages exchanged with the telephony media
// stream and with the realtime speech model.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Media stream events from the telephony side
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
)

// Media stream events sent to the telephony side
const (
	EventClear = "clear"
)

// MediaStreamMessage is the envelope of every inbound media stream frame.
type MediaStreamMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload carries the identifiers assigned when the stream starts.
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`

	// Generic aliases accepted from non-Twilio media gateways.
	StreamID string `json:"streamId,omitempty"`
	CallID   string `json:"callId,omitempty"`
}

// Stream returns the stream identifier, preferring the Twilio field name.
func (p *StartPayload) Stream() string {
	if p.StreamSID != "" {
		return p.StreamSID
	}
	return p.StreamID
}

// Call returns the call identifier, preferring the Twilio field name.
func (p *StartPayload) Call() string {
	if p.CallSID != "" {
		return p.CallSID
	}
	return p.CallID
}

// MediaFormat describes the encoding of the media payloads.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload is one chunk of caller audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp Millis `json:"timestamp"`
	Payload   string `json:"payload"` // base64 encoded audio
}

// MarkPayload names a playback mark.
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload is sent when the stream ends.
type StopPayload struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

// DTMFPayload carries a keypress.
type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// Millis is a millisecond timestamp that decodes from a JSON number or a
// numeric string (Twilio sends strings).
type Millis int64

// UnmarshalJSON implements json.Unmarshaler.
func (m *Millis) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*m = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	*m = Millis(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(m), 10))
}

// OutboundMedia plays audio to the caller.
type OutboundMedia struct {
	Event     string               `json:"event"`
	StreamSID string               `json:"streamSid"`
	Media     OutboundMediaPayload `json:"media"`
}

// OutboundMediaPayload is the audio body of OutboundMedia.
type OutboundMediaPayload struct {
	Payload string `json:"payload"`
}

// OutboundMark asks the telephony side to acknowledge playback.
type OutboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

// OutboundClear discards audio queued for playback.
type OutboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}
