package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/callrelay/internal/config"
)

func TestDecodeEventKinds(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
	}{
		{`{"type":"response.output_audio.delta","item_id":"item_1","delta":"AAA="}`, KindAudioDelta},
		{`{"type":"response.audio.delta","item_id":"item_1","delta":"AAA="}`, KindAudioDelta},
		{`{"type":"input_audio_buffer.speech_started","audio_start_ms":900}`, KindSpeechStarted},
		{`{"type":"response.done","response":{"id":"r1","status":"completed"}}`, KindResponseDone},
		{`{"type":"response.function_call_arguments.done","call_id":"c1","name":"registrar_resultado_chamada","arguments":"{}"}`, KindFunctionCall},
		{`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, KindError},
		{`{"type":"session.created"}`, KindOther},
		{`{"type":"response.output_audio_transcript.delta","delta":"oi"}`, KindOther},
	}
	for _, tt := range tests {
		ev, err := DecodeEvent([]byte(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.kind, ev.Kind, tt.raw)
	}
}

func TestDecodeEventFields(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"response.output_audio.delta","response_id":"r1","item_id":"item_1","content_index":0,"delta":"AAA="}`))
	require.NoError(t, err)
	assert.Equal(t, "item_1", ev.ItemID)
	assert.Equal(t, "AAA=", ev.Delta)

	ev, err = DecodeEvent([]byte(`{"type":"response.function_call_arguments.done","call_id":"c1","name":"registrar_resultado_chamada","arguments":"{\"resultado\":\"numero_errado\"}"}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.CallID)
	assert.Equal(t, "registrar_resultado_chamada", ev.Name)
	assert.Equal(t, `{"resultado":"numero_errado"}`, ev.Arguments)

	ev, err = DecodeEvent([]byte(`{"type":"error","error":{"code":"session_expired","message":"expired"}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Error)
	assert.Equal(t, "expired", ev.Error.Message)
}

func TestDecodeEventUsage(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"response.done","response":{"id":"r1","usage":{"input_tokens":120,"output_tokens":40,"input_token_details":{"cached_tokens":64,"text_tokens":20,"audio_tokens":100},"output_token_details":{"text_tokens":10,"audio_tokens":30}}}}`))
	require.NoError(t, err)

	u, ok := ev.Usage()
	require.True(t, ok)
	assert.Equal(t, int64(120), u.InputTokens)
	assert.Equal(t, int64(64), u.InputTokenDetails.CachedTokens)
	assert.Equal(t, int64(30), u.OutputTokenDetails.AudioTokens)

	ev, err = DecodeEvent([]byte(`{"type":"response.done","response":{"id":"r2"}}`))
	require.NoError(t, err)
	_, ok = ev.Usage()
	assert.False(t, ok)
}

func TestDecodeEventMalformed(t *testing.T) {
	for _, raw := range []string{`{`, `{"event_id":"e1"}`, `[]`} {
		_, err := DecodeEvent([]byte(raw))
		assert.True(t, errors.Is(err, ErrMalformedEvent), raw)
	}
}

func TestIsLogged(t *testing.T) {
	assert.True(t, IsLogged("session.updated"))
	assert.True(t, IsLogged("rate_limits.updated"))
	assert.False(t, IsLogged("response.output_audio.delta"))
}

func TestSessionUpdate(t *testing.T) {
	data, err := SessionUpdate(config.DefaultScript())
	require.NoError(t, err)

	var msg struct {
		Type    string `json:"type"`
		Session struct {
			Type             string   `json:"type"`
			Model            string   `json:"model"`
			OutputModalities []string `json:"output_modalities"`
			Audio            struct {
				Input struct {
					Format        struct{ Type string } `json:"format"`
					TurnDetection struct{ Type string } `json:"turn_detection"`
				} `json:"input"`
				Output struct {
					Format struct{ Type string } `json:"format"`
					Voice  string                `json:"voice"`
				} `json:"output"`
			} `json:"audio"`
			Instructions string `json:"instructions"`
			Tools        []struct {
				Type       string         `json:"type"`
				Name       string         `json:"name"`
				Parameters map[string]any `json:"parameters"`
			} `json:"tools"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))

	assert.Equal(t, "session.update", msg.Type)
	assert.Equal(t, "realtime", msg.Session.Type)
	assert.Equal(t, []string{"audio"}, msg.Session.OutputModalities)
	assert.Equal(t, "audio/pcmu", msg.Session.Audio.Input.Format.Type)
	assert.Equal(t, "server_vad", msg.Session.Audio.Input.TurnDetection.Type)
	assert.Equal(t, "audio/pcmu", msg.Session.Audio.Output.Format.Type)
	assert.Equal(t, "shimmer", msg.Session.Audio.Output.Voice)
	assert.Contains(t, msg.Session.Instructions, "Eduarda")
	require.Len(t, msg.Session.Tools, 1)
	assert.Equal(t, "function", msg.Session.Tools[0].Type)
	assert.Equal(t, "registrar_resultado_chamada", msg.Session.Tools[0].Name)
	assert.Equal(t, []any{"resultado"}, msg.Session.Tools[0].Parameters["required"])
}

func TestClientEventBuilders(t *testing.T) {
	data, err := AudioAppend("AAA=")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"input_audio_buffer.append","audio":"AAA="}`, string(data))

	data, err = Truncate("item_1", 0, 60)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"conversation.item.truncate","item_id":"item_1","content_index":0,"audio_end_ms":60}`, string(data))

	data, err = FunctionCallOutput("c1", json.RawMessage(`{"status":"sucesso"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"c1","output":"{\"status\":\"sucesso\"}"}}`, string(data))

	data, err = UserText("Diga oi")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":"Diga oi"}]}}`, string(data))

	data, err = ResponseCreate()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"response.create"}`, string(data))
}
