package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/frostbyte73/core"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/protocol"
)

const (
	// mockTurnEvery is the number of appended caller chunks (20ms each) that
	// trigger a synthetic model turn.
	mockTurnEvery = 100
	mockChunks    = 5
	mockChunkSize = 160 // 20ms of 8kHz mu-law
)

// MockClient is an in-process Transport that answers like a model would,
// with silent audio turns.
type MockClient struct {
	events chan []byte
	closed core.Fuse

	mu      sync.Mutex
	appends int
	turns   int
}

// NewMockClient creates a new mock model transport.
func NewMockClient() *MockClient {
	m := &MockClient{
		events: make(chan []byte, 256),
	}
	m.emit(protocol.ServerEvent{Type: protocol.TypeSessionCreated})
	return m
}

// Ensure MockClient implements Transport interface.
var _ Transport = (*MockClient)(nil)

// Receive returns the next synthetic event.
func (m *MockClient) Receive() ([]byte, error) {
	select {
	case data := <-m.events:
		return data, nil
	case <-m.closed.Watch():
		return nil, ErrClosed
	}
}

// Send reacts to client events.
func (m *MockClient) Send(data []byte) error {
	if m.closed.IsBroken() {
		return ErrClosed
	}

	var msg struct {
		Type   string `json:"type"`
		ItemID string `json:"item_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("mock realtime: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg.Type {
	case protocol.TypeSessionUpdate:
		m.emit(protocol.ServerEvent{Type: protocol.TypeSessionUpdated})
	case protocol.TypeInputAudioAppend:
		m.appends++
		if m.appends%mockTurnEvery == 0 {
			m.emit(protocol.ServerEvent{Type: protocol.TypeInputAudioCommitted})
			m.speak()
		}
	case protocol.TypeResponseCreate:
		m.speak()
	case protocol.TypeConversationTruncate:
		m.emit(protocol.ServerEvent{Type: protocol.TypeConversationItemTruncated, ItemID: msg.ItemID})
	}
	return nil
}

// speak emits one silent audio turn followed by response.done. Callers hold mu.
func (m *MockClient) speak() {
	m.turns++
	itemID := fmt.Sprintf("mock_item_%d", m.turns)
	responseID := fmt.Sprintf("mock_resp_%d", m.turns)

	silence := make([]byte, mockChunkSize)
	for i := range silence {
		silence[i] = 0xFF
	}
	payload := base64.StdEncoding.EncodeToString(silence)

	for i := 0; i < mockChunks; i++ {
		m.emit(protocol.ServerEvent{
			Type:       protocol.TypeOutputAudioDelta,
			ResponseID: responseID,
			ItemID:     itemID,
			Delta:      payload,
		})
	}
	m.emit(protocol.ServerEvent{
		Type: protocol.TypeResponseDone,
		Response: &protocol.ResponseBody{
			ID:     responseID,
			Status: "completed",
			Usage: &domain.Usage{
				InputTokens:        10,
				OutputTokens:       mockChunks * 2,
				InputTokenDetails:  domain.InputTokenDetails{AudioTokens: 10},
				OutputTokenDetails: domain.OutputTokenDetails{AudioTokens: mockChunks * 2},
			},
		},
	})
}

// emit queues an event, dropping it when the reader has fallen behind.
func (m *MockClient) emit(ev protocol.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case m.events <- data:
	default:
	}
}

// IsOpen reports whether Close has not been called.
func (m *MockClient) IsOpen() bool {
	return !m.closed.IsBroken()
}

// Close stops the mock.
func (m *MockClient) Close() error {
	m.closed.Break()
	return nil
}
