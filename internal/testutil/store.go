// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/repository"
)

// NewTestSQLiteStore opens an in-memory store closed at test cleanup.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SampleSummary returns a finished call summary with an outcome and usage.
func SampleSummary(sessionID, callSID string) domain.CallSummary {
	start := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)
	return domain.CallSummary{
		SessionID: sessionID,
		CallSID:   callSID,
		StreamSID: "MZ" + callSID,
		StartedAt: start,
		EndedAt:   end,
		Duration:  end.Sub(start),
		Outcome: &domain.Outcome{
			Category: domain.OutcomeMessageLeft,
			Note:     "conhece a pessoa",
		},
		Usage: domain.Usage{
			InputTokens:        1200,
			OutputTokens:       800,
			InputTokenDetails:  domain.InputTokenDetails{CachedTokens: 300, TextTokens: 200, AudioTokens: 1000},
			OutputTokenDetails: domain.OutputTokenDetails{TextTokens: 100, AudioTokens: 700},
		},
		EndReason: "caller_stopped",
		BargeIns:  1,
		ToolCalls: 1,
		ToolCallLog: []domain.ToolCall{{
			CallID:   "call_1",
			ToolName: "registrar_resultado_chamada",
			Args:     []byte(`{"resultado":"recado_deixado","observacoes":"conhece a pessoa"}`),
			Status:   domain.ToolCallStatusSucceeded,
			Result:   []byte(`{"status":"sucesso","mensagem":"Resultado registrado com sucesso"}`),
		}},
	}
}
