// Package domain defines the core domain models for the call relay.
package domain

// OutcomeCategory is the enumerated result the model records for a call.
type OutcomeCategory string

const (
	OutcomeTransferred     OutcomeCategory = "transferido_sucesso"
	OutcomeMessageLeft     OutcomeCategory = "recado_deixado"
	OutcomeWrongNumber     OutcomeCategory = "numero_errado"
	OutcomeCPFNotConfirmed OutcomeCategory = "cpf_nao_confirmado"
	OutcomeUnknown         OutcomeCategory = ""
)

// DefaultOutcomeCategories lists the categories accepted by the default script.
var DefaultOutcomeCategories = []OutcomeCategory{
	OutcomeTransferred,
	OutcomeMessageLeft,
	OutcomeWrongNumber,
	OutcomeCPFNotConfirmed,
}

// RelayState is the playback state of a relay session.
type RelayState string

const (
	RelayStateIdle     RelayState = "IDLE"
	RelayStateSpeaking RelayState = "SPEAKING"
)

// ToolCallStatus represents how a tool call was resolved.
type ToolCallStatus string

const (
	ToolCallStatusSucceeded ToolCallStatus = "SUCCEEDED"
	ToolCallStatusFailed    ToolCallStatus = "FAILED"
	ToolCallStatusBlocked   ToolCallStatus = "BLOCKED"
)
