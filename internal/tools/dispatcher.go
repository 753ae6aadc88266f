package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/policy"
)

// PolicyEvaluator decides whether a tool call may run.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input policy.Input) (string, error)
}

// Dispatcher resolves model function calls against a registry and a policy.
type Dispatcher struct {
	registry *Registry
	policy   PolicyEvaluator
	declared []string
}

// NewDispatcher creates a dispatcher. A nil policy allows every call.
func NewDispatcher(registry *Registry, pol PolicyEvaluator, declared []string) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		policy:   pol,
		declared: declared,
	}
}

// Dispatch runs one function call. The returned call always carries an output
// for the model in Result; err explains a non-succeeded status.
func (d *Dispatcher) Dispatch(ctx context.Context, callID, name, arguments string) (domain.ToolCall, error) {
	call := domain.ToolCall{
		CallID:   callID,
		ToolName: name,
		Args:     rawArgs(arguments),
	}

	fail := func(status domain.ToolCallStatus, err error) (domain.ToolCall, error) {
		call.Status = status
		call.Result = ErrorOutput(err)
		return call, err
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return fail(domain.ToolCallStatusFailed, fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}

	if d.policy != nil {
		decision, err := d.policy.Evaluate(ctx, policy.Input{
			ToolName:      name,
			CallID:        callID,
			Args:          args,
			DeclaredTools: d.declared,
		})
		if err != nil {
			return fail(domain.ToolCallStatusFailed, fmt.Errorf("evaluate tool policy: %w", err))
		}
		if decision != policy.DecisionAllow {
			return fail(domain.ToolCallStatusBlocked, fmt.Errorf("%w: %s", ErrBlocked, name))
		}
	}

	result, err := d.registry.Execute(ctx, name, json.RawMessage(arguments))
	if err != nil {
		return fail(domain.ToolCallStatusFailed, err)
	}
	call.Status = domain.ToolCallStatusSucceeded
	call.Result = result
	return call, nil
}

// rawArgs keeps unparseable arguments as a JSON string so the call log stays encodable.
func rawArgs(arguments string) json.RawMessage {
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	data, _ := json.Marshal(arguments)
	return data
}
