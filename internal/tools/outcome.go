package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/xiaot623/gogo/callrelay/internal/config"
	"github.com/xiaot623/gogo/callrelay/internal/domain"
)

const (
	statusSuccess = "sucesso"
	statusError   = "erro"

	outcomeRecordedMessage = "Resultado registrado com sucesso"
	noteField              = "observacoes"
)

// Reply is the function call output returned to the model.
type Reply struct {
	Status   string `json:"status"`
	Mensagem string `json:"mensagem"`
}

// SuccessOutput is the output of a successfully recorded outcome.
func SuccessOutput() json.RawMessage {
	data, _ := json.Marshal(Reply{Status: statusSuccess, Mensagem: outcomeRecordedMessage})
	return data
}

// ErrorOutput reports a failed call to the model.
func ErrorOutput(err error) json.RawMessage {
	data, _ := json.Marshal(Reply{Status: statusError, Mensagem: err.Error()})
	return data
}

// ParseOutcome validates outcome tool arguments. An empty categories list
// accepts any non-empty category.
func ParseOutcome(args json.RawMessage, categories []string) (domain.Outcome, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil || fields == nil {
		return domain.Outcome{}, fmt.Errorf("%w: arguments must be a JSON object", ErrInvalidArguments)
	}

	var category string
	raw, ok := fields[config.OutcomeField]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%w: %s is required", ErrInvalidArguments, config.OutcomeField)
	}
	if err := json.Unmarshal(raw, &category); err != nil || category == "" {
		return domain.Outcome{}, fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidArguments, config.OutcomeField)
	}
	if len(categories) > 0 && !slices.Contains(categories, category) {
		return domain.Outcome{}, fmt.Errorf("%w: %s %q is not one of %v", ErrInvalidArguments, config.OutcomeField, category, categories)
	}

	outcome := domain.Outcome{Category: domain.OutcomeCategory(category)}
	for name, value := range fields {
		if name == config.OutcomeField {
			continue
		}
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			// non-string values are kept as their JSON text
			text = string(value)
		}
		if name == noteField {
			outcome.Note = text
			continue
		}
		if outcome.Fields == nil {
			outcome.Fields = make(map[string]string)
		}
		outcome.Fields[name] = text
	}
	return outcome, nil
}

// OutcomeExecutor parses the outcome tool arguments and hands the result to record.
func OutcomeExecutor(categories []string, record func(domain.Outcome)) ExecutorFunc {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		outcome, err := ParseOutcome(args, categories)
		if err != nil {
			return nil, err
		}
		record(outcome)
		return SuccessOutput(), nil
	}
}

// NewCallRegistry builds the registry for one call: the script's outcome tool
// records into record.
func NewCallRegistry(s *config.Script, record func(domain.Outcome)) *Registry {
	r := NewRegistry()
	if s.OutcomeTool != "" {
		r.MustRegister(s.OutcomeTool, OutcomeExecutor(s.OutcomeCategories(), record))
	}
	return r
}
