package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/callrelay/internal/config"
	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/policy"
)

var defaultCategories = []string{"transferido_sucesso", "recado_deixado", "numero_errado", "cpf_nao_confirmado"}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	echo := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) { return args, nil }

	require.NoError(t, r.Register("b", echo))
	require.NoError(t, r.Register("a", echo))
	assert.Error(t, r.Register("a", echo))
	assert.Error(t, r.Register("", echo))
	assert.Error(t, r.Register("c", nil))
	assert.Equal(t, []string{"a", "b"}, r.Names())

	out, err := r.Execute(context.Background(), "a", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(out))

	_, err = r.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)

	assert.Panics(t, func() { r.MustRegister("a", echo) })
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome(json.RawMessage(`{"resultado":"recado_deixado","observacoes":"conhece a pessoa","horario":"tarde","tentativas":2}`), defaultCategories)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeMessageLeft, o.Category)
	assert.Equal(t, "conhece a pessoa", o.Note)
	assert.Equal(t, map[string]string{"horario": "tarde", "tentativas": "2"}, o.Fields)

	o, err = ParseOutcome(json.RawMessage(`{"resultado":"qualquer"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCategory("qualquer"), o.Category)
	assert.Nil(t, o.Fields)
}

func TestParseOutcomeRejects(t *testing.T) {
	for _, args := range []string{
		`not json`,
		`null`,
		`[]`,
		`{}`,
		`{"resultado":""}`,
		`{"resultado":7}`,
		`{"resultado":"desligou"}`,
	} {
		_, err := ParseOutcome(json.RawMessage(args), defaultCategories)
		assert.True(t, errors.Is(err, ErrInvalidArguments), args)
	}
}

func TestDispatchRecordsOutcome(t *testing.T) {
	var recorded []domain.Outcome
	reg := NewCallRegistry(config.DefaultScript(), func(o domain.Outcome) { recorded = append(recorded, o) })
	d := NewDispatcher(reg, nil, nil)

	call, err := d.Dispatch(context.Background(), "c1", "registrar_resultado_chamada", `{"resultado":"transferido_sucesso"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.ToolCallStatusSucceeded, call.Status)
	assert.JSONEq(t, `{"status":"sucesso","mensagem":"Resultado registrado com sucesso"}`, string(call.Result))
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.OutcomeTransferred, recorded[0].Category)
}

func TestDispatchInvalidArgumentsStillReplies(t *testing.T) {
	recorded := 0
	reg := NewCallRegistry(config.DefaultScript(), func(domain.Outcome) { recorded++ })
	d := NewDispatcher(reg, nil, nil)

	for _, args := range []string{`{"resultado":`, `{"resultado":"talvez"}`} {
		call, err := d.Dispatch(context.Background(), "c1", "registrar_resultado_chamada", args)
		assert.ErrorIs(t, err, ErrInvalidArguments)
		assert.Equal(t, domain.ToolCallStatusFailed, call.Status)

		var reply Reply
		require.NoError(t, json.Unmarshal(call.Result, &reply))
		assert.Equal(t, "erro", reply.Status)
		assert.NotEmpty(t, reply.Mensagem)
	}
	assert.Zero(t, recorded)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, nil)
	call, err := d.Dispatch(context.Background(), "c2", "transfer_call", `{}`)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Equal(t, domain.ToolCallStatusFailed, call.Status)
	assert.Contains(t, string(call.Result), "erro")
}

func TestDispatchWithPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	script := config.DefaultScript()
	recorded := 0
	reg := NewCallRegistry(script, func(domain.Outcome) { recorded++ })
	reg.MustRegister("hidden_tool", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	d := NewDispatcher(reg, engine, []string{script.OutcomeTool})

	call, err := d.Dispatch(ctx, "c1", "hidden_tool", `{}`)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, domain.ToolCallStatusBlocked, call.Status)

	call, err = d.Dispatch(ctx, "c2", script.OutcomeTool, `{"resultado":"numero_errado"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.ToolCallStatusSucceeded, call.Status)
	assert.Equal(t, 1, recorded)
}

func TestDispatchKeepsUnparseableArgsEncodable(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, nil)
	call, _ := d.Dispatch(context.Background(), "c1", "x", `{"resultado":`)
	assert.True(t, json.Valid(call.Args))
	assert.JSONEq(t, `"{\"resultado\":"`, string(call.Args))
}
