// Package relay bridges one telephony media stream and one realtime model session.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/frostbyte73/core"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/callrelay/internal/adapter/realtime"
	"github.com/xiaot623/gogo/callrelay/internal/config"
	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/media"
	"github.com/xiaot623/gogo/callrelay/internal/metrics"
	store "github.com/xiaot623/gogo/callrelay/internal/repository"
	"github.com/xiaot623/gogo/callrelay/internal/session"
	"github.com/xiaot623/gogo/callrelay/internal/tools"
)

// End reasons stored with the call summary.
const (
	EndCallerClosed  = "caller_closed"
	EndCallerStopped = "caller_stopped"
	EndModelClosed   = "model_closed"
	EndHangup        = "hangup"
	EndShutdown      = "shutdown"
)

var (
	// ErrHangup is the cancel cause used when an operator ends a live call.
	ErrHangup = errors.New("call hung up")
	// ErrAlreadyRun is returned by Run on an engine that has already finished.
	ErrAlreadyRun = errors.New("relay engine already ran")
)

const frameBuffer = 64

// CallerConn is the telephony side of a relay.
type CallerConn interface {
	Receive() ([]byte, error)
	Send(data []byte) error
	Close() error
}

// Tracker receives identifiers and state changes of a live session.
type Tracker interface {
	BindStream(sessionID, streamSID, callSID string)
	SetState(sessionID string, state domain.RelayState)
}

// Options tune a relay engine.
type Options struct {
	// ConfigGrace delays the session configuration after the model connects.
	ConfigGrace time.Duration
	// RecordTimeout bounds the recorder call at teardown.
	RecordTimeout time.Duration
	Prices        store.Prices
}

// Dependencies wires an engine.
type Dependencies struct {
	Caller   CallerConn
	Model    realtime.Transport
	Script   *config.Script
	Policy   tools.PolicyEvaluator
	Recorder store.Recorder
	Tracker  Tracker
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
	Session  *session.Session
	Options  Options
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine relays audio and control events between a caller and the model.
// All session mutation happens on the goroutine running Run.
type Engine struct {
	caller   CallerConn
	model    realtime.Transport
	script   *config.Script
	dispatch *tools.Dispatcher
	recorder store.Recorder
	tracker  Tracker
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	sess     *session.Session
	opts     Options
	now      func() time.Time

	configured bool
	stopped    bool
	lastState  domain.RelayState
	done       core.Fuse
}

// New creates an engine for one call.
func New(deps Dependencies) (*Engine, error) {
	if deps.Caller == nil || deps.Model == nil {
		return nil, errors.New("relay: caller and model transports are required")
	}
	if deps.Script == nil {
		return nil, errors.New("relay: script is required")
	}
	e := &Engine{
		caller:    deps.Caller,
		model:     deps.Model,
		script:    deps.Script,
		recorder:  deps.Recorder,
		tracker:   deps.Tracker,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		sess:      deps.Session,
		opts:      deps.Options,
		now:       deps.Now,
		lastState: domain.RelayStateIdle,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sess == nil {
		e.sess = session.New(e.now())
	}
	if e.tracker == nil {
		e.tracker = nopTracker{}
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	e.log = e.log.WithField("session_id", e.sess.ID)

	registry := tools.NewCallRegistry(e.script, e.sess.SetOutcome)
	declared := make([]string, 0, len(e.script.Tools))
	for _, t := range e.script.Tools {
		declared = append(declared, t.Name)
	}
	e.dispatch = tools.NewDispatcher(registry, deps.Policy, declared)
	return e, nil
}

// Session returns the session owned by the engine.
func (e *Engine) Session() *session.Session {
	return e.sess
}

type inboundFrame struct {
	data []byte
	err  error
}

// Run relays until either transport closes or ctx is cancelled, then closes
// both transports, records the call summary and returns it.
func (e *Engine) Run(ctx context.Context) (domain.CallSummary, error) {
	if e.done.IsBroken() {
		return domain.CallSummary{}, ErrAlreadyRun
	}
	e.metrics.SessionStarted()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	callerFrames := make(chan inboundFrame, frameBuffer)
	modelFrames := make(chan inboundFrame, frameBuffer)
	go readLoop(loopCtx, e.caller.Receive, callerFrames)
	go readLoop(loopCtx, e.model.Receive, modelFrames)

	grace := time.NewTimer(e.opts.ConfigGrace)
	defer grace.Stop()

	var reason string
	for reason == "" {
		select {
		case <-ctx.Done():
			reason = EndShutdown
			if errors.Is(context.Cause(ctx), ErrHangup) {
				reason = EndHangup
			}
		case <-grace.C:
			e.configure()
		case f := <-callerFrames:
			if f.err != nil {
				reason = EndCallerClosed
				if e.stopped {
					reason = EndCallerStopped
				}
				e.log.WithError(f.err).Debug("caller transport closed")
				continue
			}
			e.handleCaller(f.data)
		case f := <-modelFrames:
			if f.err != nil {
				reason = EndModelClosed
				if errors.Is(f.err, realtime.ErrClosed) {
					e.log.Info("model transport closed")
				} else {
					e.log.WithError(f.err).Warn("model transport error")
				}
				continue
			}
			e.handleModel(loopCtx, f.data)
		}
	}
	return e.finalize(reason), nil
}

func readLoop(ctx context.Context, receive func() ([]byte, error), out chan<- inboundFrame) {
	for {
		data, err := receive()
		select {
		case out <- inboundFrame{data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// configure sends the one-time session configuration and the optional greeting.
func (e *Engine) configure() {
	if e.configured || !e.model.IsOpen() {
		return
	}
	e.configured = true
	e.log.WithField("model", e.script.Model).Info("sending session update")
	e.toModel(realtime.SessionUpdate(e.script))

	if e.script.Greeting != "" {
		e.toModel(realtime.UserText(e.script.Greeting))
		e.toModel(realtime.ResponseCreate())
	}
}

func (e *Engine) handleCaller(data []byte) {
	ev, err := media.Decode(data)
	if err != nil {
		e.metrics.Malformed(metrics.SideCaller)
		e.log.WithError(err).Warn("dropping caller frame")
		return
	}
	e.metrics.Frame(metrics.SideCaller, "in")

	switch ev.Kind {
	case media.KindStart:
		e.sess.Start(ev.StreamID, ev.CallID)
		e.log = e.log.WithFields(logrus.Fields{
			"stream_sid": ev.StreamID,
			"call_sid":   ev.CallID,
		})
		e.log.Info("incoming stream started")
		e.tracker.BindStream(e.sess.ID, ev.StreamID, ev.CallID)
		e.syncState()
	case media.KindMedia:
		e.sess.AdvanceInbound(ev.TimestampMS)
		if !e.model.IsOpen() {
			e.metrics.Dropped("model_closed")
			return
		}
		e.toModel(realtime.AudioAppend(ev.Payload))
	case media.KindMark:
		if !e.sess.AckMark(ev.MarkName) {
			e.log.WithField("mark", ev.MarkName).Debug("ignoring unknown mark")
		}
	case media.KindStop:
		e.stopped = true
		e.log.Info("incoming stream stopped")
	default:
		e.log.WithField("event", ev.Name).Debug("ignoring caller event")
	}
}

func (e *Engine) handleModel(ctx context.Context, data []byte) {
	ev, err := realtime.DecodeEvent(data)
	if err != nil {
		e.metrics.Malformed(metrics.SideModel)
		e.log.WithError(err).Warn("dropping model event")
		return
	}
	e.metrics.Frame(metrics.SideModel, "in")
	if realtime.IsLogged(ev.Type) && ev.Kind != realtime.KindError {
		e.log.WithField("type", ev.Type).Info("model event")
	}

	switch ev.Kind {
	case realtime.KindAudioDelta:
		e.forwardAudio(ev)
	case realtime.KindSpeechStarted:
		e.bargeIn()
	case realtime.KindResponseDone:
		if u, ok := ev.Usage(); ok {
			e.sess.AddUsage(u)
			e.metrics.Tokens(u.InputTokens, u.OutputTokens, e.opts.Prices.Cost(u))
		}
	case realtime.KindFunctionCall:
		e.runTool(ctx, ev)
	case realtime.KindError:
		entry := e.log
		if ev.Error != nil {
			entry = entry.WithFields(logrus.Fields{
				"code":    ev.Error.Code,
				"message": ev.Error.Message,
			})
		}
		entry.Error("model reported an error")
	}
}

func (e *Engine) forwardAudio(ev realtime.Event) {
	if ev.Delta == "" {
		return
	}
	streamSID := e.sess.StreamSID
	if streamSID == "" {
		e.metrics.Dropped("no_stream")
		e.log.Warn("dropping model audio received before stream start")
		return
	}
	if e.sess.BeginTurn(ev.ItemID) {
		e.log.WithField("item_id", ev.ItemID).Debug("model turn started")
		e.syncState()
	}

	e.toCaller(media.MediaFrame(streamSID, ev.Delta))
	name := e.sess.NextMarkName()
	if e.toCaller(media.MarkFrame(streamSID, name)) {
		e.sess.EnqueueMark(name)
	}
}

func (e *Engine) bargeIn() {
	in, ok := e.sess.Interrupt()
	if !ok {
		return
	}
	defer e.syncState()

	e.log.WithFields(logrus.Fields{
		"item_id":    in.ItemID,
		"elapsed_ms": in.ElapsedMS,
	}).Info("caller barged in")
	if in.ItemID != "" {
		e.toModel(realtime.Truncate(in.ItemID, 0, in.ElapsedMS))
	}
	e.toCaller(media.ClearFrame(e.sess.StreamSID))
	e.metrics.BargeIn()
}

func (e *Engine) runTool(ctx context.Context, ev realtime.Event) {
	call, err := e.dispatch.Dispatch(ctx, ev.CallID, ev.Name, ev.Arguments)
	e.sess.RecordToolCall(call)
	e.metrics.ToolCall(call.ToolName, string(call.Status))

	entry := e.log.WithFields(logrus.Fields{
		"tool":    call.ToolName,
		"call_id": call.CallID,
		"status":  call.Status,
	})
	if err != nil {
		entry.WithError(err).Warn("tool call not completed")
	} else {
		entry.Info("tool call completed")
	}

	e.toModel(realtime.FunctionCallOutput(call.CallID, call.Result))
	e.toModel(realtime.ResponseCreate())
}

func (e *Engine) syncState() {
	state := e.sess.State()
	if state == e.lastState {
		return
	}
	e.lastState = state
	e.tracker.SetState(e.sess.ID, state)
}

func (e *Engine) toModel(data []byte, err error) bool {
	if err != nil {
		e.log.WithError(err).Error("failed to encode model event")
		return false
	}
	if err := e.model.Send(data); err != nil {
		e.log.WithError(err).Debug("failed to send to model")
		return false
	}
	e.metrics.Frame(metrics.SideModel, "out")
	return true
}

func (e *Engine) toCaller(data []byte, err error) bool {
	if err != nil {
		e.log.WithError(err).Error("failed to encode caller frame")
		return false
	}
	if err := e.caller.Send(data); err != nil {
		e.log.WithError(err).Debug("failed to send to caller")
		return false
	}
	e.metrics.Frame(metrics.SideCaller, "out")
	return true
}

// finalize runs once: it closes both sides, then logs and records the summary.
func (e *Engine) finalize(reason string) domain.CallSummary {
	e.done.Break()
	if err := e.caller.Close(); err != nil {
		e.log.WithError(err).Debug("closing caller transport")
	}
	if err := e.model.Close(); err != nil {
		e.log.WithError(err).Debug("closing model transport")
	}

	sum := e.sess.Summary(e.now(), reason)
	e.log.WithFields(logrus.Fields{
		"end_reason":         reason,
		"duration_seconds":   int64(sum.Duration / time.Second),
		"outcome":            sum.Category(),
		"input_tokens":       sum.Usage.InputTokens,
		"output_tokens":      sum.Usage.OutputTokens,
		"estimated_cost_usd": e.opts.Prices.Cost(sum.Usage),
		"barge_ins":          sum.BargeIns,
		"tool_calls":         sum.ToolCalls,
	}).Info("call finished")
	e.metrics.SessionEnded(reason, sum.Duration)

	if e.recorder != nil {
		timeout := e.opts.RecordTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := e.recorder.RecordOutcome(ctx, sum); err != nil {
			e.metrics.RecordFailed()
			e.log.WithError(err).Error("failed to record call outcome")
		}
	}
	return sum
}

type nopTracker struct{}

func (nopTracker) BindStream(string, string, string)  {}
func (nopTracker) SetState(string, domain.RelayState) {}
