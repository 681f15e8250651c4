// Package invoker drives one agent invocation against a model: it streams
// classified events, executes requested tools between steps and feeds their
// results back until the model stops asking for tools.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/logging"
	"github.com/hupe1980/channelmesh/metrics"
	"github.com/hupe1980/channelmesh/model"
	"github.com/hupe1980/channelmesh/tool"
)

// errStreamReported stands in for an in-band stream error without a cause.
var errStreamReported = errors.New("model stream reported an error")

// DefaultMaxSteps bounds the number of model steps of one invocation.
const DefaultMaxSteps = 8

// Request is the input of one invocation.
type Request struct {
	Agent        core.Agent
	ChannelID    string
	Instructions string
	History      []core.Content
	Tools        []tool.Tool
	Model        model.Model

	// Limiter meters every model step. It may be nil.
	Limiter *core.ModelLimiter
}

// Options configures an Invoker.
type Options struct {
	MaxSteps int
	Logger   logging.Logger
}

// Invoker runs agent invocations. It is stateless and safe for concurrent use.
type Invoker struct {
	opts Options
}

// New creates an Invoker.
func New(optFns ...func(o *Options)) *Invoker {
	opts := Options{
		MaxSteps: DefaultMaxSteps,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Invoker{opts: opts}
}

// Invoke starts the invocation. The event channel is finite and closed once
// the last step ends; afterwards the error channel yields at most one error.
// A stream failure is also reported in-band as a core.ErrorEvent before the
// event channel closes.
func (iv *Invoker) Invoke(ctx context.Context, req Request) (<-chan core.StreamEvent, <-chan error) {
	out := make(chan core.StreamEvent, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		if err := iv.run(ctx, req, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (iv *Invoker) run(ctx context.Context, req Request, out chan<- core.StreamEvent) error {
	if req.Model == nil {
		return core.StreamError(fmt.Errorf("agent %s: no model configured", req.Agent.Name))
	}

	log := logging.With(iv.opts.Logger, "agent", req.Agent.Name, "channel_id", req.ChannelID)
	emit := func(ev core.StreamEvent) error {
		metrics.StreamEventsTotal.WithLabelValues(string(ev.Kind())).Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ev:
			return nil
		}
	}

	contents := append([]core.Content(nil), req.History...)
	defs := tool.Definitions(req.Tools)

	for step := 0; step < iv.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := req.Limiter.Increment(); err != nil {
			return iv.fail(emit, err)
		}

		mreq := model.Request{
			Instructions: req.Instructions,
			Contents:     contents,
			Tools:        defs,
			Model:        req.Agent.ModelConfig.Model,
		}

		start := time.Now()
		calls, text, n, err := iv.step(ctx, req.Model, mreq, emit)
		logging.LogLLMCall(log, req.Model.Info().Name, n, time.Since(start), err)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return iv.fail(emit, core.StreamError(err))
		}

		if len(calls) == 0 {
			return nil
		}

		parts := make([]core.Part, 0, len(calls)+1)
		if text != "" {
			parts = append(parts, core.TextPart{Text: text})
		}
		for _, c := range calls {
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall(c)})
		}
		contents = append(contents, core.Content{Role: core.RoleAssistant, Parts: parts})

		responses := make([]core.Part, 0, len(calls))
		for _, c := range calls {
			res := iv.execute(ctx, req, c, log)
			if err := emit(res); err != nil {
				return err
			}
			responses = append(responses, core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
				ID:       res.ID,
				Name:     res.Name,
				Response: res.Result,
				Error:    res.Error,
			}})
		}
		contents = append(contents, core.Content{Role: core.RoleTool, Parts: responses})
	}

	log.Warn("invoker.max_steps.reached", "max_steps", iv.opts.MaxSteps)

	return nil
}

// step forwards one model step and collects the requested tool calls.
func (iv *Invoker) step(
	ctx context.Context,
	m model.Model,
	mreq model.Request,
	emit func(core.StreamEvent) error,
) ([]core.ToolCall, string, int, error) {
	events, errs := m.Generate(ctx, mreq)

	var (
		calls []core.ToolCall
		text  strings.Builder
		n     int
	)
	for ev := range events {
		n++
		switch e := ev.(type) {
		case core.TextDelta:
			text.WriteString(e.Text)
		case core.ToolCall:
			calls = append(calls, e)
		case core.ErrorEvent:
			// reported once by the caller; the backend still closes its channels
			for range events {
			}
			<-errs
			if e.Err == nil {
				return nil, "", n, errStreamReported
			}
			return nil, "", n, e.Err
		}
		if err := emit(ev); err != nil {
			return nil, "", n, err
		}
	}

	if err := <-errs; err != nil {
		return nil, "", n, err
	}

	return calls, text.String(), n, nil
}

// execute runs one tool call. Failures become a ToolResult with Error set.
func (iv *Invoker) execute(ctx context.Context, req Request, call core.ToolCall, log logging.Logger) (res core.ToolResult) {
	res = core.ToolResult{ID: call.ID, Name: call.Name}
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tool %s: %v", call.Name, r)
			log.Error("tool.call.panic", "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			res.Result = nil
			res.Error = core.ToolInvocationError(err).Error()
		}
		metrics.ToolCallsTotal.WithLabelValues(call.Name, metrics.Outcome(err)).Inc()
		logging.LogToolCall(log, call.Name, time.Since(start), err)
	}()

	impl, ok := tool.Find(req.Tools, call.Name)
	if !ok {
		err = tool.NewToolError(call.Name, "tool not available to this agent", tool.CodeNotFound)
		return res
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if uerr := json.Unmarshal([]byte(call.Arguments), &args); uerr != nil {
			err = tool.NewToolError(call.Name, fmt.Sprintf("invalid arguments: %v", uerr), tool.CodeValidation)
			return res
		}
	}

	toolCtx := core.NewToolContext(ctx, req.ChannelID, req.Agent, call.ID, log)
	res.Result, err = impl.Call(toolCtx, args)

	return res
}

// fail reports err in-band and returns it.
func (iv *Invoker) fail(emit func(core.StreamEvent) error, err error) error {
	if emitErr := emit(core.ErrorEvent{Err: err}); emitErr != nil {
		return emitErr
	}
	return err
}
