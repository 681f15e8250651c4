package delegation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/channelmesh/accumulator"
	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/directory"
	"github.com/hupe1980/channelmesh/invoker"
	"github.com/hupe1980/channelmesh/logging"
	"github.com/hupe1980/channelmesh/mention"
	"github.com/hupe1980/channelmesh/metrics"
	"github.com/hupe1980/channelmesh/model"
	"github.com/hupe1980/channelmesh/prompt"
	"github.com/hupe1980/channelmesh/tool"
)

const (
	// MaxDepth is the collaboration depth ceiling. A branch at this depth or
	// deeper writes DepthLimitNotice and neither invokes nor fans out.
	MaxDepth = 5

	// DepthLimitNotice is the terminal content of a depth-stopped branch.
	DepthLimitNotice = "_Maximum collaboration depth reached. No further agents will be invoked in this chain._"

	// BudgetNotice is the terminal content of a branch stopped by the per-chain invocation budget.
	BudgetNotice = "_Collaboration budget exhausted. No further agents will be invoked in this chain._"

	defaultMaxConcurrent     = 8
	defaultInvocationTimeout = 5 * time.Minute
)

// ModelResolver picks the model serving agent.
type ModelResolver func(agent core.Agent) (model.Model, error)

// StaticModel resolves every agent to m.
func StaticModel(m model.Model) ModelResolver {
	return func(core.Agent) (model.Model, error) { return m, nil }
}

// Request identifies one delegation branch.
type Request struct {
	ChannelID            string `json:"channel_id"`
	AgentID              string `json:"agent_id"`
	PlaceholderMessageID string `json:"placeholder_message_id"`
	TriggeringText       string `json:"triggering_text"`
	TriggeringUsername   string `json:"triggering_username"`
	// OriginUsername is the human who started the chain. It defaults to
	// TriggeringUsername at the root.
	OriginUsername string `json:"origin_username,omitempty"`
	Depth          int    `json:"depth"`
}

// Result reports the outcome of a branch.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Duplicate is set when the placeholder had already been processed and
	// nothing was written.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Dependencies are the collaborators of a Dispatcher.
type Dependencies struct {
	Messages  core.MessageStore
	Directory *directory.Directory
	// Ledger suppresses duplicate triggers. Nil disables the check.
	Ledger core.IdempotencyLedger
	Tools  *tool.Provisioner
	Models ModelResolver
	// Invoker defaults to invoker.New().
	Invoker *invoker.Invoker
}

// Options configures a Dispatcher.
type Options struct {
	// MaxConcurrentInvocations bounds model invocations in flight across all chains.
	MaxConcurrentInvocations int64
	// MaxChainInvocations bounds model steps per chain; 0 means unlimited.
	MaxChainInvocations int
	// InvocationTimeout bounds a single branch invocation; 0 disables it.
	InvocationTimeout time.Duration
	HistoryLimit      int
	Clock             func() time.Time
	Logger            logging.Logger
}

// Dispatcher runs delegation trees. It is safe for concurrent use.
type Dispatcher struct {
	deps    Dependencies
	builder *prompt.Builder
	sem     *semaphore.Weighted
	opts    Options
}

// New creates a Dispatcher.
func New(deps Dependencies, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		MaxConcurrentInvocations: defaultMaxConcurrent,
		InvocationTimeout:        defaultInvocationTimeout,
		HistoryLimit:             prompt.HistoryLimit,
		Clock:                    time.Now,
		Logger:                   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrentInvocations <= 0 {
		opts.MaxConcurrentInvocations = defaultMaxConcurrent
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if deps.Invoker == nil {
		deps.Invoker = invoker.New(func(o *invoker.Options) { o.Logger = opts.Logger })
	}
	if deps.Tools == nil {
		deps.Tools = tool.NewProvisioner()
	}

	return &Dispatcher{
		deps: deps,
		builder: prompt.NewBuilder(deps.Messages, deps.Directory, func(o *prompt.Options) {
			o.HistoryLimit = opts.HistoryLimit
			o.Logger = opts.Logger
		}),
		sem:  semaphore.NewWeighted(opts.MaxConcurrentInvocations),
		opts: opts,
	}
}

// chain is the state shared by all branches of one tree.
type chain struct {
	group   *errgroup.Group
	limiter *core.ModelLimiter
	id      string
}

// node tracks the pending work of one branch: its own invocation plus every
// child it spawned.
type node struct {
	parent  *node
	pending atomic.Int64
	req     Request
	log     logging.Logger
}

func (n *node) release() {
	if n.pending.Add(-1) != 0 {
		return
	}
	n.log.Debug("delegation.turn.complete")
	if n.parent != nil {
		n.parent.release()
	}
}

// Trigger runs the delegation tree rooted at req and returns once every
// branch of it is terminal. The result is the root branch's own outcome;
// descendant failures are annotated into their own messages.
func (d *Dispatcher) Trigger(ctx context.Context, req Request) Result {
	if req.OriginUsername == "" {
		req.OriginUsername = req.TriggeringUsername
	}

	c := &chain{
		group:   new(errgroup.Group),
		limiter: core.NewModelLimiter(d.opts.MaxChainInvocations),
		id:      core.NewID(),
	}

	root := d.newNode(nil, c, req)

	var result Result
	c.group.Go(func() error {
		result = d.branch(ctx, c, root)
		return nil
	})
	_ = c.group.Wait()

	return result
}

func (d *Dispatcher) newNode(parent *node, c *chain, req Request) *node {
	n := &node{
		parent: parent,
		req:    req,
		log: logging.With(d.opts.Logger,
			"chain_id", c.id,
			"channel_id", req.ChannelID,
			"agent_id", req.AgentID,
			"message_id", req.PlaceholderMessageID,
			"depth", req.Depth,
		),
	}
	n.pending.Store(1)
	return n
}

// branch runs one node and converts panics into a failed result.
func (d *Dispatcher) branch(ctx context.Context, c *chain, n *node) (res Result) {
	defer n.release()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in delegation branch: %v", r)
			n.log.Error("delegation.branch.panic", "recover", r, "stack", string(debug.Stack()))
			d.annotate(ctx, n, err)
			metrics.InvocationsTotal.WithLabelValues("failed").Inc()
			res = Result{Success: false, Error: err.Error()}
		}
	}()

	return d.run(ctx, c, n)
}

func (d *Dispatcher) run(ctx context.Context, c *chain, n *node) Result {
	req := n.req

	if d.deps.Ledger != nil {
		first, err := d.deps.Ledger.Claim(ctx, "delegation:"+req.PlaceholderMessageID)
		if err != nil {
			return d.failed(ctx, n, fmt.Errorf("claim trigger: %w", err))
		}
		if !first {
			n.log.Info("delegation.duplicate")
			metrics.InvocationsTotal.WithLabelValues("duplicate").Inc()
			return Result{Success: true, Duplicate: true}
		}
	}

	if req.Depth >= MaxDepth {
		n.log.Info("delegation.depth.limit", "max_depth", MaxDepth)
		metrics.DepthStopsTotal.Inc()
		metrics.InvocationsTotal.WithLabelValues("depth_limit").Inc()
		return d.notice(ctx, n, DepthLimitNotice)
	}

	if c.limiter.Remaining() == 0 {
		n.log.Info("delegation.budget.exhausted", "max_chain_invocations", d.opts.MaxChainInvocations)
		metrics.InvocationsTotal.WithLabelValues("budget").Inc()
		return d.notice(ctx, n, BudgetNotice)
	}

	agent, text, err := d.invoke(ctx, c, n)
	if err != nil {
		if errors.Is(err, core.ErrBudgetExhausted) {
			metrics.InvocationsTotal.WithLabelValues("budget").Inc()
			n.log.Info("delegation.budget.exhausted", "max_chain_invocations", d.opts.MaxChainInvocations)
			return Result{Success: true}
		}
		metrics.InvocationsTotal.WithLabelValues("failed").Inc()
		n.log.Warn("delegation.branch.failed", "stage", string(core.StageOf(err)), "error", err.Error())
		return Result{Success: false, Error: err.Error()}
	}
	metrics.InvocationsTotal.WithLabelValues("completed").Inc()

	d.fanOut(ctx, c, n, agent, text)

	return Result{Success: true}
}

// invoke runs the Invoking state and returns the completed text. Failures are
// already annotated into the placeholder when it returns.
func (d *Dispatcher) invoke(ctx context.Context, c *chain, n *node) (core.Agent, string, error) {
	req := n.req

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return core.Agent{}, "", d.annotate(ctx, n, core.StreamError(err))
	}
	defer d.sem.Release(1)

	invCtx := ctx
	if d.opts.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		invCtx, cancel = context.WithTimeout(ctx, d.opts.InvocationTimeout)
		defer cancel()
	}
	invCtx, cancel := context.WithCancel(invCtx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.InvocationDuration.Observe(time.Since(start).Seconds()) }()

	agent, err := d.deps.Directory.Agent(invCtx, req.AgentID)
	if err != nil {
		return core.Agent{}, "", d.annotate(ctx, n, core.ContextBuildError(err))
	}

	tools := d.deps.Tools.ToolsFor(agent)

	ic, err := d.builder.BuildFor(invCtx, agent, prompt.Request{
		ChannelID:            req.ChannelID,
		AgentID:              agent.ID,
		PlaceholderMessageID: req.PlaceholderMessageID,
		TriggeringText:       req.TriggeringText,
		TriggeringUsername:   req.TriggeringUsername,
		OriginUsername:       req.OriginUsername,
		Depth:                req.Depth,
		ToolsGranted:         len(tools) > 0,
	})
	if err != nil {
		return agent, "", d.annotate(ctx, n, core.ContextBuildError(err))
	}

	m, err := d.resolveModel(agent)
	if err != nil {
		return agent, "", d.annotate(ctx, n, core.StreamError(err))
	}

	n.log.Info("delegation.branch.start", "agent", agent.Name, "model", m.Info().Name, "tools", len(tools))

	acc := accumulator.New(d.deps.Messages, req.PlaceholderMessageID, func(o *accumulator.Options) {
		o.Logger = n.log
	})

	events, errs := d.deps.Invoker.Invoke(invCtx, invoker.Request{
		Agent:        agent,
		ChannelID:    req.ChannelID,
		Instructions: ic.Instructions,
		History:      ic.Contents(),
		Tools:        tools,
		Model:        m,
		Limiter:      c.limiter,
	})

	var persistErr error
	for ev := range events {
		if persistErr != nil {
			continue
		}
		if _, err := acc.Apply(invCtx, ev); err != nil {
			persistErr = err
			cancel()
		}
	}
	streamErr := <-errs

	detached := context.WithoutCancel(ctx)

	switch {
	case persistErr != nil:
		_ = acc.Fail(detached, persistErr)
		return agent, "", persistErr
	case streamErr != nil:
		if !errors.Is(streamErr, core.ErrBudgetExhausted) && core.StageOf(streamErr) == "" {
			streamErr = core.StreamError(streamErr)
		}
		if err := acc.Fail(detached, streamErr); err != nil {
			n.log.Error("delegation.annotate.error", "error", err.Error())
		}
		return agent, "", streamErr
	}

	if err := acc.Finish(invCtx); err != nil {
		return agent, "", err
	}

	n.log.Info("delegation.branch.complete", "agent", agent.Name, "duration_ms", time.Since(start).Milliseconds())

	return agent, acc.Text(), nil
}

func (d *Dispatcher) resolveModel(agent core.Agent) (model.Model, error) {
	if d.deps.Models == nil {
		return nil, fmt.Errorf("no model resolver configured")
	}
	m, err := d.deps.Models(agent)
	if err != nil {
		return nil, fmt.Errorf("resolve model for %s: %w", agent.Name, err)
	}
	return m, nil
}

// fanOut creates one placeholder per mentioned member agent, in text order,
// and spawns a child branch for each at depth+1.
func (d *Dispatcher) fanOut(ctx context.Context, c *chain, n *node, agent core.Agent, text string) {
	names := mention.ParseExcluding(text, agent.Name)
	if len(names) == 0 {
		return
	}

	targets, err := d.deps.Directory.ResolveTargets(ctx, n.req.ChannelID, names, agent.ID)
	if err != nil {
		n.log.Error("delegation.fanout.resolve.error", "error", err.Error())
		return
	}

	n.log.Info("delegation.fanout", "mentions", len(names), "targets", len(targets))

	for _, target := range targets {
		placeholder := core.Message{
			ID:         core.NewMessageID(),
			ChannelID:  n.req.ChannelID,
			AuthorKind: core.AuthorAgent,
			AuthorID:   target.ID,
			Content:    core.PlaceholderContent,
			CreatedAt:  d.opts.Clock(),
		}
		if err := d.deps.Messages.Insert(ctx, placeholder); err != nil {
			n.log.Error("delegation.fanout.placeholder.error", "target", target.Name, "error", err.Error())
			continue
		}

		child := d.newNode(n, c, Request{
			ChannelID:            n.req.ChannelID,
			AgentID:              target.ID,
			PlaceholderMessageID: placeholder.ID,
			TriggeringText:       text,
			TriggeringUsername:   agent.Name,
			OriginUsername:       n.req.OriginUsername,
			Depth:                n.req.Depth + 1,
		})

		n.pending.Add(1)
		metrics.FanoutChildrenTotal.Inc()

		c.group.Go(func() error {
			res := d.branch(ctx, c, child)
			if !res.Success {
				n.log.Warn("delegation.child.failed", "child_message_id", child.req.PlaceholderMessageID, "error", res.Error)
			}
			return nil
		})
	}
}

// notice writes a terminal informational message into the placeholder.
func (d *Dispatcher) notice(ctx context.Context, n *node, text string) Result {
	if err := d.deps.Messages.Update(ctx, n.req.PlaceholderMessageID, text); err != nil {
		err = core.PersistenceError(err)
		n.log.Error("delegation.notice.error", "error", err.Error())
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true}
}

// failed annotates err and reports a failed result.
func (d *Dispatcher) failed(ctx context.Context, n *node, err error) Result {
	err = d.annotate(ctx, n, err)
	metrics.InvocationsTotal.WithLabelValues("failed").Inc()
	n.log.Warn("delegation.branch.failed", "error", err.Error())
	return Result{Success: false, Error: err.Error()}
}

// annotate writes err into the branch message with a context that survives
// cancellation, and returns err.
func (d *Dispatcher) annotate(ctx context.Context, n *node, err error) error {
	acc := accumulator.New(d.deps.Messages, n.req.PlaceholderMessageID)
	if werr := acc.Fail(context.WithoutCancel(ctx), err); werr != nil {
		n.log.Error("delegation.annotate.error", "error", werr.Error())
	}
	return err
}
