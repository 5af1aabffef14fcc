package debate

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/concord/internal/ai"
	"github.com/Iron-Ham/concord/internal/comparison"
	"github.com/Iron-Ham/concord/internal/consensus"
	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/event"
	"github.com/Iron-Ham/concord/internal/logging"
	"github.com/Iron-Ham/concord/internal/pool"
	"golang.org/x/sync/errgroup"
)

// Defaults for orchestration.
const (
	DefaultMaxRounds   = 10
	DefaultCallTimeout = 120 * time.Second
)

// Orchestrator drives the analyze, compare, review and debate cycle over a
// client pool until consensus, cancellation or exhaustion.
type Orchestrator struct {
	pool        *pool.Pool
	store       ContextStore
	engine      *comparison.Engine
	protocol    *consensus.Protocol
	trackerOpts []consensus.TrackerOption
	maxRounds   int
	callTimeout time.Duration
	preflight   bool
	bus         *event.Bus
	logger      *logging.Logger
	now         func() time.Time

	running  atomic.Bool
	canceled atomic.Bool

	mu     sync.RWMutex
	status Status
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRounds bounds the number of rounds.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) { o.maxRounds = n }
}

// WithCallTimeout bounds every analyze, review and debate call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithEngine sets the comparison engine.
func WithEngine(e *comparison.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

// WithProtocol sets the consensus protocol.
func WithProtocol(p *consensus.Protocol) Option {
	return func(o *Orchestrator) { o.protocol = p }
}

// WithTracker configures the convergence tracker created for each run.
func WithTracker(opts ...consensus.TrackerOption) Option {
	return func(o *Orchestrator) { o.trackerOpts = opts }
}

// WithPreflight health-checks the pool before the first round.
func WithPreflight(enabled bool) Option {
	return func(o *Orchestrator) { o.preflight = enabled }
}

// WithBus publishes run events.
func WithBus(b *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. A nil store discards artifacts.
func New(p *pool.Pool, store ContextStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pool:        p,
		store:       store,
		maxRounds:   DefaultMaxRounds,
		callTimeout: DefaultCallTimeout,
		preflight:   true,
		logger:      logging.NopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = nopStore{}
	}
	if o.engine == nil {
		o.engine = comparison.New()
	}
	if o.protocol == nil {
		o.protocol = consensus.NewProtocol(consensus.DefaultThresholds())
	}
	if o.maxRounds <= 0 {
		o.maxRounds = DefaultMaxRounds
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	o.status = Status{State: StateIdle, MaxRounds: o.maxRounds}
	return o
}

// Status returns a snapshot of the current run.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	st := o.status
	o.mu.RUnlock()
	st.Participants = slices.Clone(st.Participants)
	st.Failures = o.pool.Failures()
	st.Canceled = o.canceled.Load()
	return st
}

// Cancel asks the run to stop at the next round boundary. Calls in flight
// finish or time out and their results are discarded. A Cancel issued
// before Run starts ends that run at its first boundary.
func (o *Orchestrator) Cancel() {
	o.canceled.Store(true)
	o.logger.Info("cancellation requested", "running", o.running.Load())
}

func (o *Orchestrator) setStatus(fn func(*Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.status)
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	return o.canceled.Load() || ctx.Err() != nil
}

func (o *Orchestrator) publish(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

// run carries the per-run state. Nothing here is shared across runs.
type run struct {
	task      Task
	logger    *logging.Logger
	tracker   *consensus.Tracker
	rounds    []Round
	positions map[string]*ai.AnalysisResult
	last      *comparison.Result
	started   time.Time
	names     []string
}

// Run debates description until consensus, cancellation or exhaustion.
// Besides input validation and ErrRunInProgress, the only error returned is
// a NoAvailableClientsError; every other failure is recorded in the ledger
// and the run continues.
func (o *Orchestrator) Run(ctx context.Context, description string) (*RunResult, error) {
	return o.RunTask(ctx, NewTask(description, o.now()))
}

// RunTask is Run for a task created by the caller, so the task ID is known
// before the run starts.
func (o *Orchestrator) RunTask(ctx context.Context, task Task) (*RunResult, error) {
	if strings.TrimSpace(task.Description) == "" {
		return nil, errors.NewValidationError("task description is empty").WithField("description")
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, errors.ErrRunInProgress
	}
	defer o.running.Store(false)
	defer o.canceled.Store(false)

	r := &run{
		task:      task,
		tracker:   consensus.NewTracker(o.trackerOpts...),
		positions: make(map[string]*ai.AnalysisResult),
		started:   o.now(),
	}
	r.logger = o.logger.WithSession(r.task.ID)
	o.setStatus(func(s *Status) {
		*s = Status{TaskID: r.task.ID, State: StateIdle, MaxRounds: o.maxRounds, StartedAt: r.started}
	})

	if err := o.ready(ctx); err != nil {
		o.setStatus(func(s *Status) { s.State = StateTerminated })
		o.publish(event.NewRunFinishedEvent(r.task.ID, "", 0, 0, err))
		return nil, err
	}
	r.names = o.pool.Names()
	o.setStatus(func(s *Status) { s.Participants = slices.Clone(r.names) })
	o.saveTask(ctx, r)
	o.publish(event.NewRunStartedEvent(r.task.ID, r.task.Description, r.names))
	r.logger.Info("run started", "participants", r.names, "max_rounds", o.maxRounds)

	for n := 1; ; n++ {
		if o.stopped(ctx) {
			return o.finish(ctx, r, ExitUserTerminated), nil
		}
		if n > o.maxRounds {
			r.logger.Info("round limit reached", "max_rounds", o.maxRounds)
			return o.finish(ctx, r, ExitStrategiesExhausted), nil
		}

		round, err := o.round(ctx, r, n)
		if err != nil {
			o.setStatus(func(s *Status) { s.State = StateTerminated })
			o.publish(event.NewRunFinishedEvent(r.task.ID, "", len(r.rounds), 0, err))
			return nil, err
		}
		if round == nil {
			// Canceled mid-round; the partial round is discarded.
			return o.finish(ctx, r, ExitUserTerminated), nil
		}
		r.rounds = append(r.rounds, *round)

		switch {
		case round.Decision.Level == consensus.LevelFull:
			return o.finish(ctx, r, ExitConsensusReached), nil
		case round.Update.Exhausted:
			return o.finish(ctx, r, ExitStrategiesExhausted), nil
		}
	}
}

// Verify runs a single analyze and compare pass with no review or debate.
// The round is persisted like a Run round; the exit state stays empty
// unless the answers already reach full consensus.
func (o *Orchestrator) Verify(ctx context.Context, description string) (*RunResult, error) {
	if strings.TrimSpace(description) == "" {
		return nil, errors.NewValidationError("task description is empty").WithField("description")
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, errors.ErrRunInProgress
	}
	defer o.running.Store(false)
	defer o.canceled.Store(false)

	r := &run{
		task:      NewTask(description, o.now()),
		tracker:   consensus.NewTracker(o.trackerOpts...),
		positions: make(map[string]*ai.AnalysisResult),
		started:   o.now(),
	}
	r.logger = o.logger.WithSession(r.task.ID).WithPhase("verify")
	o.setStatus(func(s *Status) {
		*s = Status{TaskID: r.task.ID, State: StateIdle, MaxRounds: 1, StartedAt: r.started}
	})
	if err := o.ready(ctx); err != nil {
		o.setStatus(func(s *Status) { s.State = StateTerminated })
		o.publish(event.NewRunFinishedEvent(r.task.ID, "", 0, 0, err))
		return nil, err
	}
	r.names = o.pool.Names()
	o.setStatus(func(s *Status) { s.Participants = slices.Clone(r.names) })
	o.saveTask(ctx, r)
	o.publish(event.NewRunStartedEvent(r.task.ID, r.task.Description, r.names))

	plan := consensus.PlanFor(r.tracker.Current(), 1, r.names, nil)
	o.setStatus(func(s *Status) {
		s.State = StateAnalyzing
		s.Round = 1
		s.Strategy = plan.Strategy
	})
	o.publish(event.NewRoundStartedEvent(r.task.ID, 1, string(plan.Strategy)))
	results, failures := o.analyze(ctx, r, 1, plan)
	if err := o.enough(results, failures); err != nil {
		o.setStatus(func(s *Status) { s.State = StateTerminated })
		o.publish(event.NewRunFinishedEvent(r.task.ID, "", 0, 0, err))
		return nil, err
	}

	round := Round{Number: 1, Plan: plan, Results: results, Failures: failures, StartedAt: r.started}
	round.Comparison, round.Decision = o.compare(ctx, r, &round, r.logger.WithRound(1))
	round.Duration = o.now().Sub(r.started)
	r.last = round.Comparison
	r.rounds = append(r.rounds, round)
	o.setStatus(func(s *Status) { s.Level = round.Decision.Level })
	o.publish(event.NewConsensusEvaluatedEvent(r.task.ID, 1, int(round.Decision.Level), string(round.Decision.Action),
		round.Comparison.Semantic.Score, round.Comparison.Structural.Ratio, round.Comparison.Hash.MatchRatio,
		string(r.tracker.Trend())))

	res := o.summarize(r)
	if round.Decision.Level == consensus.LevelFull {
		res.ExitState = ExitConsensusReached
	}
	if err := o.store.SaveFinal(context.WithoutCancel(ctx), r.task.ID, res); err != nil {
		r.logger.Warn("failed to persist final report", "error", err.Error())
	}
	o.setStatus(func(s *Status) {
		s.State = StateTerminated
		s.ExitState = res.ExitState
	})
	o.publish(event.NewRunFinishedEvent(r.task.ID, string(res.ExitState), 1, int(res.FinalLevel), nil))
	r.logger.Info("verify finished", "level", res.FinalLevel.String(), "failures", len(res.Failures))
	return res, nil
}

// ready runs the preflight or, without one, checks the pool can run.
func (o *Orchestrator) ready(ctx context.Context) error {
	if o.preflight {
		_, err := o.pool.Preflight(ctx)
		return err
	}
	return o.pool.Require()
}

// round runs one full round. It returns nil, nil when the run was canceled
// before the round's results were persisted.
func (o *Orchestrator) round(ctx context.Context, r *run, n int) (*Round, error) {
	started := o.now()
	strategy := r.tracker.Current()
	names := o.pool.Names()
	plan := consensus.PlanFor(strategy, n, names, r.last)
	log := r.logger.With("round", n, "strategy", string(strategy))

	o.setStatus(func(s *Status) {
		s.State = StateAnalyzing
		s.Round = n
		s.Strategy = strategy
	})
	o.publish(event.NewRoundStartedEvent(r.task.ID, n, string(strategy)))
	log.Info("round started", "participants", names)

	results, failures := o.analyze(ctx, r, n, plan)
	if o.stopped(ctx) {
		log.Info("run canceled, discarding round results", "responded", len(results))
		return nil, nil
	}
	if err := o.enough(results, failures); err != nil {
		return nil, err
	}

	round := &Round{Number: n, Plan: plan, Results: results, Failures: failures, StartedAt: started}
	cmp, decision := o.compare(ctx, r, round, log)
	update := r.tracker.Observe(decision, o.pool.Len())
	round.Comparison = cmp
	round.Decision = decision
	round.Update = update

	o.setStatus(func(s *Status) { s.Level = decision.Level })
	o.publish(event.NewConsensusEvaluatedEvent(r.task.ID, n, int(decision.Level), string(decision.Action),
		cmp.Semantic.Score, cmp.Structural.Ratio, cmp.Hash.MatchRatio, string(update.Trend)))
	if update.Rotated {
		o.publish(event.NewStrategyRotatedEvent(r.task.ID, n, string(update.From), string(update.To), update.Exhausted))
		log.Info("strategy rotated", "from", string(update.From), "to", string(update.To), "exhausted", update.Exhausted)
	}
	log.Info("round compared",
		"level", decision.Level.String(),
		"semantic", comparison.Round(cmp.Semantic.Score),
		"structural", comparison.Round(cmp.Structural.Ratio),
		"hash", comparison.Round(cmp.Hash.MatchRatio),
		"trend", string(update.Trend))

	for _, res := range results {
		r.positions[res.Backend] = res
	}
	r.last = cmp

	if update.Exhausted || n >= o.maxRounds || o.stopped(ctx) {
		// Nothing would compare the reviewed or debated positions.
		if decision.Level == consensus.LevelPartial || decision.Level == consensus.LevelNear {
			round.Minority = minority(results)
		}
		log.Debug("last round, skipping review and debate")
		round.Duration = o.now().Sub(started)
		return round, nil
	}

	switch decision.Level {
	case consensus.LevelPartial:
		round.Minority = minority(results)
		o.setStatus(func(s *Status) { s.State = StateCrossReviewing })
		round.Reviews = o.review(ctx, r, n, results)
		round.ReviewAgreement = consensus.CrossReviewAgreement(round.Reviews)
		log.Debug("cross-review complete", "reviews", len(round.Reviews), "agreement", round.ReviewAgreement)
		round.Debates = o.debate(ctx, r, round, ai.DebateOptions{
			Instructions: reviewInstructions(plan.Instructions, round.Reviews),
		})
	case consensus.LevelNear:
		round.Minority = minority(results)
		round.Debates = o.debate(ctx, r, round, ai.DebateOptions{
			Scope:        cmp.Structural.Disputed,
			Frozen:       cmp.Structural.Agreed,
			Instructions: plan.Instructions,
		})
	}

	round.Duration = o.now().Sub(started)
	return round, nil
}

// compare persists a round's analyses, then compares and persists the
// comparison.
func (o *Orchestrator) compare(ctx context.Context, r *run, round *Round, log *logging.Logger) (*comparison.Result, consensus.Decision) {
	n := round.Number
	for _, res := range round.Results {
		if err := o.store.SaveRound(ctx, r.task.ID, n, res.Backend, res); err != nil {
			log.Warn("failed to persist analysis", "backend", res.Backend, "error", err.Error())
		}
	}
	o.publish(event.NewRoundCompletedEvent(r.task.ID, n, round.Responders(), failedBackends(round.Failures)))

	o.setStatus(func(s *Status) { s.State = StateComparing })
	cmp := o.engine.Compare(round.Results)
	decision := o.protocol.Decide(cmp)
	if err := o.store.SaveComparison(ctx, r.task.ID, n, cmp); err != nil {
		log.Warn("failed to persist comparison", "error", err.Error())
	}
	return cmp, decision
}

// enough applies the strict-mode floor to a round's responders.
func (o *Orchestrator) enough(results []*ai.AnalysisResult, failures []pool.Failure) error {
	if !o.pool.Strict() || len(results) >= o.pool.MinClients() {
		return nil
	}
	reasons := make(map[string]string, len(failures))
	for _, f := range failures {
		reasons[f.Backend] = f.Reason
	}
	return errors.NewNoAvailableClientsError(true, reasons)
}

// analysisContext shapes one participant's prompt for round n.
func (o *Orchestrator) analysisContext(r *run, name string, n int, plan consensus.Plan) ai.AnalysisContext {
	actx := ai.AnalysisContext{
		Round:        n,
		Strategy:     string(plan.Strategy),
		Instructions: plan.Instructions,
		Perspective:  plan.Perspectives[name],
		Previous:     r.positions[name],
	}
	for _, peer := range sortedPositions(r.positions) {
		if peer.Backend != name {
			actx.Peers = append(actx.Peers, peer)
		}
	}
	if r.last != nil {
		actx.Agreed = r.last.Structural.Agreed
		actx.Disputed = r.last.Structural.Disputed
	}
	if plan.Strategy == consensus.StrategyScopeReduced {
		actx.Agreed, actx.Disputed = plan.Frozen, plan.Scope
	}
	if plan.Mediator == name {
		actx.Instructions = strings.TrimSpace(actx.Instructions +
			" You are the mediator this round: summarize where the analysts agree and propose a position all of them can accept.")
	}
	return actx
}

func (o *Orchestrator) analyze(ctx context.Context, r *run, n int, plan consensus.Plan) ([]*ai.AnalysisResult, []pool.Failure) {
	clients := o.pool.Clients()
	out, errs := fanOut(ctx, o.callTimeout, len(clients), func(ctx context.Context, i int) (*ai.AnalysisResult, error) {
		c := clients[i]
		return c.Analyze(ctx, r.task.Description, o.analysisContext(r, c.Name(), n, plan))
	})

	var results []*ai.AnalysisResult
	var failures []pool.Failure
	for i, c := range clients {
		if errs[i] != nil {
			failures = append(failures, o.fail(r, n, c.Name(), pool.PhaseAnalyze, errs[i]))
			continue
		}
		res := out[i]
		if res.Backend == "" {
			res.Backend = c.Name()
		}
		results = append(results, res)
	}
	return results, failures
}

// review has every responder critique every other responder's analysis.
func (o *Orchestrator) review(ctx context.Context, r *run, n int, results []*ai.AnalysisResult) []*ai.ReviewResult {
	type pair struct {
		reviewer ai.Client
		own      *ai.AnalysisResult
		peer     *ai.AnalysisResult
	}
	var pairs []pair
	for _, own := range results {
		c, ok := o.pool.Get(own.Backend)
		if !ok {
			continue
		}
		for _, peer := range results {
			if peer.Backend != own.Backend {
				pairs = append(pairs, pair{reviewer: c, own: own, peer: peer})
			}
		}
	}

	out, errs := fanOut(ctx, o.callTimeout, len(pairs), func(ctx context.Context, i int) (*ai.ReviewResult, error) {
		p := pairs[i]
		return p.reviewer.Review(ctx, r.task.Description, p.peer, p.own)
	})

	var reviews []*ai.ReviewResult
	for i, p := range pairs {
		if errs[i] != nil {
			o.fail(r, n, p.reviewer.Name(), pool.PhaseReview, errs[i])
			continue
		}
		reviews = append(reviews, out[i])
		o.saveReview(ctx, r, n, out[i])
	}
	return reviews
}

// debate runs one debate turn per responder. Minority members are asked to
// reconcile with the majority; the updated positions carry into the next
// round.
func (o *Orchestrator) debate(ctx context.Context, r *run, round *Round, base ai.DebateOptions) []*ai.DebateResult {
	o.setStatus(func(s *Status) { s.State = StateDebating })
	inMinority := make(map[string]bool, len(round.Minority))
	for _, name := range round.Minority {
		inMinority[name] = true
	}

	type turn struct {
		client   ai.Client
		own      *ai.AnalysisResult
		opposing []*ai.AnalysisResult
		opts     ai.DebateOptions
	}
	var turns []turn
	for _, own := range round.Results {
		c, ok := o.pool.Get(own.Backend)
		if !ok {
			continue
		}
		var majority, rest []*ai.AnalysisResult
		for _, other := range round.Results {
			switch {
			case other.Backend == own.Backend:
			case inMinority[other.Backend]:
				rest = append(rest, other)
			default:
				majority = append(majority, other)
			}
		}
		opts := base
		opts.Reconcile = inMinority[own.Backend]
		opts.Mediator = round.Plan.Mediator == own.Backend
		turns = append(turns, turn{client: c, own: own, opposing: append(majority, rest...), opts: opts})
	}

	out, errs := fanOut(ctx, o.callTimeout, len(turns), func(ctx context.Context, i int) (*ai.DebateResult, error) {
		t := turns[i]
		return t.client.Debate(ctx, r.task.Description, t.own, t.opposing, t.opts)
	})

	var debates []*ai.DebateResult
	for i, t := range turns {
		if errs[i] != nil {
			o.fail(r, round.Number, t.client.Name(), pool.PhaseDebate, errs[i])
			continue
		}
		d := out[i]
		if d.Backend == "" {
			d.Backend = t.client.Name()
		}
		debates = append(debates, d)
		r.positions[t.own.Backend] = d.Apply(t.own)
		o.saveDebate(ctx, r, round.Number, d)
	}
	return debates
}

// fanOut runs fn for indexes [0, n) concurrently, each under its own
// timeout. Errors are collected per index, never short-circuited.
func fanOut[T any](ctx context.Context, timeout time.Duration, n int, fn func(context.Context, int) (T, error)) ([]T, []error) {
	out := make([]T, n)
	errs := make([]error, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			v, err := fn(cctx, i)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = errors.NewTimeoutError("backend call", timeout).WithCause(err)
			}
			out[i], errs[i] = v, err
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

// fail records a call failure in the ledger. The client stays in the pool
// and is retried next round.
func (o *Orchestrator) fail(r *run, n int, backend string, phase pool.Phase, err error) pool.Failure {
	f := pool.Failure{Backend: backend, Phase: phase, Round: n, Reason: err.Error(), Err: err, At: o.now()}
	f = o.pool.RecordFailure(f)
	o.publish(event.NewCallFailedEvent(r.task.ID, n, backend, string(phase), err))
	return f
}

func (o *Orchestrator) saveTask(ctx context.Context, r *run) {
	if s, ok := o.store.(ArtifactStore); ok {
		if err := s.SaveTask(ctx, r.task); err != nil {
			r.logger.Warn("failed to persist task", "error", err.Error())
		}
	}
}

func (o *Orchestrator) saveReview(ctx context.Context, r *run, n int, rev *ai.ReviewResult) {
	if s, ok := o.store.(ArtifactStore); ok {
		if err := s.SaveReview(ctx, r.task.ID, n, rev); err != nil {
			r.logger.Warn("failed to persist review", "reviewer", rev.Reviewer, "error", err.Error())
		}
	}
}

func (o *Orchestrator) saveDebate(ctx context.Context, r *run, n int, d *ai.DebateResult) {
	if s, ok := o.store.(ArtifactStore); ok {
		if err := s.SaveDebate(ctx, r.task.ID, n, d); err != nil {
			r.logger.Warn("failed to persist debate", "backend", d.Backend, "error", err.Error())
		}
	}
}

// finish builds and persists the final report.
func (o *Orchestrator) finish(ctx context.Context, r *run, exit ExitState) *RunResult {
	res := o.summarize(r)
	res.ExitState = exit

	// The final report is written even when ctx was canceled.
	if err := o.store.SaveFinal(context.WithoutCancel(ctx), r.task.ID, res); err != nil {
		r.logger.Warn("failed to persist final report", "error", err.Error())
	}
	o.setStatus(func(s *Status) {
		s.State = StateTerminated
		s.ExitState = exit
	})
	o.publish(event.NewRunFinishedEvent(r.task.ID, string(exit), len(r.rounds), int(res.FinalLevel), nil))
	r.logger.Info("run finished",
		"exit_state", string(exit),
		"rounds", len(r.rounds),
		"level", res.FinalLevel.String(),
		"failures", len(res.Failures))
	return res
}

func (o *Orchestrator) summarize(r *run) *RunResult {
	res := &RunResult{
		Task:         r.task,
		Rounds:       r.rounds,
		Strategy:     r.tracker.Current(),
		Trend:        r.tracker.Trend(),
		Participants: slices.Clone(r.names),
		Failures:     o.pool.Failures(),
		Retries:      o.pool.RetryTotals(),
		StartedAt:    r.started,
		FinishedAt:   o.now(),
	}
	last := res.Last()
	if last == nil {
		return res
	}
	res.FinalLevel = last.Decision.Level
	res.Agreed = last.Comparison.Structural.Agreed
	res.Disputed = last.Comparison.Structural.Disputed
	if c, ok := last.Comparison.DominantCluster(); ok {
		res.Conclusion = c.Conclusion
		res.Steps = c.Steps
		res.Supporters = c.Backends
	}
	return res
}

// minority returns the backends outside the largest group of identical
// positions. A position is the conclusion digest plus the normalized step
// set; ties go to the smallest key.
func minority(results []*ai.AnalysisResult) []string {
	groups := make(map[string][]string)
	for _, r := range results {
		k := positionKey(r)
		groups[k] = append(groups[k], r.Backend)
	}
	if len(groups) < 2 {
		return nil
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if len(groups[k]) > len(groups[best]) {
			best = k
		}
	}
	var out []string
	for _, k := range keys {
		if k != best {
			out = append(out, groups[k]...)
		}
	}
	sort.Strings(out)
	return out
}

func positionKey(r *ai.AnalysisResult) string {
	steps := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		if n := comparison.NormalizeItem(s); n != "" {
			steps = append(steps, n)
		}
	}
	sort.Strings(steps)
	steps = slices.Compact(steps)
	return comparison.Digest(r.Conclusion) + "|" + strings.Join(steps, "\x1f")
}

func sortedPositions(m map[string]*ai.AnalysisResult) []*ai.AnalysisResult {
	out := make([]*ai.AnalysisResult, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// reviewInstructions appends the points reviewers disputed.
func reviewInstructions(base string, reviews []*ai.ReviewResult) string {
	var disputed []string
	seen := make(map[string]bool)
	for _, rev := range reviews {
		for _, d := range rev.Disputed {
			if k := comparison.NormalizeItem(d); k != "" && !seen[k] {
				seen[k] = true
				disputed = append(disputed, d)
			}
		}
	}
	if len(disputed) == 0 {
		return base
	}
	return strings.TrimSpace(fmt.Sprintf("%s Peer review disputed: %s.", base, strings.Join(disputed, "; ")))
}

func failedBackends(failures []pool.Failure) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Backend)
	}
	return out
}

type nopStore struct{}

func (nopStore) SaveRound(context.Context, string, int, string, *ai.AnalysisResult) error { return nil }
func (nopStore) SaveComparison(context.Context, string, int, *comparison.Result) error { return nil }
func (nopStore) SaveFinal(context.Context, string, *RunResult) error { return nil }
