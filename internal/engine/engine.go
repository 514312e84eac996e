// Package engine implements spec.md §4.12: the builder/façade that wires
// together a Repository, the import resolver, the compiler, the router and
// the VM into one decide(event) entrypoint, with an atomically-swapped
// catalog so Reload never leaves an in-flight request observing a
// half-built program set.
//
// Grounded on the teacher's RuleEngine façade (internal/rules/engine.go:
// load-compile-serve, an RWMutex-guarded live snapshot swapped wholesale on
// reload) generalized from a flat rule list to the four-artifact-kind RDL
// catalog spec.md §4.3/§4.4/§4.5 describe.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/compiler"
	"github.com/ruleflow/engine/internal/importresolve"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/observability"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/internal/repository"
	"github.com/ruleflow/engine/internal/resultstore"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/internal/router"
	"github.com/ruleflow/engine/internal/scorenorm"
	"github.com/ruleflow/engine/internal/vm"
	"github.com/ruleflow/engine/pkg/value"
)

// FeatureProvider is satisfied by internal/features.Engine: it both answers
// CallFeature instructions (for the VM) and resolves "features.*" namespace
// lookups lazily (for reqcontext.Context), so one collaborator wires both.
type FeatureProvider interface {
	Call(ctx context.Context, spec ir.FeatureCallSpec, rc *reqcontext.Context) (value.Value, error)
	Resolve(ctx context.Context, rc *reqcontext.Context, name string) (value.Value, error)
}

// ListProvider is satisfied by internal/listsvc.Service (and its
// MemoryService/relational/HTTP backends): it answers ListLookup
// instructions for the VM and whole-list reads for the "list" namespace,
// with the exact method shapes vm.ListChecker and reqcontext.ListResolver
// already expect — no adapter type is needed.
type ListProvider interface {
	Contains(ctx context.Context, listID string, v value.Value) (hit bool, configured bool)
	GetAll(listID string) ([]value.Value, bool)
}

// catalog is one immutable, fully-compiled snapshot of every artifact the
// engine can route to. Swapped wholesale under Engine.mu by Build/Reload.
type catalog struct {
	registry         *ast.PipelineRegistry
	pipelinePrograms map[string]*ir.Program
	router           *router.Router
}

// engineConfig accumulates Option values before New constructs the Engine
// and its embedded VM in one pass.
type engineConfig struct {
	compiler    *compiler.Compiler
	vmOpts      []vm.Option
	scoreCfg    scorenorm.Config
	writer      resultstore.Writer
	warn        vm.Warner
	features    FeatureProvider
	lists       ListProvider
}

// Option configures an Engine at construction.
type Option func(*engineConfig)

// WithCompilerOptions overrides the default compiler pass toggles.
func WithCompilerOptions(opts compiler.Options) Option {
	return func(cfg *engineConfig) { cfg.compiler = compiler.NewWithOptions(opts) }
}

// WithFeatures wires a feature engine into both the VM's CallFeature
// instruction and the request context's lazy "features.*" namespace.
func WithFeatures(f FeatureProvider) Option {
	return func(cfg *engineConfig) {
		cfg.features = f
		cfg.vmOpts = append(cfg.vmOpts, vm.WithFeatures(f))
	}
}

// WithLLM wires an LLM client into the VM's CallLLM instruction (the
// "Reason" pipeline step).
func WithLLM(l vm.LLMCaller) Option {
	return func(cfg *engineConfig) { cfg.vmOpts = append(cfg.vmOpts, vm.WithLLM(l)) }
}

// WithService wires an external service client into the VM's CallService
// instruction (the "Service" pipeline step).
func WithService(s vm.ServiceCaller) Option {
	return func(cfg *engineConfig) { cfg.vmOpts = append(cfg.vmOpts, vm.WithService(s)) }
}

// WithLists wires a list backend into both the VM's ListLookup instruction
// and the request context's "list.*" namespace.
func WithLists(l ListProvider) Option {
	return func(cfg *engineConfig) {
		cfg.lists = l
		cfg.vmOpts = append(cfg.vmOpts, vm.WithLists(l))
	}
}

// WithLimits overrides the VM's default resource bounds.
func WithLimits(l vm.Limits) Option {
	return func(cfg *engineConfig) { cfg.vmOpts = append(cfg.vmOpts, vm.WithLimits(l)) }
}

// WithScoreConfig overrides the default logistic normalization curve.
func WithScoreConfig(c scorenorm.Config) Option {
	return func(cfg *engineConfig) { cfg.scoreCfg = c }
}

// WithResultWriter attaches a durable decision record sink. Writes happen
// asynchronously after Decide returns and never affect its result (spec.md
// §4.12 step 6).
func WithResultWriter(w resultstore.Writer) Option {
	return func(cfg *engineConfig) { cfg.writer = w }
}

// WithWarner installs the non-fatal warning sink (unconfigured lists,
// result-persistence failures). Defaults to a no-op.
func WithWarner(w vm.Warner) Option {
	return func(cfg *engineConfig) { cfg.warn = w }
}

// Engine is the decide() façade. One Engine value is safe for concurrent
// use: Decide only ever reads the current catalog snapshot under a brief
// read lock, and Reload only ever swaps it under a brief write lock, so the
// two never contend for more than a pointer read/write.
type Engine struct {
	repo     repository.Repository
	cc       *compiler.Compiler
	vm       *vm.VM
	vmOpts   []vm.Option
	scoreCfg scorenorm.Config
	writer   resultstore.Writer
	warn     vm.Warner
	features FeatureProvider
	lists    ListProvider

	lc   *lifecycle
	mu   sync.RWMutex
	live *catalog
}

// New constructs an Engine over repo. Call Build before the first Decide;
// an unbuilt Engine rejects every decide() call rather than silently
// matching nothing.
func New(repo repository.Repository, opts ...Option) *Engine {
	cfg := &engineConfig{
		compiler: compiler.New(),
		scoreCfg: scorenorm.DefaultConfig,
		warn:     func(string, ...interface{}) {},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	vmOpts := append(append([]vm.Option{}, cfg.vmOpts...), vm.WithWarner(cfg.warn))
	return &Engine{
		repo:     repo,
		cc:       cfg.compiler,
		vm:       vm.New(vmOpts...),
		vmOpts:   vmOpts,
		scoreCfg: cfg.scoreCfg,
		writer:   cfg.writer,
		warn:     cfg.warn,
		features: cfg.features,
		lists:    cfg.lists,
		lc:       newLifecycle(),
	}
}

// Build performs the engine's first load-compile-activate pass. Must
// succeed before Decide will serve any request.
func (e *Engine) Build(ctx context.Context) error {
	return e.rebuild(ctx, false)
}

// Reload recompiles every artifact from the repository and, on success,
// atomically replaces the live catalog. A failed reload leaves the
// previous catalog serving untouched — it is never partially applied.
func (e *Engine) Reload(ctx context.Context) error {
	return e.rebuild(ctx, true)
}

func (e *Engine) rebuild(ctx context.Context, isReload bool) error {
	started := time.Now()
	var span trace.Span
	if isReload {
		ctx, span = observability.StartReloadSpan(ctx)
		defer span.End()
	}

	beginEvent := EventBeginLoad
	if isReload {
		beginEvent = EventBeginReload
	}
	if err := e.lc.transition(beginEvent); err != nil {
		return err
	}

	cat, err := e.buildCatalog(ctx)
	if err != nil {
		e.lc.transition(EventCompileFailed)
		if isReload {
			observability.RecordReloadResult(ctx, span, err, time.Since(started))
			observability.Error(ctx, "catalog reload failed: %v", err)
		}
		return err
	}
	if err := e.lc.transition(EventCompileDone); err != nil {
		return err
	}
	if !isReload {
		if err := e.lc.transition(EventActivate); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.live = cat
	e.mu.Unlock()

	observability.ArtifactsActive.WithLabelValues("pipeline").Set(float64(len(cat.pipelinePrograms)))
	if isReload {
		observability.RecordReloadResult(ctx, span, nil, time.Since(started))
		observability.Info(ctx, "catalog reload succeeded in %s", time.Since(started))
	}
	return nil
}

// buildCatalog loads every rule/ruleset/pipeline and the registry from the
// repository, resolves each ruleset's extends chain (spec.md §4.4), and
// compiles rulesets before pipelines so an Include step's ruleset program
// is already available in the Universe when the pipeline compiles
// (spec.md §4.5).
func (e *Engine) buildCatalog(ctx context.Context) (*catalog, error) {
	uni := compiler.NewUniverse()

	ruleIDs, err := e.repo.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ruleIDs {
		doc, err := e.repo.LoadRule(ctx, id)
		if err != nil {
			return nil, err
		}
		uni.RuleIDs[id] = true
		uni.Rules[id] = doc.Definition
	}

	rulesetIDs, err := e.repo.ListRulesets(ctx)
	if err != nil {
		return nil, err
	}
	rulesetDocs := make(map[string]*ast.RdlDocument[*ast.Ruleset], len(rulesetIDs))
	for _, id := range rulesetIDs {
		doc, err := e.repo.LoadRuleset(ctx, id)
		if err != nil {
			return nil, err
		}
		uni.RulesetIDs[id] = true
		rulesetDocs[id] = doc
	}

	resolver := importresolve.New(e.repo, e.repo)
	rulesetPrograms := make(map[string]*ir.Program, len(rulesetDocs))
	for id, doc := range rulesetDocs {
		merged, err := resolver.ResolveExtends(ctx, doc)
		if err != nil {
			return nil, err
		}
		compileStarted := time.Now()
		cctx, cspan := observability.StartCompileSpan(ctx, "ruleset", id)
		prog, err := e.cc.CompileRuleset(merged, uni)
		observability.RecordCompileResult(cctx, cspan, "ruleset", err, time.Since(compileStarted))
		cspan.End()
		if err != nil {
			return nil, err
		}
		rulesetPrograms[id] = prog
	}
	uni.RulesetPrograms = rulesetPrograms
	observability.ArtifactsActive.WithLabelValues("ruleset").Set(float64(len(rulesetPrograms)))
	observability.ArtifactsActive.WithLabelValues("rule").Set(float64(len(ruleIDs)))

	pipelineIDs, err := e.repo.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	pipelinePrograms := make(map[string]*ir.Program, len(pipelineIDs))
	for _, id := range pipelineIDs {
		doc, err := e.repo.LoadPipeline(ctx, id)
		if err != nil {
			return nil, err
		}
		compileStarted := time.Now()
		cctx, cspan := observability.StartCompileSpan(ctx, "pipeline", id)
		prog, err := e.cc.CompilePipeline(doc.Definition, uni)
		observability.RecordCompileResult(cctx, cspan, "pipeline", err, time.Since(compileStarted))
		cspan.End()
		if err != nil {
			return nil, err
		}
		pipelinePrograms[id] = prog
	}

	registry, err := e.repo.LoadRegistry(ctx)
	if err != nil {
		if !rferrors.IsKind(err, rferrors.KindNotFound) {
			return nil, err
		}
		registry = nil
	}

	return &catalog{
		registry:         registry,
		pipelinePrograms: pipelinePrograms,
		router:           router.New(registry),
	}, nil
}

// State reports the catalog's current lifecycle state, mainly for health
// checks and operator tooling.
func (e *Engine) State() CatalogState { return e.lc.State() }

// DecideRequest is the input to Decide: the triggering event plus the
// optional static namespaces spec.md §4.2's context builder accepts
// up-front (as opposed to the lazily-resolved "features" and "list"
// namespaces, wired once at engine construction instead).
type DecideRequest struct {
	Event       value.Value
	User        value.Value
	API         value.Value
	Vars        value.Value
	Environment string
	// EnableTrace requests a structured ExecutionTrace on the response,
	// per spec.md §4.14. Left false, Decide never pays the recording cost.
	EnableTrace bool
}

// DecideResponse is spec.md §6's decision response: a request id, which
// pipeline (if any) matched, the signal and score, everything that fired,
// and the variables a pipeline's Extract/Reason/Service steps stored.
type DecideResponse struct {
	RequestID        string                      `json:"request_id"`
	PipelineID       string                      `json:"pipeline_id,omitempty"`
	Matched          bool                        `json:"matched"`
	Signal           ast.Signal                  `json:"signal,omitempty"`
	HasSignal        bool                        `json:"has_signal"`
	ScoreRaw         int                         `json:"score_raw"`
	ScoreCanonical   int                         `json:"score_canonical"`
	TriggeredRules   []string                    `json:"triggered_rules,omitempty"`
	Actions          []string                    `json:"actions,omitempty"`
	Variables        map[string]value.Value      `json:"variables,omitempty"`
	ProcessingTimeMS int64                       `json:"processing_time_ms"`
	Trace            *resultstore.ExecutionTrace `json:"trace,omitempty"`
}

// Decide routes event to a pipeline, executes its compiled program, and
// normalizes the result, per spec.md §4.12's decide() orchestration:
// construct context -> route -> execute -> normalize score -> optionally
// attach a trace -> persist best-effort -> return.
func (e *Engine) Decide(ctx context.Context, req DecideRequest) (*DecideResponse, error) {
	started := time.Now()
	requestID := uuid.NewString()
	ctx, span := observability.StartDecideSpan(ctx, requestID)
	defer span.End()

	e.mu.RLock()
	cat := e.live
	e.mu.RUnlock()
	if cat == nil {
		err := rferrors.InvalidOperation("engine not built: call Build before Decide")
		observability.RecordDecideError(ctx, span, "", err, time.Since(started))
		return nil, err
	}

	pipelineID, matched, err := cat.router.Route(req.Event)
	if err != nil {
		observability.RecordDecideError(ctx, span, "", err, time.Since(started))
		return nil, err
	}
	if !matched {
		canonical := scorenorm.Normalize(0, e.scoreCfg)
		observability.RecordDecideResult(ctx, span, "", false, "", 0, canonical, time.Since(started))
		return &DecideResponse{
			RequestID:        requestID,
			Matched:          false,
			ScoreCanonical:   canonical,
			ProcessingTimeMS: time.Since(started).Milliseconds(),
		}, nil
	}

	prog, ok := cat.pipelinePrograms[pipelineID]
	if !ok {
		err := rferrors.UnknownReference("pipeline", pipelineID)
		observability.RecordDecideError(ctx, span, pipelineID, err, time.Since(started))
		return nil, err
	}

	rcOpts := []reqcontext.Option{reqcontext.WithGoContext(ctx)}
	if !req.User.IsNull() {
		rcOpts = append(rcOpts, reqcontext.WithUser(req.User))
	}
	if !req.API.IsNull() {
		rcOpts = append(rcOpts, reqcontext.WithAPI(req.API))
	}
	if !req.Vars.IsNull() {
		rcOpts = append(rcOpts, reqcontext.WithVars(req.Vars))
	}
	if req.Environment != "" {
		rcOpts = append(rcOpts, reqcontext.WithEnvironment(req.Environment))
	}
	if e.features != nil {
		rcOpts = append(rcOpts, reqcontext.WithFeatures(e.features))
	}
	if e.lists != nil {
		rcOpts = append(rcOpts, reqcontext.WithLists(e.lists))
	}
	rc := reqcontext.New(req.Event, rcOpts...)

	var rec *resultstore.Recorder
	execVM := e.vm
	if req.EnableTrace {
		rec = resultstore.NewRecorder(pipelineID)
		execVM = vm.New(append(append([]vm.Option{}, e.vmOpts...), vm.WithTracer(rec))...)
	}

	result, err := execVM.Execute(ctx, prog, rc)
	if err != nil {
		observability.RecordDecideError(ctx, span, pipelineID, err, time.Since(started))
		return nil, err
	}

	canonical := scorenorm.Normalize(result.Score, e.scoreCfg)
	resp := &DecideResponse{
		RequestID:        requestID,
		PipelineID:       pipelineID,
		Matched:          true,
		Signal:           result.Signal,
		HasSignal:        result.HasSignal,
		ScoreRaw:         result.Score,
		ScoreCanonical:   canonical,
		TriggeredRules:   result.TriggeredRules,
		Actions:          result.Actions,
		Variables:        finalVars(rc),
		ProcessingTimeMS: time.Since(started).Milliseconds(),
	}
	if rec != nil {
		trace := rec.Finish()
		resp.Trace = &trace
	}
	observability.RecordDecideResult(ctx, span, pipelineID, true, string(result.Signal), result.Score, canonical, time.Since(started))

	if e.writer != nil {
		go e.persistResult(requestID, resp)
	}

	return resp, nil
}

// finalVars reads back the "vars" namespace a pipeline's Extract/Reason/
// Service steps populated over the course of execution (StoreVar writes
// both to the context and to the VM's ExecutionResult.Variables; the
// response reports the context's copy).
func finalVars(rc *reqcontext.Context) map[string]value.Value {
	obj, _ := rc.Vars.AsObject()
	return obj
}

// persistResult writes the decision record asynchronously and best-effort:
// a failure here never surfaces to the caller that already received resp,
// per spec.md §5's "no compensating action is required" for result writes.
func (e *Engine) persistResult(requestID string, resp *DecideResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := resultstore.Record{
		RequestID:      requestID,
		PipelineID:     resp.PipelineID,
		Signal:         string(resp.Signal),
		ScoreRaw:       resp.ScoreRaw,
		ScoreCanonical: resp.ScoreCanonical,
		TriggeredRules: resp.TriggeredRules,
		Actions:        resp.Actions,
		CreatedAt:      time.Now(),
	}
	if err := e.writer.WriteResult(ctx, rec); err != nil {
		e.warn("result persistence failed for request %s: %v", requestID, err)
	}
}
