package drill

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"db-resilience/internal/compliance"
	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"
	"db-resilience/internal/metrics"
	"db-resilience/internal/monitoring"
)

const (
	// DefaultStepTimeout applies to steps without their own timeout
	DefaultStepTimeout = 10 * time.Minute

	scoreStepWeight = 0.6
	scoreRtoWeight  = 0.2
	scoreRpoWeight  = 0.2
)

// Dependencies are the collaborators of an Engine. Store is required.
type Dependencies struct {
	Store      Store
	Events     monitoring.Publisher
	Compliance compliance.Recorder
	Targets    compliance.Mapping
	Logger     *logging.Logger
	Metrics    *metrics.Recorder
}

type activeRun struct {
	executionID string
	cancelled   bool
	cancelledBy string
	// settled is set once the terminal status is decided; later cancels
	// have no effect
	settled bool
}

// Engine runs drill executions. At most one execution per configuration is
// active at a time.
type Engine struct {
	store       Store
	events      monitoring.Publisher
	compliance  compliance.Recorder
	targets     compliance.Mapping
	logger      *logging.Logger
	metrics     *metrics.Recorder
	executors   map[StepType]StepExecutor
	stepTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
	byExec map[string]*activeRun
	wg     sync.WaitGroup
}

// NewEngine creates a drill engine without executors; register them with
// RegisterExecutor.
func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.Store == nil {
		return nil, apperrors.NewConfigError("drill engine requires a store", nil)
	}
	e := &Engine{
		store:       deps.Store,
		events:      deps.Events,
		compliance:  deps.Compliance,
		targets:     deps.Targets,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		executors:   make(map[StepType]StepExecutor),
		stepTimeout: DefaultStepTimeout,
		now:         time.Now,
		active:      make(map[string]*activeRun),
		byExec:      make(map[string]*activeRun),
	}
	if e.logger == nil {
		e.logger = logging.NewDiscardLogger()
	}
	return e, nil
}

// RegisterExecutor sets the executor of a step type. Call before starting
// executions.
func (e *Engine) RegisterExecutor(stepType StepType, executor StepExecutor) {
	e.executors[stepType] = executor
}

// SaveConfiguration validates and stores a configuration
func (e *Engine) SaveConfiguration(ctx context.Context, cfg *Configuration) error {
	if err := cfg.Validate(); err != nil {
		return apperrors.NewValidationError("invalid drill configuration", err)
	}
	return e.store.SaveConfiguration(ctx, cfg)
}

// SaveScenario validates and stores a scenario
func (e *Engine) SaveScenario(ctx context.Context, scenario *Scenario) error {
	if err := scenario.Validate(); err != nil {
		return apperrors.NewValidationError("invalid drill scenario", err)
	}
	return e.store.SaveScenario(ctx, scenario)
}

// ListConfigurations returns every stored configuration
func (e *Engine) ListConfigurations(ctx context.Context) ([]*Configuration, error) {
	return e.store.ListConfigurations(ctx)
}

// GetExecution returns one execution
func (e *Engine) GetExecution(ctx context.Context, id string) (*Execution, error) {
	return e.store.GetExecution(ctx, id)
}

// ListExecutions returns executions newest first
func (e *Engine) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	return e.store.ListExecutions(ctx, filter)
}

type plan struct {
	run      *activeRun
	config   *Configuration
	scenario *Scenario
	exec     *Execution
}

// Start begins an execution in the background and returns its id. The
// execution outlives ctx; use Cancel to stop it.
func (e *Engine) Start(ctx context.Context, configID string, trigger Trigger) (string, error) {
	p, err := e.prepare(ctx, configID, trigger)
	if err != nil {
		return "", err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(context.WithoutCancel(ctx), p)
	}()
	return p.exec.ID, nil
}

// Run executes a drill and returns the terminal execution
func (e *Engine) Run(ctx context.Context, configID string, trigger Trigger) (*Execution, error) {
	p, err := e.prepare(ctx, configID, trigger)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, p), nil
}

// Wait blocks until every background execution has finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) prepare(ctx context.Context, configID string, trigger Trigger) (*plan, error) {
	cfg, err := e.store.GetConfiguration(ctx, configID)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid drill configuration", err)
	}
	if !cfg.Enabled && trigger == TriggerScheduled {
		return nil, apperrors.NewConflictError(fmt.Sprintf("drill configuration %s is disabled", cfg.ID))
	}
	scenario, err := e.store.GetScenario(ctx, cfg.ScenarioID)
	if err != nil {
		return nil, err
	}
	if err := scenario.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid drill scenario", err)
	}
	for _, step := range scenario.Steps {
		if _, ok := e.executors[step.Type]; !ok {
			return nil, apperrors.NewConfigError(fmt.Sprintf("no executor registered for step type %s", step.Type), nil)
		}
	}

	run, err := e.reserve(cfg.ID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	exec, err := e.store.CreateExecution(ctx, &Execution{
		ID:         uuid.New().String(),
		ConfigID:   cfg.ID,
		ScenarioID: scenario.ID,
		Status:     StatusPending,
		Trigger:    trigger,
		CreatedAt:  now,
	})
	if err != nil {
		e.release(cfg.ID, "")
		return nil, apperrors.WrapError(err, "failed to create drill execution")
	}

	e.mu.Lock()
	run.executionID = exec.ID
	e.byExec[exec.ID] = run
	e.mu.Unlock()

	exec.Status = StatusRunning
	exec.StartedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.release(cfg.ID, exec.ID)
		return nil, apperrors.WrapError(err, "failed to start drill execution")
	}

	e.logger.WithFields(map[string]interface{}{
		"execution_id": exec.ID,
		"config_id":    cfg.ID,
		"scenario_id":  scenario.ID,
		"trigger":      trigger,
	}).Info("Drill execution started")

	return &plan{run: run, config: cfg, scenario: scenario, exec: exec}, nil
}

func (e *Engine) reserve(configID string) (*activeRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.active[configID]; ok {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("drill configuration %s already has an active execution %s", configID, current.executionID))
	}
	run := &activeRun{}
	e.active[configID] = run
	return run, nil
}

func (e *Engine) release(configID, executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, configID)
	if executionID != "" {
		delete(e.byExec, executionID)
	}
}

func (e *Engine) cancelRequested(run *activeRun) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return run.cancelled, run.cancelledBy
}

// settle closes the run to cancellation and reports whether a cancel was
// accepted before that
func (e *Engine) settle(run *activeRun) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run.settled = true
	return run.cancelled, run.cancelledBy
}

// Cancel asks a running execution to stop. The in-flight step finishes;
// no further steps are issued and the execution ends cancelled. A cancel
// that arrives once the outcome is decided is a conflict.
func (e *Engine) Cancel(ctx context.Context, executionID, by string) (*Execution, error) {
	var refusal string
	e.mu.Lock()
	run, ok := e.byExec[executionID]
	switch {
	case !ok:
	case run.settled:
		refusal = "is already finishing"
	case run.cancelled:
		refusal = "is already being cancelled"
	default:
		run.cancelled = true
		run.cancelledBy = by
	}
	e.mu.Unlock()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		refusal = fmt.Sprintf("is %s", exec.Status)
	}
	if refusal != "" {
		return nil, apperrors.NewConflictError(fmt.Sprintf("drill execution %s %s and cannot be cancelled", executionID, refusal))
	}
	e.logger.WithFields(map[string]interface{}{
		"execution_id": executionID,
		"cancelled_by": by,
	}).Info("Drill cancellation requested")
	return exec, nil
}

func (e *Engine) run(ctx context.Context, p *plan) *Execution {
	exec := p.exec
	defer e.release(p.config.ID, exec.ID)

	targetRef := p.config.TargetRef
	for _, step := range p.scenario.Steps {
		if cancelled, by := e.cancelRequested(p.run); cancelled {
			exec.Status = StatusCancelled
			exec.CancelledBy = by
			break
		}

		result := e.runStep(ctx, p, step, targetRef)
		exec.StepResults = append(exec.StepResults, result)
		if result.Success && result.Output.RestoredRef != "" {
			targetRef = result.Output.RestoredRef
		}
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			e.logger.WithField("execution_id", exec.ID).Warnf("Failed to persist drill progress: %v", err)
		}

		if !result.Success && !step.ContinueOnFailure {
			exec.Status = StatusFailed
			exec.FailureReason = fmt.Sprintf("step %s failed: %s", step.ID, result.Error)
			break
		}
	}
	cancelled, by := e.settle(p.run)
	if !exec.Status.Terminal() {
		if cancelled {
			exec.Status = StatusCancelled
			exec.CancelledBy = by
		} else {
			exec.Status = StatusCompleted
		}
	}

	e.finalize(ctx, p)
	return exec
}

func (e *Engine) runStep(ctx context.Context, p *plan, step Step, targetRef string) StepResult {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	started := e.now()
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := StepRequest{
		ExecutionID: p.exec.ID,
		Config:      *p.config,
		Step:        step,
		TargetRef:   targetRef,
		Elapsed:     started.Sub(*p.exec.StartedAt),
		Previous:    append([]StepResult(nil), p.exec.StepResults...),
	}

	type outcome struct {
		output StepOutput
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := e.executors[step.Type].Execute(stepCtx, req)
		done <- outcome{output: output, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
		if res.err == nil && stepCtx.Err() == context.DeadlineExceeded {
			res.err = stepCtx.Err()
		}
	case <-stepCtx.Done():
		res.err = stepCtx.Err()
	}
	if res.err == context.DeadlineExceeded {
		res.err = apperrors.NewAppError(apperrors.ErrorTypeTimeout, fmt.Sprintf("step exceeded timeout of %s", timeout), res.err)
	}

	result := StepResult{
		StepID:    step.ID,
		Name:      step.Name,
		Type:      step.Type,
		Success:   res.err == nil,
		StartedAt: started,
		Duration:  e.now().Sub(started),
		Output:    res.output,
	}
	if res.err != nil {
		result.Error = res.err.Error()
	}

	e.logger.LogDrillStep(p.exec.ID, step.ID, string(step.Type), result.Success, result.Duration, res.err)
	e.metrics.ObserveDrillStep(string(step.Type), result.Success)
	return result
}

func (e *Engine) finalize(ctx context.Context, p *plan) {
	exec := p.exec
	finished := e.now()
	exec.FinishedAt = &finished

	Score(exec, p.config, finished.Sub(*exec.StartedAt))

	persistCtx := context.WithoutCancel(ctx)
	if err := e.store.UpdateExecution(persistCtx, exec); err != nil {
		e.logger.WithField("execution_id", exec.ID).Errorf("Failed to persist drill result: %v", err)
	}

	e.recordMeasurements(persistCtx, exec)

	if e.events != nil {
		e.events.Publish(persistCtx, monitoring.DrillCompleted{
			ExecutionID:   exec.ID,
			ConfigID:      exec.ConfigID,
			Status:        string(exec.Status),
			ActualRto:     exec.ActualRto,
			ActualRpo:     exec.ActualRpo,
			ExpectedRto:   p.config.ExpectedRtoSeconds,
			ExpectedRpo:   p.config.ExpectedRpoSeconds,
			RtoAchieved:   exec.RtoAchieved,
			RpoAchieved:   exec.RpoAchieved,
			SuccessScore:  exec.SuccessScore,
			FailureReason: exec.FailureReason,
			Channels:      append([]string(nil), p.config.NotificationChannels...),
		})
	}
	e.metrics.ObserveDrill(exec.ConfigID, string(exec.Status), exec.SuccessScore, exec.ActualRto, exec.ActualRpo)

	e.logger.WithFields(map[string]interface{}{
		"execution_id": exec.ID,
		"config_id":    exec.ConfigID,
		"status":       exec.Status,
		"score":        exec.SuccessScore,
		"actual_rto":   exec.ActualRto,
		"actual_rpo":   exec.ActualRpo,
	}).Info("Drill execution finished")
}

func (e *Engine) recordMeasurements(ctx context.Context, exec *Execution) {
	targets := e.targets.TargetsFor(exec.ConfigID)
	if e.compliance == nil || len(targets) == 0 {
		return
	}
	for _, targetID := range targets {
		_, err := e.compliance.RecordMeasurement(ctx, compliance.MeasurementInput{
			TargetID:   targetID,
			Source:     compliance.SourceDrill,
			SourceID:   exec.ID,
			ActualRto:  exec.ActualRto,
			ActualRpo:  exec.ActualRpo,
			MeasuredAt: *exec.FinishedAt,
		})
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"execution_id": exec.ID,
				"target_id":    targetID,
			}).Warnf("Failed to record compliance measurement: %v", err)
		}
	}
}

// Score fills the measured recovery figures and the success score of a
// finished execution. RTO is the first failover step's duration, or the
// whole execution when there is none; RPO is the first restore step's
// duration, or zero.
func Score(exec *Execution, cfg *Configuration, total time.Duration) {
	rto := total.Seconds()
	rpo := 0.0
	var seenFailover, seenRestore bool
	succeeded := 0
	for _, r := range exec.StepResults {
		if r.Success {
			succeeded++
		}
		if r.Type == StepFailover && !seenFailover {
			rto = r.Duration.Seconds()
			seenFailover = true
		}
		if r.Type == StepRestore && !seenRestore {
			rpo = r.Duration.Seconds()
			seenRestore = true
		}
	}

	exec.ActualRto = rto
	exec.ActualRpo = rpo
	exec.RtoAchieved = rto <= cfg.ExpectedRtoSeconds
	exec.RpoAchieved = rpo <= cfg.ExpectedRpoSeconds

	rate := 0.0
	if len(exec.StepResults) > 0 {
		rate = float64(succeeded) / float64(len(exec.StepResults))
	}
	exec.SuccessScore = SuccessScore(rate, exec.RtoAchieved, exec.RpoAchieved)
}

// SuccessScore weighs the step success rate against the two objectives.
// A missed objective still earns half its weight.
func SuccessScore(stepRate float64, rtoAchieved, rpoAchieved bool) int {
	objective := func(ok bool) float64 {
		if ok {
			return 1
		}
		return 0.5
	}
	score := 100 * (scoreStepWeight*stepRate + scoreRtoWeight*objective(rtoAchieved) + scoreRpoWeight*objective(rpoAchieved))
	return int(math.Round(score))
}
