package drill

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/provider"
	"db-resilience/internal/schema"
)

// StepRequest is what an executor receives. TargetRef starts as the
// configuration's target and switches to the restored instance once a
// restore step reports one.
type StepRequest struct {
	ExecutionID string
	Config      Configuration
	Step        Step
	TargetRef   string
	Elapsed     time.Duration
	Previous    []StepResult
}

// StepExecutor performs one step type. Implementations must honour ctx.
type StepExecutor interface {
	Execute(ctx context.Context, req StepRequest) (StepOutput, error)
}

// StepExecutorFunc adapts a function to StepExecutor
type StepExecutorFunc func(ctx context.Context, req StepRequest) (StepOutput, error)

// Execute calls f
func (f StepExecutorFunc) Execute(ctx context.Context, req StepRequest) (StepOutput, error) {
	return f(ctx, req)
}

// FailoverExecutor forces a failover of the target through the provider
type FailoverExecutor struct {
	Provider provider.SnapshotProvider
}

func (e *FailoverExecutor) Execute(ctx context.Context, req StepRequest) (StepOutput, error) {
	f, ok := e.Provider.(provider.Failoverer)
	if !ok {
		return StepOutput{}, apperrors.NewConfigError("snapshot provider does not support failover", nil)
	}
	if err := f.Failover(ctx, req.TargetRef); err != nil {
		return StepOutput{}, apperrors.WrapError(err, fmt.Sprintf("failover of %s failed", req.TargetRef))
	}
	return StepOutput{Detail: fmt.Sprintf("failed over %s", req.TargetRef)}, nil
}

// RestoreExecutor restores the latest available snapshot into the target
type RestoreExecutor struct {
	Provider provider.SnapshotProvider
}

func (e *RestoreExecutor) Execute(ctx context.Context, req StepRequest) (StepOutput, error) {
	snapshots, err := e.Provider.ListSnapshots(ctx)
	if err != nil {
		return StepOutput{}, apperrors.WrapError(err, "failed to list snapshots")
	}
	latest, ok := provider.Latest(snapshots)
	if !ok {
		return StepOutput{}, apperrors.NewNotFoundError("available snapshot", req.Config.ID)
	}

	result, err := e.Provider.RestoreSnapshot(ctx, latest.ID, req.TargetRef)
	if err != nil {
		return StepOutput{SnapshotID: latest.ID}, apperrors.WrapError(err, fmt.Sprintf("restore of snapshot %s failed", latest.ID))
	}
	return StepOutput{
		SnapshotID:  latest.ID,
		RestoredRef: result.TargetRef,
		Detail:      fmt.Sprintf("restored %s into %s (%s)", latest.ID, result.TargetRef, result.Status),
	}, nil
}

// IntrospectorFactory opens a schema introspector on a target
type IntrospectorFactory func(ctx context.Context, targetRef string) (schema.Introspector, error)

// ValidateExecutor introspects the target and checks the step criteria
type ValidateExecutor struct {
	Introspectors IntrospectorFactory
}

func (e *ValidateExecutor) Execute(ctx context.Context, req StepRequest) (StepOutput, error) {
	criteria := ValidationCriteria{}
	if req.Step.Criteria != nil {
		criteria = *req.Step.Criteria
	}
	if criteria.MaxDuration > 0 && req.Elapsed > criteria.MaxDuration {
		return StepOutput{}, apperrors.NewValidationError(
			fmt.Sprintf("drill elapsed %s exceeds maximum %s", req.Elapsed.Round(time.Millisecond), criteria.MaxDuration), nil)
	}

	introspector, err := e.Introspectors(ctx, req.TargetRef)
	if err != nil {
		return StepOutput{}, apperrors.WrapError(err, fmt.Sprintf("failed to open %s", req.TargetRef))
	}
	structure, err := introspector.Introspect(ctx)
	if err != nil {
		return StepOutput{}, apperrors.WrapError(err, fmt.Sprintf("failed to introspect %s", req.TargetRef))
	}

	out := StepOutput{TablesVerified: len(structure.Tables)}
	if len(structure.Tables) < criteria.MinTables {
		return out, apperrors.NewValidationError(
			fmt.Sprintf("found %d tables, expected at least %d", len(structure.Tables), criteria.MinTables), nil)
	}

	present := make(map[string]bool, len(structure.Tables))
	for _, t := range structure.Tables {
		present[t.Name] = true
	}
	var missing []string
	for _, name := range criteria.RequiredTables {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return out, apperrors.NewValidationError(fmt.Sprintf("missing required tables: %s", strings.Join(missing, ", ")), nil)
	}

	out.Detail = fmt.Sprintf("verified %d tables on %s", len(structure.Tables), req.TargetRef)
	return out, nil
}

// Pinger checks that a named connection answers
type Pinger interface {
	Ping(ctx context.Context, name string) error
}

// HealthCheckExecutor pings the target connection
type HealthCheckExecutor struct {
	Pinger Pinger
}

func (e *HealthCheckExecutor) Execute(ctx context.Context, req StepRequest) (StepOutput, error) {
	if err := e.Pinger.Ping(ctx, req.TargetRef); err != nil {
		return StepOutput{}, apperrors.WrapError(err, fmt.Sprintf("health check of %s failed", req.TargetRef))
	}
	return StepOutput{Detail: fmt.Sprintf("%s is reachable", req.TargetRef)}, nil
}

// CleanupExecutor removes the restore target when the provider supports it
type CleanupExecutor struct {
	Provider provider.SnapshotProvider
}

func (e *CleanupExecutor) Execute(ctx context.Context, req StepRequest) (StepOutput, error) {
	remover, ok := e.Provider.(provider.TargetRemover)
	if !ok {
		return StepOutput{Detail: "provider does not remove restore targets"}, nil
	}
	if err := remover.RemoveTarget(ctx, req.TargetRef); err != nil {
		return StepOutput{}, apperrors.WrapError(err, fmt.Sprintf("failed to remove %s", req.TargetRef))
	}
	return StepOutput{Detail: fmt.Sprintf("removed %s", req.TargetRef)}, nil
}
