package compliance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"
	"db-resilience/internal/metrics"
)

const (
	// AverageWindow bounds the averages, the score and the no-data check
	AverageWindow = 30 * 24 * time.Hour
	// TrendWindow is how many recent measurements the trend compares
	TrendWindow = 10
	// TrendTolerance is the relative change below which a trend is stable
	TrendTolerance = 0.05
	// ComplianceThreshold is the score below which risk is at least medium
	ComplianceThreshold = 80.0
)

// Aggregator records measurements and computes compliance rollups
type Aggregator struct {
	store   Store
	logger  *logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewAggregator creates an aggregator over store
func NewAggregator(store Store, logger *logging.Logger, recorder *metrics.Recorder) *Aggregator {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Aggregator{store: store, logger: logger, metrics: recorder, now: time.Now}
}

// RegisterTarget validates and saves a target
func (a *Aggregator) RegisterTarget(ctx context.Context, target Target) error {
	if err := target.Validate(); err != nil {
		return apperrors.NewValidationError("invalid compliance target", err)
	}
	return a.store.SaveTarget(ctx, &target)
}

// RecordMeasurement derives the achieved flags from the target and persists
// the measurement
func (a *Aggregator) RecordMeasurement(ctx context.Context, input MeasurementInput) (*Measurement, error) {
	target, err := a.store.GetTarget(ctx, input.TargetID)
	if err != nil {
		return nil, err
	}
	if input.ActualRto < 0 || input.ActualRpo < 0 {
		return nil, apperrors.NewValidationError("measured RTO and RPO must not be negative", nil)
	}

	measuredAt := input.MeasuredAt
	if measuredAt.IsZero() {
		measuredAt = a.now()
	}

	m := &Measurement{
		ID:          uuid.New().String(),
		TargetID:    target.ID,
		Source:      input.Source,
		SourceID:    input.SourceID,
		ActualRto:   input.ActualRto,
		ActualRpo:   input.ActualRpo,
		RtoAchieved: input.ActualRto <= target.RtoSeconds,
		RpoAchieved: input.ActualRpo <= target.RpoSeconds,
		MeasuredAt:  measuredAt,
	}

	stored, err := a.store.CreateMeasurement(ctx, m)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to persist measurement")
	}

	a.logger.WithFields(map[string]interface{}{
		"target_id":    target.ID,
		"source":       string(stored.Source),
		"source_id":    stored.SourceID,
		"actual_rto":   stored.ActualRto,
		"actual_rpo":   stored.ActualRpo,
		"rto_achieved": stored.RtoAchieved,
		"rpo_achieved": stored.RpoAchieved,
	}).Info("Compliance measurement recorded")

	if tm, err := a.Metrics(ctx, target.ID); err == nil {
		a.metrics.SetComplianceScore(target.ID, tm.ComplianceScore)
	}

	return stored, nil
}

// Metrics computes the rollup of one target
func (a *Aggregator) Metrics(ctx context.Context, targetID string) (*TargetMetrics, error) {
	target, err := a.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	measurements, err := a.store.ListMeasurements(ctx, MeasurementFilter{TargetID: targetID})
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements for %s: %w", targetID, err)
	}

	tm := Compute(*target, measurements, a.now())
	return &tm, nil
}

// Report computes the rollup of every target, ordered by target id
func (a *Aggregator) Report(ctx context.Context) (*Report, error) {
	targets, err := a.store.ListTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })

	report := &Report{GeneratedAt: a.now(), Targets: make([]TargetMetrics, 0, len(targets))}
	var total float64
	for _, target := range targets {
		tm, err := a.Metrics(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		report.Targets = append(report.Targets, *tm)
		total += tm.ComplianceScore
	}
	if len(report.Targets) > 0 {
		report.OverallScore = round2(total / float64(len(report.Targets)))
	}
	return report, nil
}

// Compute derives a target's metrics from its measurements as of now. The
// measurements may be in any order.
func Compute(target Target, measurements []*Measurement, now time.Time) TargetMetrics {
	tm := TargetMetrics{Target: target, Trend: TrendStable}

	ordered := append([]*Measurement(nil), measurements...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].MeasuredAt.Before(ordered[j].MeasuredAt) })

	if n := len(ordered); n > 0 {
		latest := ordered[n-1]
		rto, rpo := latest.ActualRto, latest.ActualRpo
		at := latest.MeasuredAt
		tm.CurrentRto, tm.CurrentRpo, tm.LastMeasuredAt = &rto, &rpo, &at
	}

	cutoff := now.Add(-AverageWindow)
	var inWindow []*Measurement
	for _, m := range ordered {
		if !m.MeasuredAt.Before(cutoff) && !m.MeasuredAt.After(now) {
			inWindow = append(inWindow, m)
		}
	}
	tm.MeasurementCount = len(inWindow)

	if len(inWindow) > 0 {
		var rtoSum, rpoSum float64
		compliant := 0
		for _, m := range inWindow {
			rtoSum += m.ActualRto
			rpoSum += m.ActualRpo
			if m.Compliant() {
				compliant++
			}
		}
		count := float64(len(inWindow))
		tm.AvgRto30d = round2(rtoSum / count)
		tm.AvgRpo30d = round2(rpoSum / count)
		tm.ComplianceScore = round2(100 * float64(compliant) / count)
	}

	tm.Trend = computeTrend(ordered)
	tm.RiskLevel = computeRisk(inWindow, tm.ComplianceScore)
	return tm
}

// computeTrend compares the mean rto+rpo of the older and newer halves of
// the last TrendWindow measurements, given in chronological order
func computeTrend(ordered []*Measurement) Trend {
	recent := ordered
	if len(recent) > TrendWindow {
		recent = recent[len(recent)-TrendWindow:]
	}
	if len(recent) < 2 {
		return TrendStable
	}

	half := len(recent) / 2
	older := meanRecovery(recent[:half])
	newer := meanRecovery(recent[half:])
	if older == 0 {
		if newer > 0 {
			return TrendDegrading
		}
		return TrendStable
	}

	change := (newer - older) / older
	switch {
	case change < -TrendTolerance:
		return TrendImproving
	case change > TrendTolerance:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func meanRecovery(ms []*Measurement) float64 {
	var sum float64
	for _, m := range ms {
		sum += m.ActualRto + m.ActualRpo
	}
	return sum / float64(len(ms))
}

func computeRisk(inWindow []*Measurement, score float64) RiskLevel {
	if len(inWindow) == 0 {
		return RiskCritical
	}
	if !inWindow[len(inWindow)-1].Compliant() {
		return RiskHigh
	}
	if score < ComplianceThreshold {
		return RiskMedium
	}
	return RiskLow
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
