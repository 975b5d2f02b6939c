package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/alerting"
	"pricewatch/internal/config"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/history"
	"pricewatch/internal/model"
	"pricewatch/internal/sampler"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
)

// ErrNotAvailable is returned by GetLatest before the first accepted sample.
var ErrNotAvailable = errors.New("price information not available")

// Dependencies groups the collaborators a Service drives.
type Dependencies struct {
	Scheduler  *scheduler.Scheduler
	Sampler    *sampler.Sampler
	History    *history.Store
	Engine     *alerting.Engine
	Registry   *alerting.Registry
	Dispatcher *alerting.Dispatcher
	Samples    storage.SampleStore
	Firings    storage.FiringStore
	Locker     storage.AdvisoryLocker
}

// Service orchestrates sampling, persistence, evaluation, and dispatch.
type Service struct {
	scheduler  *scheduler.Scheduler
	sampler    *sampler.Sampler
	history    *history.Store
	engine     *alerting.Engine
	registry   *alerting.Registry
	dispatcher *alerting.Dispatcher
	samples    storage.SampleStore
	firings    storage.FiringStore
	logger     zerolog.Logger

	assets    []config.AssetConfig
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
	retention time.Duration
}

// pruneInterval is how often expired firing records are deleted.
const pruneInterval = time.Hour

// New constructs the monitoring service.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Service {
	firings := deps.Firings
	if !cfg.Alerting.AuditFirings {
		firings = nil
	}

	return &Service{
		scheduler:  deps.Scheduler,
		sampler:    deps.Sampler,
		history:    deps.History,
		engine:     deps.Engine,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		samples:    deps.Samples,
		firings:    firings,
		logger:     logger.With().Str("component", "service").Logger(),
		assets:     cfg.Assets,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     deps.Locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		retention:  cfg.Alerting.FiringRetention,
	}
}

// SeedAlerts registers the configured target rules.
func (s *Service) SeedAlerts(alerts []config.AlertConfig) {
	for _, a := range alerts {
		s.RegisterAlert(a.Asset, a.TargetPrice, a.Destination)
	}
}

// RegisterAlert adds a target-price rule; the next evaluation of assetID sees it.
func (s *Service) RegisterAlert(assetID string, targetPrice float64, destination string) model.AlertRule {
	rule := s.registry.Register(assetID, targetPrice, destination)
	s.logger.Info().Str("asset", assetID).
		Float64("target_price", targetPrice).
		Str("destination", destination).
		Str("rule_id", rule.ID).
		Msg("alert rule registered")
	return rule
}

// Alerts lists every registered rule.
func (s *Service) Alerts() []model.AlertRule {
	return s.registry.All()
}

// GetLatest returns the most recent accepted sample of assetID.
func (s *Service) GetLatest(assetID string) (model.Sample, error) {
	sample, ok := s.history.Latest(assetID)
	if !ok {
		return model.Sample{}, fmt.Errorf("%s: %w", assetID, ErrNotAvailable)
	}
	return sample, nil
}

// GetRecentHistory returns the buffered samples of assetID, oldest first.
func (s *Service) GetRecentHistory(assetID string) []model.Sample {
	return s.history.Recent(assetID)
}

// Run schedules one job per distinct interval and blocks until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if err := s.ScheduleJobs(s.scheduler, s.assets); err != nil {
		return err
	}
	if err := s.SchedulePrune(s.scheduler); err != nil {
		return err
	}
	return s.scheduler.Run(ctx)
}

// ScheduleJobs registers one sampling job per interval group on sched.
func (s *Service) ScheduleJobs(sched *scheduler.Scheduler, assets []config.AssetConfig) error {
	groups := lo.GroupBy(assets, func(a config.AssetConfig) time.Duration { return a.Interval })

	intervals := lo.Keys(groups)
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	for _, interval := range intervals {
		ids := lo.Map(groups[interval], func(a config.AssetConfig, _ int) string { return a.ID })
		if err := sched.Schedule("sample-"+interval.String(), interval, s.JobFor(ids)); err != nil {
			return err
		}
		s.logger.Info().Strs("assets", ids).Dur("interval", interval).Msg("sampling job scheduled")
	}
	return nil
}

// JobFor returns a scheduler job that ticks assetIDs. Each job locks its own
// advisory key so that jobs of different intervals never skip each other.
func (s *Service) JobFor(assetIDs []string) scheduler.Job {
	key := s.jobLockKey(assetIDs)
	return func(ctx context.Context, tick time.Time) error {
		return s.tick(ctx, tick, key, assetIDs)
	}
}

// Tick samples every asset in parallel. Per-asset failures are logged and
// never abort the other assets.
func (s *Service) Tick(ctx context.Context, tick time.Time, assetIDs []string) error {
	return s.tick(ctx, tick, s.jobLockKey(assetIDs), assetIDs)
}

func (s *Service) tick(ctx context.Context, tick time.Time, key int64, assetIDs []string) error {
	unlock, proceed, err := s.acquireLock(ctx, key)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Strs("assets", assetIDs).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var g errgroup.Group
	for _, id := range assetIDs {
		id := id
		g.Go(func() error {
			_ = s.ProcessAsset(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

// ProcessAsset fetches one sample of assetID, persists it, evaluates it, and
// dispatches the resulting events. A failed fetch leaves history untouched.
func (s *Service) ProcessAsset(ctx context.Context, assetID string) error {
	sample, err := s.sampler.FetchSample(ctx, assetID)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("asset", assetID).
			Str("kind", fetcher.Kind(err)).
			Msg("sample skipped")
		return err
	}

	var persist errgroup.Group
	if s.samples != nil {
		persist.Go(func() error {
			if err := s.samples.Append(ctx, sample); err != nil {
				s.logger.Error().Err(err).Str("asset", assetID).Msg("failed to persist sample")
			}
			return nil
		})
	}
	defer func() { _ = persist.Wait() }()

	events, err := s.engine.Evaluate(sample)
	if err != nil {
		s.logger.Error().Err(err).Str("asset", assetID).Msg("sample rejected")
		return err
	}

	s.logger.Info().Str("asset", assetID).
		Float64("price", sample.Price).
		Int("events", len(events)).
		Msg("sample recorded")

	if len(events) > 0 {
		s.dispatch(ctx, events)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, events []model.FiringEvent) {
	if !s.alertsOn || s.dispatcher == nil {
		s.logger.Debug().Int("events", len(events)).Msg("alerting disabled; events dropped")
		return
	}

	results := s.dispatcher.DispatchEach(ctx, events)
	if s.firings == nil {
		return
	}
	for i, ev := range events {
		if _, err := s.firings.InsertFiring(ctx, storage.NewFiringRecord(ev, results[i])); err != nil {
			s.logger.Error().Err(err).
				Str("asset", ev.AssetID).
				Str("kind", string(ev.Kind)).
				Msg("failed to persist firing record")
		}
	}
}

// jobLockKey derives the advisory key of the job sampling assetIDs from the
// configured base key. Zero means locking is disabled.
func (s *Service) jobLockKey(assetIDs []string) int64 {
	if s.lockKey == 0 {
		return 0
	}
	ids := append([]string(nil), assetIDs...)
	sort.Strings(ids)

	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(ids, ",")))
	key := s.lockKey ^ int64(h.Sum64())
	if key == 0 {
		return s.lockKey
	}
	return key
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// SchedulePrune registers the hourly deletion of firing records older than
// the configured retention. It is a no-op without an audit store or retention.
func (s *Service) SchedulePrune(sched *scheduler.Scheduler) error {
	if s.firings == nil || s.retention <= 0 {
		return nil
	}
	if err := sched.Schedule("prune-firings", pruneInterval, s.PruneFirings); err != nil {
		return err
	}
	s.logger.Info().Dur("retention", s.retention).Msg("firing pruning scheduled")
	return nil
}

// PruneFirings deletes firing records created before now minus the retention.
func (s *Service) PruneFirings(ctx context.Context, now time.Time) error {
	if s.firings == nil || s.retention <= 0 {
		return nil
	}
	cutoff := now.UTC().Add(-s.retention)
	if err := s.firings.DeleteFiringsBefore(ctx, cutoff); err != nil {
		return fmt.Errorf("prune firings: %w", err)
	}
	s.logger.Debug().Time("cutoff", cutoff).Msg("expired firing records deleted")
	return nil
}
