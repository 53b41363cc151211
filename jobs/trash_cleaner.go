package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"minidrive/metrics"
	"minidrive/models"
	"minidrive/storage"
	"minidrive/store"
	"minidrive/utils"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRetention      = 30 * 24 * time.Hour
	DefaultCleanupWorkers = 5
	sweepTimeout          = 30 * time.Minute
)

// SweepResult counts one sweep's outcome.
type SweepResult struct {
	Purged int `json:"purged"`
	Failed int `json:"failed"`
}

// TrashCleaner permanently removes nodes that have sat in the trash longer
// than the retention period: first the stored bytes, then the record and its
// grants. A node that fails is left for the next sweep.
type TrashCleaner struct {
	store     store.Store
	storage   storage.Storage
	metrics   *metrics.Metrics
	retention time.Duration
	workers   int
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type CleanerOption func(*TrashCleaner)

func WithRetention(d time.Duration) CleanerOption {
	return func(tc *TrashCleaner) {
		if d > 0 {
			tc.retention = d
		}
	}
}

func WithCleanupWorkers(n int) CleanerOption {
	return func(tc *TrashCleaner) {
		if n > 0 {
			tc.workers = n
		}
	}
}

// WithInterval sets the time between sweeps. Zero disables the periodic loop.
func WithInterval(d time.Duration) CleanerOption {
	return func(tc *TrashCleaner) { tc.interval = d }
}

func WithClock(now func() time.Time) CleanerOption {
	return func(tc *TrashCleaner) { tc.now = now }
}

func WithMetrics(m *metrics.Metrics) CleanerOption {
	return func(tc *TrashCleaner) { tc.metrics = m }
}

func NewTrashCleaner(st store.Store, blobs storage.Storage, opts ...CleanerOption) *TrashCleaner {
	ctx, cancel := context.WithCancel(context.Background())
	tc := &TrashCleaner{
		store:     st,
		storage:   blobs,
		retention: DefaultRetention,
		workers:   DefaultCleanupWorkers,
		interval:  24 * time.Hour,
		logger:    utils.ComponentLogger("trash-cleaner"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Start sweeps once right away and then on every interval tick until Stop.
func (tc *TrashCleaner) Start() {
	if tc.interval <= 0 {
		tc.logger.Info().Msg("Trash cleaner disabled")
		return
	}
	tc.wg.Add(1)
	go tc.loop()
	tc.logger.Info().Dur("interval", tc.interval).Dur("retention", tc.retention).Msg("Trash cleaner started")
}

// Stop cancels an in-flight sweep and waits for the loop to exit.
func (tc *TrashCleaner) Stop() {
	tc.cancel()
	tc.wg.Wait()
	tc.logger.Info().Msg("Trash cleaner stopped")
}

func (tc *TrashCleaner) loop() {
	defer tc.wg.Done()

	tc.sweep()

	ticker := time.NewTicker(tc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-tc.ctx.Done():
			return
		case <-ticker.C:
			tc.sweep()
		}
	}
}

func (tc *TrashCleaner) sweep() {
	ctx, cancel := context.WithTimeout(tc.ctx, sweepTimeout)
	defer cancel()
	if _, err := tc.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		tc.logger.Error().Err(err).Msg("Trash sweep failed")
	}
}

// RunOnce purges every node soft-deleted before now minus the retention.
// Per-node failures are logged and counted, not returned; the error is only
// for failing to list candidates.
func (tc *TrashCleaner) RunOnce(ctx context.Context) (SweepResult, error) {
	cutoff := tc.now().UTC().Add(-tc.retention)

	expired, err := tc.store.Nodes().ListDeletedBefore(ctx, cutoff)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list expired nodes: %w", err)
	}

	var purged, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tc.workers)
	for _, n := range expired {
		g.Go(func() error {
			if err := tc.purge(gctx, n); err != nil {
				failed.Add(1)
				tc.logger.Warn().Err(err).Str("node_id", n.ID).Msg("Failed to purge node")
				return nil
			}
			purged.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{Purged: int(purged.Load()), Failed: int(failed.Load())}
	tc.metrics.SweepFinished(res.Purged, res.Failed)
	tc.logger.Info().
		Time("cutoff", cutoff).
		Int("candidates", len(expired)).
		Int("purged", res.Purged).
		Int("failed", res.Failed).
		Msg("Trash sweep completed")
	return res, ctx.Err()
}

func (tc *TrashCleaner) purge(ctx context.Context, n *models.Node) error {
	if n.IsFile() && n.StorageRef != "" {
		err := tc.storage.Delete(ctx, n.StorageRef)
		if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("failed to delete stored content: %w", err)
		}
	}
	err := tc.store.Nodes().Purge(ctx, n.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to purge record: %w", err)
	}
	return nil
}
