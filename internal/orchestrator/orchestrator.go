// Package orchestrator schedules crawl definitions: recurring definitions
// run on their cron expressions, one-time definitions run single-flight in
// ordinal order.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// CrawlRunner executes one crawl pass for a definition.
type CrawlRunner interface {
	Crawl(ctx context.Context, def feed.CrawlDefinition) error
}

// Orchestrator reconciles the definition store against a cron scheduler on
// every Tick and drains one-time definitions one at a time.
type Orchestrator struct {
	definitions feed.DefinitionStore
	runner      CrawlRunner
	clock       feed.Clock
	logger      *zap.Logger

	cron    *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]scheduledEntry
	busy    bool
}

type scheduledEntry struct {
	id   cron.EntryID
	expr string
}

// New constructs an Orchestrator. timeout bounds a single crawl pass; zero
// means no bound.
func New(definitions feed.DefinitionStore, runner CrawlRunner, clock feed.Clock, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		definitions: definitions,
		runner:      runner,
		clock:       clock,
		logger:      logger,
		cron:        cron.New(),
		timeout:     timeout,
		entries:     make(map[string]scheduledEntry),
	}
}

// Start launches the cron scheduler.
func (o *Orchestrator) Start() {
	o.cron.Start()
}

// Stop halts the cron scheduler and returns a context that is done once
// running jobs have finished.
func (o *Orchestrator) Stop() context.Context {
	return o.cron.Stop()
}

// Tick reconciles recurring definitions with the scheduler and, if no
// one-time crawl is in flight, runs the next eligible one-time definition.
// Call it periodically and after definition changes.
func (o *Orchestrator) Tick(ctx context.Context) error {
	defs, err := o.definitions.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list crawl definitions")
	}

	o.reconcileRecurring(defs)

	next, ok := o.nextOneTime(defs)
	if !ok {
		return nil
	}
	return o.runOneTime(ctx, next)
}

func (o *Orchestrator) reconcileRecurring(defs []feed.CrawlDefinition) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if !def.IsRecurring {
			continue
		}
		seen[def.ID] = true
		entry, scheduled := o.entries[def.ID]

		if !def.IsEnabled || def.CronExpression == "" {
			if scheduled {
				o.cron.Remove(entry.id)
				delete(o.entries, def.ID)
				o.logger.Info("unscheduled recurring crawl", zap.String("definition", def.ID))
			}
			continue
		}
		if scheduled && entry.expr == def.CronExpression {
			continue
		}
		if scheduled {
			o.cron.Remove(entry.id)
			delete(o.entries, def.ID)
		}

		defID := def.ID
		entryID, err := o.cron.AddFunc(def.CronExpression, func() {
			o.runRecurring(defID)
		})
		if err != nil {
			o.logger.Warn("invalid cron expression, definition skipped",
				zap.String("definition", def.ID),
				zap.String("cron", def.CronExpression),
				zap.Error(err),
			)
			continue
		}
		o.entries[def.ID] = scheduledEntry{id: entryID, expr: def.CronExpression}
		o.logger.Info("scheduled recurring crawl",
			zap.String("definition", def.ID),
			zap.String("cron", def.CronExpression),
		)
	}

	// Definitions deleted from the store leave stale entries behind.
	for id, entry := range o.entries {
		if !seen[id] {
			o.cron.Remove(entry.id)
			delete(o.entries, id)
		}
	}
}

func (o *Orchestrator) runRecurring(defID string) {
	ctx, cancel := o.crawlContext()
	defer cancel()

	// Re-read so a disable between reconciles is respected.
	def, err := o.definitions.Get(ctx, defID)
	if err != nil {
		o.logger.Warn("recurring crawl skipped, definition unavailable",
			zap.String("definition", defID), zap.Error(err))
		return
	}
	if !def.IsEnabled {
		return
	}
	if err := o.runner.Crawl(ctx, def); err != nil {
		o.logger.Error("recurring crawl failed",
			zap.String("definition", defID), zap.Error(err))
	}
}

// nextOneTime picks the lowest-ordinal enabled one-time definition that has
// neither been queued nor completed. Any queued-and-incomplete definition
// blocks the pick entirely: another instance, or a crawl that died holding
// the flag, owns the single one-time slot for the scope.
func (o *Orchestrator) nextOneTime(defs []feed.CrawlDefinition) (feed.CrawlDefinition, bool) {
	var candidate *feed.CrawlDefinition
	for i := range defs {
		def := &defs[i]
		if def.IsRecurring {
			continue
		}
		if def.IsQueued && def.LastCompletedAt == nil {
			return feed.CrawlDefinition{}, false
		}
		if candidate == nil && def.IsEnabled && !def.IsQueued && def.LastCompletedAt == nil {
			candidate = def
		}
	}
	if candidate == nil {
		return feed.CrawlDefinition{}, false
	}
	return *candidate, true
}

func (o *Orchestrator) runOneTime(ctx context.Context, candidate feed.CrawlDefinition) error {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return nil
	}
	o.busy = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
	}()

	// Verify against a fresh read: another instance may have queued it
	// between List and here.
	def, err := o.definitions.Get(ctx, candidate.ID)
	if err != nil {
		return errors.Wrapf(err, "verify one-time definition %s", candidate.ID)
	}
	if def.IsQueued || def.LastCompletedAt != nil || !def.IsEnabled {
		return nil
	}
	if err := o.definitions.SetQueued(ctx, def.ID, true); err != nil {
		return errors.Wrapf(err, "queue one-time definition %s", def.ID)
	}

	crawlCtx, cancel := o.crawlContextFrom(ctx)
	defer cancel()

	if err := o.runner.Crawl(crawlCtx, def); err != nil {
		// Release the guard so a later tick retries.
		if qerr := o.definitions.SetQueued(ctx, def.ID, false); qerr != nil {
			o.logger.Error("failed to release queued flag",
				zap.String("definition", def.ID), zap.Error(qerr))
		}
		return errors.Wrapf(err, "one-time crawl %s", def.ID)
	}
	if err := o.definitions.MarkCompleted(ctx, def.ID, o.clock.Now()); err != nil {
		return errors.Wrapf(err, "mark definition %s completed", def.ID)
	}
	o.logger.Info("one-time crawl completed", zap.String("definition", def.ID))
	return nil
}

func (o *Orchestrator) crawlContext() (context.Context, context.CancelFunc) {
	return o.crawlContextFrom(context.Background())
}

func (o *Orchestrator) crawlContextFrom(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}
