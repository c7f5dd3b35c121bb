package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"ladderexecutor/src/model"
	"ladderexecutor/src/orderexec"
	"ladderexecutor/src/repository"
)

// Poller leases eligible ledger entries on an interval and runs them
// on a bounded set of workers. Group exclusivity and the concurrency
// cap are both enforced by the lease query; the poller only has to
// keep its slot accounting honest.
type Poller struct {
	log *logrus.Entry

	queue    *repository.JobQueueRepository
	registry Registry

	interval        time.Duration
	maxParallel     int
	staleAfter      time.Duration
	rescheduleDelay time.Duration
	hostname        string

	now func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

// PollerOptions tunes the loop. Zero values fall back to defaults.
type PollerOptions struct {
	Interval        time.Duration
	MaxParallel     int
	StaleAfter      time.Duration
	RescheduleDelay time.Duration
	Hostname        string
}

func NewPoller(db *gorm.DB, registry Registry, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.RescheduleDelay <= 0 {
		opts.RescheduleDelay = 5 * time.Second
	}
	if opts.Hostname == "" {
		opts.Hostname, _ = os.Hostname()
	}

	return &Poller{
		log:             logrus.WithField("component", "jobs.Poller"),
		queue:           repository.NewJobQueueRepository().WithDB(db),
		registry:        registry,
		interval:        opts.Interval,
		maxParallel:     opts.MaxParallel,
		staleAfter:      opts.StaleAfter,
		rescheduleDelay: opts.RescheduleDelay,
		hostname:        opts.Hostname,
		now:             time.Now,
		sem:             make(chan struct{}, opts.MaxParallel),
	}
}

// StartLoop blocks until ctx is cancelled, then waits for in-flight
// workers to drain.
func (p *Poller) StartLoop(ctx context.Context) {
	p.log.WithFields(logrus.Fields{
		"interval":     p.interval,
		"max_parallel": p.maxParallel,
		"hostname":     p.hostname,
	}).Info("Job poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Job poller stopping, draining workers")
			p.wg.Wait()
			p.log.Info("Job poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if _, err := p.queue.RequeueStale(ctx, p.now().Add(-p.staleAfter)); err != nil {
		p.log.WithError(err).Error("Stale lease reaper failed")
	}

	free := p.maxParallel - len(p.sem)
	if free <= 0 {
		return
	}

	leased, err := p.queue.Lease(ctx, free, p.hostname)
	if err != nil {
		p.log.WithError(err).Error("Lease failed")
		return
	}

	for i := range leased {
		entry := leased[i]

		p.sem <- struct{}{}
		p.wg.Add(1)
		go func() {
			defer func() {
				<-p.sem
				p.wg.Done()
			}()
			p.run(ctx, &entry)
		}()
	}
}

func (p *Poller) run(ctx context.Context, entry *model.JobQueueEntry) {
	log := p.log.WithFields(logrus.Fields{
		"job_id":   entry.ID,
		"class":    entry.Class,
		"group_id": entry.GroupID,
	})

	runner, ok := p.registry[entry.Class]
	if !ok {
		err := fmt.Errorf("unknown work class %q", entry.Class)
		log.WithError(err).Error("Job rejected")
		p.markFailed(ctx, entry, err)
		return
	}

	args, err := repository.DecodeArguments(entry)
	if err != nil {
		log.WithError(err).Error("Job has malformed arguments")
		p.markFailed(ctx, entry, err)
		return
	}

	err = runner(ctx, args)
	switch {
	case err == nil:
		if mErr := p.queue.MarkCompleted(ctx, entry.ID); mErr != nil {
			log.WithError(mErr).Error("Failed to complete entry")
		}

	case errors.Is(err, orderexec.ErrReschedule):
		// Cooperative barrier: the entry completes and a clone takes
		// its place in the future so the group is not frozen while the
		// leg waits for its siblings.
		if mErr := p.queue.MarkCompleted(ctx, entry.ID); mErr != nil {
			log.WithError(mErr).Error("Failed to complete rescheduled entry")
			return
		}
		runAfter := p.now().Add(p.rescheduleDelay).UnixMilli()
		if _, rErr := p.queue.EnqueueAfter(ctx, entry.Class, args, entry.GroupID, runAfter); rErr != nil {
			log.WithError(rErr).Error("Failed to re-enqueue entry")
			return
		}
		log.WithField("run_after", runAfter).Info("Entry rescheduled")

	default:
		log.WithError(err).Error("Job failed")
		p.markFailed(ctx, entry, err)
	}
}

func (p *Poller) markFailed(ctx context.Context, entry *model.JobQueueEntry, cause error) {
	if err := p.queue.MarkFailed(ctx, entry.ID, cause); err != nil {
		p.log.WithError(err).WithField("job_id", entry.ID).Error("Failed to mark entry failed")
	}
}
