package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/loop"
	"github.com/scitex/scitex-cloud/pkg/server/store"
)

// Poller refreshes every active job on an interval so the job table keeps
// up with SLURM and the task workers even when nobody asks for a status.
type Poller struct {
	svc      *Service
	log      logrus.FieldLogger
	interval atomic.Int64
}

// PollStats counts the outcome of one poll.
type PollStats struct {
	Checked  int
	Finished int
	Failed   int
}

// NewPoller creates a poller for svc.
func NewPoller(svc *Service, interval time.Duration, log logrus.FieldLogger) *Poller {
	p := &Poller{svc: svc, log: log}
	p.SetInterval(interval)
	return p
}

// SetInterval changes the delay between polls, from the next poll on.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = 30 * time.Second
	}
	p.interval.Store(int64(d))
}

// Interval returns the delay between polls.
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	_, err := loop.Start(ctx, PollStats{}, func(ctx context.Context, _ PollStats) (PollStats, loop.Next) {
		stats, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stats, loop.Break(nil)
			}
			p.log.WithError(err).Error("job poll failed")
		}
		return stats, loop.Continue(p.Interval())
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Poll refreshes every active job once.
func (p *Poller) Poll(ctx context.Context) (PollStats, error) {
	var stats PollStats
	jobs, err := p.svc.jobs.ListActiveJobs(ctx, store.JobFilter{})
	if err != nil {
		return stats, err
	}

	for i := range jobs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		job := &jobs[i]
		stats.Checked++
		if err := p.svc.Refresh(ctx, job); err != nil {
			stats.Failed++
			p.log.WithError(err).WithField("job_id", job.ID).Warn("could not refresh job")
			continue
		}
		if job.IsTerminal() {
			stats.Finished++
			p.log.WithFields(logrus.Fields{
				"job_id":  job.ID,
				"backend": job.Backend,
				"state":   job.State,
			}).Info("job finished")
		}
	}

	if stats.Checked > 0 {
		p.log.WithFields(logrus.Fields{
			"checked":  stats.Checked,
			"finished": stats.Finished,
			"failed":   stats.Failed,
		}).Debug("polled active jobs")
	}
	return stats, nil
}
