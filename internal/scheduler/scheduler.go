// Package scheduler runs the periodic maintenance jobs of the service.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"qms/internal/telemetry"
)

const jobTimeout = time.Minute

type Job func(ctx context.Context) error

type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger
	ctx  context.Context
}

func New(ctx context.Context, loc *time.Location, log logrus.FieldLogger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cronLog := cron.PrintfLogger(log)
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		log: log,
		ctx: ctx,
	}
}

// Every runs job at a fixed interval. A non-positive interval disables it.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		s.log.WithField("job", name).Info("job disabled")
		return nil
	}
	return s.Cron(name, fmt.Sprintf("@every %s", interval), job)
}

// Cron runs job on a standard five-field cron spec in the scheduler's zone.
func (s *Scheduler) Cron(name, spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()
	start := time.Now()
	err := job(ctx)
	telemetry.RecordJobRun(name, time.Since(start), err == nil)
	if err != nil {
		s.log.WithError(err).WithField("job", name).Error("job failed")
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow executes a job once, outside the schedule.
func (s *Scheduler) RunNow(name string, job Job) {
	s.run(name, job)
}
