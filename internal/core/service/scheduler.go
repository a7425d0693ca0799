package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultCollectSchedule   = "@every 15m"
	DefaultSummarizeSchedule = "@every 1h"

	jobTimeout = 10 * time.Minute
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	entryID cron.EntryID
}

// JobStatus reports a job's last outcome.
type JobStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	LastRun    time.Time `json:"lastRun"`
	NextRun    time.Time `json:"nextRun"`
	RunCount   int64     `json:"runCount"`
	ErrorCount int64     `json:"errorCount"`
	LastError  string    `json:"lastError,omitempty"`
}

// Scheduler runs the periodic collect and summarize jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu     sync.Mutex
	jobs   []*Job
	status map[string]*JobStatus
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger,
		status: make(map[string]*JobStatus),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewThreatScheduler wires the standard jobs of a ThreatService.
func NewThreatScheduler(svc *ThreatService, collectSpec, summarizeSpec string, logger *zap.Logger) (*Scheduler, error) {
	if collectSpec == "" {
		collectSpec = DefaultCollectSchedule
	}
	if summarizeSpec == "" {
		summarizeSpec = DefaultSummarizeSchedule
	}

	s := NewScheduler(logger)
	if err := s.Add(&Job{
		Name:     "collect",
		Schedule: collectSpec,
		Run: func(ctx context.Context) error {
			_, err := svc.Refresh(ctx)
			return err
		},
	}); err != nil {
		return nil, err
	}
	if err := s.Add(&Job{
		Name:     "summarize",
		Schedule: summarizeSpec,
		Run: func(ctx context.Context) error {
			_, err := svc.GenerateSummaries(ctx)
			return err
		},
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Add registers a job. The schedule is parsed immediately.
func (s *Scheduler) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Schedule, job.Name, err)
	}
	job.entryID = id
	s.jobs = append(s.jobs, job)
	s.status[job.Name] = &JobStatus{Name: job.Name, Schedule: job.Schedule}
	return nil
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	var job *Job
	for _, j := range s.jobs {
		if j.Name == name {
			job = j
		}
	}
	s.mu.Unlock()

	if job == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(job)
}

func (s *Scheduler) execute(job *Job) error {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)

	s.mu.Lock()
	st := s.status[job.Name]
	st.LastRun = start
	st.RunCount++
	st.LastError = ""
	if err != nil {
		st.ErrorCount++
		st.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("❌ Scheduled job failed", zap.String("job", job.Name), zap.Error(err))
		return err
	}
	s.logger.Info("⏰ Scheduled job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := *s.status[j.Name]
		st.NextRun = s.cron.Entry(j.entryID).Next
		out = append(out, st)
	}
	return out
}
