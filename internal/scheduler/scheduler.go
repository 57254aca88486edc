// Package scheduler triggers pipeline runs on a wall-clock schedule. Job
// definitions persist as a JSON array at a well-known path; a ticker loop
// evaluates due jobs on each tick and invokes the configured run function.
// The store is deliberately separate from the triggering loop so `schedule
// daily` and `schedule list` can manage jobs without a scheduler running.
package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/logging"
)

// Job schedule types.
const (
	TypeDaily  = "daily"
	TypeHourly = "hourly"
	TypeWeekly = "weekly"
)

// Job is one persisted schedule entry.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Time      string    `json:"time,omitempty"`  // "HH:MM", daily and weekly
	Hours     int       `json:"hours,omitempty"` // interval, hourly
	Day       string    `json:"day,omitempty"`   // weekday name, weekly
	CSVPath   string    `json:"csv_path"`
	CreatedAt time.Time `json:"created_at"`
	LastRun   time.Time `json:"last_run,omitempty"`
}

// Store loads and persists the job list. All methods are safe for
// concurrent use within one process; cross-process coordination is out of
// scope (the scheduler is single-process by design).
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore builds a Store persisting to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the job list. A missing file is an empty list, not an error.
func (s *Store) Load() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() ([]Job, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading scheduler state")
	}
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, errors.Wrap(err, "parsing scheduler state")
	}
	return jobs, nil
}

func (s *Store) saveLocked(jobs []Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding scheduler state")
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrap(err, "writing scheduler state")
	}
	return nil
}

// Add validates and appends a job, assigning its ID and creation time.
func (s *Store) Add(job Job) (Job, error) {
	switch job.Type {
	case TypeDaily, TypeWeekly:
		if _, err := parseClock(job.Time); err != nil {
			return Job{}, errors.Wrapf(err, "job %q", job.Name)
		}
		if job.Type == TypeWeekly {
			if _, err := parseWeekday(job.Day); err != nil {
				return Job{}, errors.Wrapf(err, "job %q", job.Name)
			}
		}
	case TypeHourly:
		if job.Hours <= 0 {
			return Job{}, errors.Errorf("job %q: hourly interval must be positive", job.Name)
		}
	default:
		return Job{}, errors.Errorf("job %q: unknown schedule type %q", job.Name, job.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.loadLocked()
	if err != nil {
		return Job{}, err
	}
	job.ID = uuid.New().String()
	job.CreatedAt = time.Now().UTC()
	jobs = append(jobs, job)
	if err := s.saveLocked(jobs); err != nil {
		return Job{}, err
	}
	return job, nil
}

// MarkRun records that job id ran at t.
func (s *Store) MarkRun(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.loadLocked()
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].ID == id {
			jobs[i].LastRun = t
		}
	}
	return s.saveLocked(jobs)
}

// RunFunc executes one due job; the scheduler does not interpret its error
// beyond logging it (a failed run stays due-tracked via LastRun either way,
// matching "fire at most once per period" semantics).
type RunFunc func(ctx context.Context, job Job) error

// Scheduler evaluates due jobs on a ticker and dispatches them.
type Scheduler struct {
	store        *Store
	run          RunFunc
	pollInterval time.Duration
	logger       logging.RetailLogger

	now func() time.Time
}

// New builds a Scheduler polling store every pollInterval.
func New(store *Store, run RunFunc, pollInterval time.Duration, logger logging.RetailLogger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Scheduler{
		store:        store,
		run:          run,
		pollInterval: pollInterval,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start blocks, dispatching due jobs on each tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", logging.Fields.Duration("poll_interval", s.pollInterval))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// An immediate first pass, so a job already past its trigger time does
	// not wait a full poll interval after process start.
	s.dispatchDue(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	jobs, err := s.store.Load()
	if err != nil {
		s.logger.Error("loading scheduled jobs failed", err)
		return
	}

	now := s.now()
	for _, job := range jobs {
		if !Due(job, now) {
			continue
		}
		logger := s.logger.With(logging.Fields.String("scheduled_job", job.Name))
		logger.Info("dispatching scheduled job", logging.Fields.String("source", job.CSVPath))

		if err := s.store.MarkRun(job.ID, now); err != nil {
			logger.Error("marking job run failed", err)
		}
		if err := s.run(ctx, job); err != nil {
			logger.Error("scheduled run failed", err)
		}
	}
}

// Due reports whether job should fire at now, given its type and last run:
// daily fires once per day at or after its HH:MM; hourly fires every
// configured number of hours since the last run (or immediately if never
// run); weekly fires on its weekday at or after its HH:MM, once per week.
func Due(job Job, now time.Time) bool {
	switch job.Type {
	case TypeDaily:
		trigger, err := parseClock(job.Time)
		if err != nil {
			return false
		}
		todayTrigger := time.Date(now.Year(), now.Month(), now.Day(), trigger.hour, trigger.minute, 0, 0, now.Location())
		return !now.Before(todayTrigger) && job.LastRun.Before(todayTrigger)
	case TypeHourly:
		if job.Hours <= 0 {
			return false
		}
		if job.LastRun.IsZero() {
			return true
		}
		return now.Sub(job.LastRun) >= time.Duration(job.Hours)*time.Hour
	case TypeWeekly:
		day, err := parseWeekday(job.Day)
		if err != nil || now.Weekday() != day {
			return false
		}
		trigger, err := parseClock(job.Time)
		if err != nil {
			return false
		}
		todayTrigger := time.Date(now.Year(), now.Month(), now.Day(), trigger.hour, trigger.minute, 0, 0, now.Location())
		return !now.Before(todayTrigger) && job.LastRun.Before(todayTrigger)
	default:
		return false
	}
}

type clock struct {
	hour   int
	minute int
}

func parseClock(s string) (clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return clock{}, errors.Wrapf(err, "invalid time %q (want HH:MM)", s)
	}
	return clock{hour: t.Hour(), minute: t.Minute()}, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return time.Sunday, errors.Errorf("invalid weekday %q", s)
}
