package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	return ts.UTC()
}

func TestDueDaily(t *testing.T) {
	job := Job{Type: TypeDaily, Time: "09:30"}

	tests := []struct {
		name    string
		now     string
		lastRun string
		want    bool
	}{
		{"before trigger", "2026-08-01 09:00:00", "", false},
		{"at trigger, never run", "2026-08-01 09:30:00", "", true},
		{"after trigger, never run", "2026-08-01 15:00:00", "", true},
		{"already ran today", "2026-08-01 15:00:00", "2026-08-01 09:30:05", false},
		{"ran yesterday", "2026-08-01 09:31:00", "2026-07-31 09:30:05", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := job
			if tt.lastRun != "" {
				j.LastRun = mustTime(t, tt.lastRun)
			}
			if got := Due(j, mustTime(t, tt.now)); got != tt.want {
				t.Errorf("Due at %s (last run %q) = %v, want %v", tt.now, tt.lastRun, got, tt.want)
			}
		})
	}
}

func TestDueHourly(t *testing.T) {
	job := Job{Type: TypeHourly, Hours: 4}
	now := mustTime(t, "2026-08-01 12:00:00")

	if !Due(job, now) {
		t.Error("never-run hourly job should be due immediately")
	}

	job.LastRun = mustTime(t, "2026-08-01 09:00:00")
	if Due(job, now) {
		t.Error("3 hours since last run should not be due on a 4-hour interval")
	}

	job.LastRun = mustTime(t, "2026-08-01 08:00:00")
	if !Due(job, now) {
		t.Error("4 hours since last run should be due")
	}
}

func TestDueWeekly(t *testing.T) {
	// 2026-08-01 is a Saturday.
	job := Job{Type: TypeWeekly, Day: "saturday", Time: "06:00"}

	if Due(job, mustTime(t, "2026-07-31 06:00:00")) {
		t.Error("Friday should not trigger a Saturday job")
	}
	if !Due(job, mustTime(t, "2026-08-01 06:00:00")) {
		t.Error("Saturday at trigger time should fire")
	}

	job.LastRun = mustTime(t, "2026-08-01 06:00:30")
	if Due(job, mustTime(t, "2026-08-01 18:00:00")) {
		t.Error("already-run weekly job should not fire again the same day")
	}
}

func TestDueUnknownType(t *testing.T) {
	if Due(Job{Type: "monthly"}, time.Now()) {
		t.Error("unknown schedule type should never be due")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "jobs.json"))

	jobs, err := store.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("missing file should load as empty, got %d jobs", len(jobs))
	}

	added, err := store.Add(Job{Name: "nightly", Type: TypeDaily, Time: "02:00", CSVPath: "/data/retail.csv"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" || added.CreatedAt.IsZero() {
		t.Error("Add should assign ID and created_at")
	}

	jobs, err = store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "nightly" {
		t.Fatalf("loaded jobs = %+v, want the one added", jobs)
	}

	ranAt := mustTime(t, "2026-08-01 02:00:10")
	if err := store.MarkRun(added.ID, ranAt); err != nil {
		t.Fatalf("MarkRun: %v", err)
	}
	jobs, _ = store.Load()
	if !jobs[0].LastRun.Equal(ranAt) {
		t.Errorf("last_run = %v, want %v", jobs[0].LastRun, ranAt)
	}
}

func TestStoreAddValidates(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "jobs.json"))

	cases := []Job{
		{Name: "bad-type", Type: "sometimes"},
		{Name: "bad-time", Type: TypeDaily, Time: "25:99"},
		{Name: "bad-interval", Type: TypeHourly, Hours: 0},
		{Name: "bad-day", Type: TypeWeekly, Time: "09:00", Day: "someday"},
	}
	for _, job := range cases {
		if _, err := store.Add(job); err == nil {
			t.Errorf("Add(%s) should have failed validation", job.Name)
		}
	}
}

func TestDispatchDueMarksAndRuns(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "jobs.json"))
	added, err := store.Add(Job{Name: "nightly", Type: TypeDaily, Time: "02:00", CSVPath: "/data/retail.csv"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	var ran []string
	s := New(store, func(_ context.Context, job Job) error {
		ran = append(ran, job.Name)
		return nil
	}, time.Minute, nil)
	s.now = func() time.Time { return mustTime(t, "2026-08-01 03:00:00") }

	s.dispatchDue(context.Background())
	if len(ran) != 1 || ran[0] != "nightly" {
		t.Fatalf("ran = %v, want [nightly]", ran)
	}

	// Second pass at the same instant: LastRun now blocks a re-fire.
	s.dispatchDue(context.Background())
	if len(ran) != 1 {
		t.Errorf("job re-fired within the same day, ran = %v", ran)
	}

	jobs, _ := store.Load()
	if jobs[0].ID != added.ID || jobs[0].LastRun.IsZero() {
		t.Error("dispatch should persist last_run")
	}
}
