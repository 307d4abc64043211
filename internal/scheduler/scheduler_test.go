package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	if err := s.AddJob("digest", "0 * * * *", func(context.Context) {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("bad", "every hour", func(context.Context) {}); err == nil {
		t.Error("Expected an error for an invalid expression")
	}
	// Six-field (seconds) expressions are rejected by the 5-field parser.
	if err := s.AddJob("seconds", "* * * * * *", func(context.Context) {}); err == nil {
		t.Error("Expected an error for a seconds field")
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 job, got %d", s.Len())
	}
}

func TestSchedulerStopCancelsJobs(t *testing.T) {
	loc := time.FixedZone("Paris", 2*3600)
	s := NewScheduler(WithLocation(loc))
	started := make(chan struct{})
	finished := make(chan struct{})
	if err := s.AddJob("long", "* * * * *", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(finished)
	}); err != nil {
		t.Fatal(err)
	}

	// Run the job body directly instead of waiting for a minute boundary.
	go s.cron.Entries()[0].WrappedJob.Run()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not canceled")
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())
	if err := s.AddJob("panics", "* * * * *", func(context.Context) { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	// Must not crash the test binary.
	s.cron.Entries()[0].WrappedJob.Run()
}
