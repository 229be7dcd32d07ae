package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"stayscraper/config"
	"stayscraper/models"
)

type fakeQueue struct {
	mu      sync.Mutex
	pending []models.QueueItem
	claims  int
	resets  int
}

func (q *fakeQueue) ClaimPending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claims++
	n := limit
	if n > len(q.pending) {
		n = len(q.pending)
	}
	batch := q.pending[:n]
	q.pending = q.pending[n:]
	return batch, nil
}

func (q *fakeQueue) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resets++
	return 2, nil
}

func (q *fakeQueue) PendingCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

type fakeProcessor struct {
	mu    sync.Mutex
	seen  []int64
	block chan struct{}
}

func (p *fakeProcessor) ProcessItem(ctx context.Context, item *models.QueueItem) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.seen = append(p.seen, item.ID)
	p.mu.Unlock()
	return nil
}

func (p *fakeProcessor) processed() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.seen...)
}

type fakeCommands struct {
	mu        sync.Mutex
	pending   []models.Command
	processed []int64
	pruned    []time.Duration
}

func (c *fakeCommands) GetPendingCommands() ([]models.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmds := c.pending
	c.pending = nil
	return cmds, nil
}

func (c *fakeCommands) MarkCommandProcessed(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed = append(c.processed, id)
	return nil
}

func (c *fakeCommands) PruneProcessedCommands(olderThan time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruned = append(c.pruned, olderThan)
	return 1, nil
}

func testScheduler(q Queue, p Processor) *Scheduler {
	cfg := &config.SchedulerConfig{
		Interval:     20 * time.Millisecond,
		StartupDelay: 5 * time.Millisecond,
		BatchSize:    5,
	}
	return New(cfg, q, p, nil, nil)
}

func TestDispatchProcessesSequentially(t *testing.T) {
	q := &fakeQueue{pending: []models.QueueItem{{ID: 1}, {ID: 2}, {ID: 3}}}
	p := &fakeProcessor{}
	s := testScheduler(q, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if len(p.processed()) == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("items not processed in time: %v", p.processed())
		case <-time.After(10 * time.Millisecond):
		}
	}

	got := p.processed()
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("items processed out of claim order: %v", got)
	}
}

func TestStartupDelayPrecedesFirstDispatch(t *testing.T) {
	q := &fakeQueue{pending: []models.QueueItem{{ID: 1}}}
	p := &fakeProcessor{}
	cfg := &config.SchedulerConfig{
		Interval:     time.Hour,
		StartupDelay: 50 * time.Millisecond,
		BatchSize:    5,
	}
	s := New(cfg, q, p, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	if len(p.processed()) != 0 {
		t.Fatal("dispatch ran before the startup delay elapsed")
	}

	deadline := time.After(time.Second)
	for len(p.processed()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first dispatch never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPauseAndResumeCommands(t *testing.T) {
	q := &fakeQueue{}
	p := &fakeProcessor{}
	s := testScheduler(q, p)

	ctx := context.Background()
	if err := s.handleCommand(ctx, &models.Command{Command: models.CmdPause}); err != nil {
		t.Fatal(err)
	}

	s.dispatch(ctx)
	q.mu.Lock()
	claims := q.claims
	q.mu.Unlock()
	if claims != 0 {
		t.Error("paused scheduler must not claim items")
	}

	if err := s.handleCommand(ctx, &models.Command{Command: models.CmdResume}); err != nil {
		t.Fatal(err)
	}
	s.dispatch(ctx)
	q.mu.Lock()
	claims = q.claims
	q.mu.Unlock()
	if claims != 1 {
		t.Errorf("resumed scheduler should claim, got %d claims", claims)
	}
}

func TestResetStuckCommand(t *testing.T) {
	q := &fakeQueue{}
	s := testScheduler(q, &fakeProcessor{})

	if err := s.handleCommand(context.Background(), &models.Command{Command: models.CmdResetStuck}); err != nil {
		t.Fatal(err)
	}
	if q.resets != 1 {
		t.Errorf("expected one reset call, got %d", q.resets)
	}
}

func TestUnknownCommand(t *testing.T) {
	s := testScheduler(&fakeQueue{}, &fakeProcessor{})
	if err := s.handleCommand(context.Background(), &models.Command{Command: "launch_missiles"}); err == nil {
		t.Fatal("unknown commands must be rejected")
	}
}

func TestCommandPollMarksAndPrunes(t *testing.T) {
	q := &fakeQueue{}
	c := &fakeCommands{pending: []models.Command{{ID: 7, Command: models.CmdPause}}}
	cfg := &config.SchedulerConfig{
		Interval:     time.Hour,
		StartupDelay: time.Hour,
		BatchSize:    5,
	}
	s := New(cfg, q, &fakeProcessor{}, c, nil)
	s.pollEvery = 5 * time.Millisecond
	s.lastPrune = time.Now().Add(-2 * pruneEvery)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		done := len(c.processed) == 1 && len(c.pruned) > 0
		c.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("command poll did not run: processed=%v pruned=%v", c.processed, c.pruned)
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processed[0] != 7 {
		t.Errorf("wrong command marked processed: %v", c.processed)
	}
	if c.pruned[0] != commandRetention {
		t.Errorf("pruned with %s, want %s", c.pruned[0], commandRetention)
	}
	if !s.isPaused() {
		t.Error("pause command was not applied")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	s := testScheduler(&fakeQueue{}, &fakeProcessor{})
	// Must never block, however many times it is called.
	for i := 0; i < 10; i++ {
		s.Trigger()
	}
}
