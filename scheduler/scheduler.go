package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stayscraper/config"
	"stayscraper/logging"
	"stayscraper/metrics"
	"stayscraper/models"
)

const (
	stuckAge = 30 * time.Minute

	// Processed commands are audit noise after a day.
	commandRetention = 24 * time.Hour
	pruneEvery       = time.Hour
)

// Queue is the dispatcher's view of the url_queue table.
type Queue interface {
	ClaimPending(ctx context.Context, limit int) ([]models.QueueItem, error)
	ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	PendingCount(ctx context.Context) (int, error)
}

// Processor handles one claimed item end to end.
type Processor interface {
	ProcessItem(ctx context.Context, item *models.QueueItem) error
}

// CommandStore is the operator control surface.
type CommandStore interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	PruneProcessedCommands(olderThan time.Duration) (int64, error)
}

// Rotator lets the rotate_vpn command force a rotation.
type Rotator interface {
	Rotate(ctx context.Context, reason string) models.RotationEvent
}

// Scheduler drives the scrape loop: a one-time startup delay, then a
// fixed dispatch cycle (or a cron expression when configured), plus a
// command poller. Items are processed one at a time; a cycle that
// fires while the previous one still runs is skipped.
type Scheduler struct {
	cfg       *config.SchedulerConfig
	queue     Queue
	processor Processor
	commands  CommandStore
	rotator   Rotator

	cron      *cron.Cron
	triggerCh chan struct{}
	stopCh    chan struct{}
	logger    *log.Logger

	// command poll cadence and prune clock; touched only by the
	// pollCommands goroutine once started.
	pollEvery time.Duration
	lastPrune time.Time

	mu      sync.Mutex
	paused  bool
	running bool
}

func New(cfg *config.SchedulerConfig, queue Queue, processor Processor, commands CommandStore, rotator Rotator) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		queue:     queue,
		processor: processor,
		commands:  commands,
		rotator:   rotator,
		cron:      cron.New(),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		logger:    logging.Component("scheduler"),
		pollEvery: 2 * time.Second,
		lastPrune: time.Now(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.commands != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.Cron != "" {
		s.logger.Printf("starting with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.Trigger() })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		go s.runLoop(ctx, nil)
		return nil
	}

	s.logger.Printf("starting with interval: %s", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		s.runLoop(ctx, ticker.C)
	}()
	return nil
}

// runLoop waits out the startup delay, then dispatches on every tick
// or manual trigger until stopped.
func (s *Scheduler) runLoop(ctx context.Context, tick <-chan time.Time) {
	select {
	case <-time.After(s.cfg.StartupDelay):
	case <-s.stopCh:
		return
	case <-ctx.Done():
		return
	}

	// First dispatch right after the delay; later ones on the tick.
	s.dispatch(ctx)

	for {
		select {
		case <-tick:
			s.dispatch(ctx)
		case <-s.triggerCh:
			s.dispatch(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	close(s.stopCh)
}

// Trigger requests a dispatch outside the schedule. Non-blocking; a
// trigger during a running dispatch coalesces into one follow-up.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	if s.paused || s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if n, err := s.queue.PendingCount(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}

	items, err := s.queue.ClaimPending(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Printf("claim failed: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}
	s.logger.Printf("claimed %d items", len(items))

	for i := range items {
		if ctx.Err() != nil {
			return
		}
		if s.isPaused() {
			s.logger.Printf("paused mid-batch, %d items left claimed", len(items)-i)
			return
		}
		if err := s.processor.ProcessItem(ctx, &items[i]); err != nil {
			s.logger.Printf("item %d aborted: %v", items[i].ID, err)
		}
	}
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) setPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.mu.Unlock()
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if time.Since(s.lastPrune) >= pruneEvery {
				s.lastPrune = time.Now()
				if n, err := s.commands.PruneProcessedCommands(commandRetention); err != nil {
					s.logger.Printf("error pruning commands: %v", err)
				} else if n > 0 {
					s.logger.Printf("pruned %d processed commands", n)
				}
			}
			cmds, err := s.commands.GetPendingCommands()
			if err != nil {
				s.logger.Printf("error getting commands: %v", err)
				continue
			}
			for _, cmd := range cmds {
				s.logger.Printf("processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					s.logger.Printf("command error: %v", err)
				}
				if err := s.commands.MarkCommandProcessed(cmd.ID); err != nil {
					s.logger.Printf("error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdScrapeNow:
		s.Trigger()
	case models.CmdPause:
		s.setPaused(true)
		s.logger.Println("paused")
	case models.CmdResume:
		s.setPaused(false)
		s.Trigger()
		s.logger.Println("resumed")
	case models.CmdRotateVPN:
		if s.rotator == nil {
			return fmt.Errorf("no rotator configured")
		}
		ev := s.rotator.Rotate(ctx, "operator command")
		if !ev.Success {
			return fmt.Errorf("rotation failed: %s", ev.Error)
		}
	case models.CmdResetStuck:
		n, err := s.queue.ResetStuck(ctx, stuckAge)
		if err != nil {
			return err
		}
		s.logger.Printf("reset %d stuck items", n)
		s.Trigger()
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
	return nil
}
