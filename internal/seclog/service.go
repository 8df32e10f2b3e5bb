package seclog

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/gatewarden/gatewarden/internal/model"
)

// Service provides an async security event writer.
// Emit performs a non-blocking channel send (drops on overflow).
// A background goroutine flushes batches to the Repo; a cron schedule
// enforces age-based retention.
type Service struct {
	repo         *Repo
	queue        chan model.SecurityEvent
	batchSize    int
	interval     time.Duration
	retentionAge time.Duration

	cron   *cron.Cron
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ServiceConfig configures the security event log service.
type ServiceConfig struct {
	Repo              *Repo
	QueueSize         int
	FlushBatch        int
	FlushInterval     time.Duration
	RetentionAge      time.Duration
	RetentionSchedule string // cron expression; empty disables retention
}

// NewService creates a new security event log service.
func NewService(cfg ServiceConfig) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 8192
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 512
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	retentionAge := cfg.RetentionAge
	if retentionAge <= 0 {
		retentionAge = 30 * 24 * time.Hour
	}

	s := &Service{
		repo:         cfg.Repo,
		queue:        make(chan model.SecurityEvent, queueSize),
		batchSize:    batchSize,
		interval:     interval,
		retentionAge: retentionAge,
		stopCh:       make(chan struct{}),
	}

	if cfg.RetentionSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.RetentionSchedule, s.runRetention); err != nil {
			log.Printf("[seclog] invalid retention schedule %q: %v", cfg.RetentionSchedule, err)
		} else {
			s.cron = c
		}
	}
	return s
}

// Start launches the background flush goroutine and the retention schedule.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop signals the flush loop to stop, drains remaining events, and returns.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	close(s.stopCh)
	s.wg.Wait()
}

// Emit enqueues a security event. Non-blocking; drops on overflow.
// A missing ID or timestamp is filled in here so callers can stay terse.
func (s *Service) Emit(event model.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.TsNs == 0 {
		event.TsNs = time.Now().UnixNano()
	}
	select {
	case s.queue <- event:
	default:
		// Queue full: drop the event to avoid blocking the hot path.
	}
}

// Repo returns the underlying repository for query access.
func (s *Service) Repo() *Repo {
	return s.repo
}

// flushLoop runs until stopCh is closed, flushing on batch-size or timer.
func (s *Service) flushLoop() {
	defer s.wg.Done()

	batch := make([]model.SecurityEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case event := <-s.queue:
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			s.drainAndFlush(batch)
			return
		}
	}
}

func (s *Service) drainAndFlush(batch []model.SecurityEvent) {
	for {
		select {
		case event := <-s.queue:
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Service) flush(events []model.SecurityEvent) {
	if s.repo == nil {
		return
	}
	if _, err := s.repo.InsertBatch(events); err != nil {
		log.Printf("[seclog] flush %d events failed: %v", len(events), err)
	}
}

func (s *Service) runRetention() {
	if s.repo == nil {
		return
	}
	cutoff := time.Now().Add(-s.retentionAge).UnixNano()
	n, err := s.repo.DeleteOlderThan(cutoff)
	if err != nil {
		log.Printf("[seclog] retention sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[seclog] retention removed %d events", n)
	}
}
