package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yegors/atc-scanner/internal/config"
	"github.com/yegors/atc-scanner/pkg/logger"
)

// Options configures a Service
type Options struct {
	Bounds          GeoBounds
	DefaultSettings Settings
	QueueCapacity   int
	QueueOverflow   OverflowPolicy
	ErrorBackoff    time.Duration // wait after a failed fetch
	StopTimeout     time.Duration // how long Stop waits for the polling loop
}

// Service coordinates the polling loop, the delivery queue and the listeners.
// Create one per process and share the pointer with every caller.
type Service struct {
	fetcher      Fetcher
	bounds       GeoBounds
	queue        *DeliveryQueue
	listeners    *ListenerRegistry
	errorBackoff time.Duration
	stopTimeout  time.Duration
	logger       *logger.Logger

	// fetchMu serializes fetch cycles so batches are never fetched concurrently
	fetchMu sync.Mutex

	mu           sync.Mutex
	running      bool
	lastPlayedID int64
	settings     Settings
	cancel       context.CancelFunc
	done         chan struct{}
	startedAt    time.Time
	lastFetchAt  time.Time
	delivered    int64
}

// NewService creates a stopped service
func NewService(opts Options, fetcher Fetcher, logger *logger.Logger) *Service {
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 5 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 3 * time.Second
	}

	return &Service{
		fetcher:      fetcher,
		bounds:       opts.Bounds,
		queue:        NewDeliveryQueue(opts.QueueCapacity, opts.QueueOverflow),
		listeners:    NewListenerRegistry(logger),
		errorBackoff: opts.ErrorBackoff,
		stopTimeout:  opts.StopTimeout,
		settings:     opts.DefaultSettings.Clone(),
		logger:       logger.Named("scanner"),
	}
}

// NewServiceFromConfig builds the feed client and the service from loaded configuration.
// A default_settings table that cannot be applied is an error.
func NewServiceFromConfig(cfg *config.Config, logger *logger.Logger) (*Service, error) {
	settings, err := NewSettings(cfg.DefaultSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to load default settings: %w", err)
	}

	policy, err := ParseOverflowPolicy(cfg.Scanner.QueueOverflow)
	if err != nil {
		return nil, err
	}

	client := NewClient(
		cfg.Scanner.APIBaseURL,
		cfg.Scanner.BatchLimit,
		time.Duration(cfg.Scanner.RequestTimeoutSeconds)*time.Second,
		logger,
	)

	opts := Options{
		Bounds: GeoBounds{
			North: cfg.ZABBounds.North,
			South: cfg.ZABBounds.South,
			East:  cfg.ZABBounds.East,
			West:  cfg.ZABBounds.West,
		},
		DefaultSettings: settings,
		QueueCapacity:   cfg.Scanner.QueueCapacity,
		QueueOverflow:   policy,
		ErrorBackoff:    time.Duration(cfg.Scanner.ErrorBackoffSeconds) * time.Second,
		StopTimeout:     time.Duration(cfg.Scanner.StopTimeoutSeconds) * time.Second,
	}

	return NewService(opts, client, logger), nil
}

// Start merges settings, launches the polling loop and runs one fetch pass before
// returning. Starting a running service is a no-op reported as already_running.
func (s *Service) Start(ctx context.Context, partial map[string]interface{}) (StartResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return StartResult{Status: StatusAlreadyRunning}, nil
	}

	if len(partial) > 0 {
		if err := s.settings.Merge(partial); err != nil {
			s.mu.Unlock()
			return StartResult{}, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2) // polling loop + initial pass

	s.running = true
	s.cancel = cancel
	s.done = done
	s.startedAt = time.Now().UTC()
	s.delivered = 0
	settings := s.settings.Map()
	s.mu.Unlock()

	go func() {
		wg.Wait()
		close(done)
	}()

	s.logger.Info("Starting scanner service",
		logger.Any("settings", settings),
	)

	go s.run(runCtx, &wg)

	// Initial pass so subscribers get data without waiting a full interval. The
	// caller's ctx can abort the fetch; once the cursor has moved only Stop can cut
	// delivery short.
	fetchCtx, fetchCancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(runCtx, fetchCancel)
	if err := s.cycle(runCtx, fetchCtx); err != nil && fetchCtx.Err() == nil {
		s.logger.Error("Initial fetch failed", logger.Error(err))
	}
	stopAfter()
	fetchCancel()
	wg.Done()

	// A Stop that raced the initial pass has already announced scanner_stopped
	if runCtx.Err() == nil {
		s.logger.Info("Scanner service is running")
		s.listeners.Notify(EventScannerStarted, map[string]interface{}{"settings": settings})
	}

	return StartResult{Status: StatusStarted, Settings: settings}, nil
}

// Stop halts the polling loop, waits a bounded time for it and drains the queue.
// Stopping a stopped service is a no-op reported as not_running.
func (s *Service) Stop() StopResult {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return StopResult{Status: StatusNotRunning}
	}

	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.startedAt = time.Time{}
	s.mu.Unlock()

	s.logger.Info("Stopping scanner service")
	cancel()

	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.logger.Warn("Polling loop did not stop in time, continuing shutdown",
			logger.Duration("timeout", s.stopTimeout),
		)
	}

	if n := s.queue.Drain(); n > 0 {
		s.logger.Debug("Drained delivery queue", logger.Int("discarded", n))
	}

	s.logger.Info("Scanner service stopped")
	s.listeners.Notify(EventScannerStopped, map[string]interface{}{})

	return StopResult{Status: StatusStopped}
}

// Status returns a point-in-time snapshot
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:      s.running,
		QueueSize:    s.queue.Len(),
		LastPlayedID: s.lastPlayedID,
		Settings:     s.settings.Map(),
		Delivered:    s.delivered,
		Listeners:    s.listeners.Len(),
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		st.StartedAt = &t
	}
	if !s.lastFetchAt.IsZero() {
		t := s.lastFetchAt
		st.LastFetchAt = &t
	}
	return st
}

// UpdateSettings merges partial into the live settings, running or not. The next
// fetch cycle uses the new values.
func (s *Service) UpdateSettings(partial map[string]interface{}) (UpdateResult, error) {
	s.mu.Lock()
	if err := s.settings.Merge(partial); err != nil {
		s.mu.Unlock()
		return UpdateResult{}, err
	}
	settings := s.settings.Map()
	s.mu.Unlock()

	s.logger.Info("Settings updated", logger.Any("settings", settings))
	s.listeners.Notify(EventSettingsUpdated, map[string]interface{}{"settings": settings})

	return UpdateResult{Status: StatusUpdated, Settings: settings}, nil
}

// NextAudio dequeues the next accepted record without waiting
func (s *Service) NextAudio() (AudioRecord, bool) {
	return s.queue.TryPop()
}

// AddListener registers l for every subsequent event
func (s *Service) AddListener(l Listener) ListenerID {
	return s.listeners.Add(l)
}

// RemoveListener unregisters a listener by handle
func (s *Service) RemoveListener(id ListenerID) bool {
	return s.listeners.Remove(id)
}

// Settings returns a copy of the live settings
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// Bounds returns the geographic filter bounds
func (s *Service) Bounds() GeoBounds {
	return s.bounds
}

// run is the polling loop. Start already fetched once, so it waits first.
func (s *Service) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	s.logger.Info("Fetcher started")
	defer s.logger.Info("Fetcher stopped")

	wait := s.interval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.cycle(ctx, ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Fetcher error", logger.Error(err))
			wait = s.errorBackoff
			continue
		}

		wait = s.interval()
	}
}

// cycle fetches one batch after the cursor and delivers the accepted records in
// upstream order. fetchCtx bounds the request only; ctx bounds the whole cycle and
// must outlive fetchCtx. Settings are read per record so updates apply immediately.
func (s *Service) cycle(ctx, fetchCtx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if fetchCtx.Err() != nil {
		return fetchCtx.Err()
	}

	s.mu.Lock()
	since := s.lastPlayedID
	s.mu.Unlock()

	records, err := s.fetcher.FetchBatch(fetchCtx, since)

	s.mu.Lock()
	s.lastFetchAt = time.Now().UTC()
	if err == nil && len(records) > 0 {
		if highest := MaxID(records); highest > s.lastPlayedID {
			s.lastPlayedID = highest
		} else {
			s.logger.Warn("Batch did not advance the cursor",
				logger.Int64("cursor", s.lastPlayedID),
				logger.Int64("batch_max_id", highest),
			)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to fetch audio: %w", err)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		settings := s.settings
		s.mu.Unlock()

		if !Accept(rec, settings, s.bounds) {
			s.logger.Debug("Transmission filtered",
				logger.Int64("id", rec.ID),
				logger.String("airport", rec.Airport),
				logger.String("flight_rules", rec.FlightRules),
			)
			continue
		}

		if err := s.queue.Push(ctx, rec); err != nil {
			return nil
		}

		s.mu.Lock()
		s.delivered++
		s.mu.Unlock()

		s.listeners.Notify(EventNewTransmission, rec)
	}

	return nil
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Interval()
}
