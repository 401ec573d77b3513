package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/encoding"
	"github.com/naanagon/yugabyte-db/notify"
	"github.com/naanagon/yugabyte-db/telemetry"
)

const (
	// Default interval between poll cycles
	DefaultPollInterval = 100 * time.Millisecond
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on a publish
	DefaultMaxRetries = 100
)

// WorkerConfig configures one publisher worker.
type WorkerConfig struct {
	Name            string               // Sink name (for metrics and logs)
	StreamID        string               // Stream the worker polls as
	TabletID        string               // Tablet the worker drains
	NodeID          uint64               // Originating node
	Producer        *cdc.Producer        // Local producer to poll
	Sink            Sink                 // Destination sink
	Filter          Filter               // Event filter, nil publishes everything
	Wakeup          <-chan notify.Signal // Optional wakeup channel, polls early on signal
	TopicPrefix     string               // Topic prefix (e.g., "yb.cdc")
	PollInterval    time.Duration        // Poll interval
	RetryInitial    time.Duration        // Initial retry delay
	RetryMax        time.Duration        // Max retry delay
	RetryMultiplier float64              // Backoff multiplier
	MaxRetries      int                  // Maximum retry attempts
}

// Worker polls the local producer with its own cursor and publishes each
// record to a sink. The cursor only advances once the whole response is
// published, so a broker outage replays rather than drops.
type Worker struct {
	config      WorkerConfig
	checkpoint  cdc.Checkpoint
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker creates a publisher worker.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the poll loop.
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	go w.pollLoop()
	log.Info().
		Str("sink", w.config.Name).
		Str("stream", w.config.StreamID).
		Str("tablet", w.config.TabletID).
		Msg("Publisher worker started")
}

// Stop halts the worker and closes the sink.
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	if err := w.config.Sink.Close(); err != nil {
		log.Warn().Err(err).Str("sink", w.config.Name).Msg("Failed to close sink")
	}
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		case <-w.config.Wakeup:
			// New log entries; poll early instead of waiting the tick out.
		}
		if err := w.pollOnce(); err != nil {
			log.Error().Err(err).
				Str("sink", w.config.Name).
				Msg("Publisher poll failed")
		}
	}
}

func (w *Worker) pollOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := w.config.Producer.GetChanges(ctx, &cdc.Request{
		StreamID:   w.config.StreamID,
		TabletID:   w.config.TabletID,
		Checkpoint: w.checkpoint,
		Deadline:   time.Now().Add(25 * time.Second),
	})
	if err != nil {
		// Terminal stream statuses stop the worker; the operator has to
		// re-bootstrap the sink cursor.
		if resp != nil && (resp.TerminalStatus == cdc.StatusTabletSplit ||
			resp.TerminalStatus == cdc.StatusIntentsGCed) {
			log.Error().
				Str("sink", w.config.Name).
				Str("status", string(resp.TerminalStatus)).
				Msg("Stream is terminal, stopping publisher worker")
			go w.Stop()
			return nil
		}
		return err
	}

	telemetry.PublisherLagEvents.With(w.config.Name).Set(float64(len(resp.Records)))
	for i := range resp.Records {
		record := &resp.Records[i]
		if w.config.Filter != nil && record.Row.Table != "" && !w.config.Filter.Match(record.Row.Table) {
			continue
		}
		if err := w.publishWithRetry(record); err != nil {
			return err
		}
	}

	w.checkpoint = resp.Checkpoint
	telemetry.PublisherLagEvents.With(w.config.Name).Set(0)
	return nil
}

func (w *Worker) publishWithRetry(record *cdc.Record) error {
	payload, err := encoding.Marshal(Envelope{
		StreamID: w.config.StreamID,
		TabletID: w.config.TabletID,
		NodeID:   w.config.NodeID,
		Record:   *record,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	topic := w.config.TopicPrefix
	if record.Row.Table != "" {
		topic = topic + "." + record.Row.Table
	}
	key := fmt.Sprintf("%d.%d.%d", record.ID.Term, record.ID.Index, record.ID.WriteID)

	delay := w.config.RetryInitial
	for attempt := 0; attempt < w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			telemetry.PublisherRetryTotal.With(w.config.Name).Inc()
			select {
			case <-w.stopCh:
				return fmt.Errorf("worker stopped during retry")
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
			if delay > w.config.RetryMax {
				delay = w.config.RetryMax
			}
		}
		if err = w.config.Sink.Publish(topic, key, payload); err == nil {
			telemetry.PublisherEventsTotal.With(w.config.Name, "success").Inc()
			return nil
		}
		log.Warn().Err(err).
			Str("sink", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempt+1).
			Msg("Publish failed, will retry")
	}
	telemetry.PublisherEventsTotal.With(w.config.Name, "failed").Inc()
	return fmt.Errorf("publish to %s failed after %d attempts: %w", topic, w.config.MaxRetries, err)
}
