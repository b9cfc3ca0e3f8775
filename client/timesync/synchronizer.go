package timesync

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/jonboulle/clockwork"
)

const (
	// WindowSize is the number of samples the offset is computed from
	WindowSize = 5

	DefaultResyncInterval = 5 * time.Second
)

// Sender delivers messages to the relay.
type Sender interface {
	Send(msg *messages.Message)
}

type sample struct {
	offset int64
	rtt    int64
}

type SynchronizerOptions struct {
	Sender         Sender
	Clock          clockwork.Clock
	Logger         *log.Logger
	ResyncInterval time.Duration
}

// Synchronizer estimates the offset between the local clock and the relay's clock,
// in milliseconds, as the median over the last WindowSize round trips.
type Synchronizer struct {
	sender         Sender
	clock          clockwork.Clock
	logger         *log.Logger
	resyncInterval time.Duration

	mu       sync.Mutex
	samples  []sample
	offset   int64
	sequence uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSynchronizer(opts SynchronizerOptions) *Synchronizer {
	s := &Synchronizer{
		sender:         opts.Sender,
		clock:          opts.Clock,
		logger:         opts.Logger,
		resyncInterval: opts.ResyncInterval,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.resyncInterval <= 0 {
		s.resyncInterval = DefaultResyncInterval
	}
	return s
}

// Now returns the local clock in unix milliseconds.
func (s *Synchronizer) Now() int64 {
	return s.clock.Now().UnixMilli()
}

// RequestSync sends a time_sync probe stamped with the local time.
func (s *Synchronizer) RequestSync() {
	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	s.mu.Unlock()

	s.sender.Send(messages.MustNewMessage(messages.MessageTypeClientTimeSync, messages.ClientTimeSync{
		ClientTime: s.Now(),
		SequenceID: seq,
	}))
}

// HandleResponse records the sample carried by a time_sync_response received now.
func (s *Synchronizer) HandleResponse(resp messages.ServerTimeSyncResponse) {
	s.AddSample(resp.ClientTime, resp.ServerTime, s.Now())
}

// AddSample records one round trip and returns the published offset.
func (s *Synchronizer) AddSample(clientTime, serverTime, receiptTime int64) int64 {
	rtt := receiptTime - clientTime
	if rtt < 0 {
		s.logger.Debug("Discarding time sample with negative round trip %dms", rtt)
		return s.Offset()
	}
	estimatedServerTime := serverTime + rtt/2
	offset := estimatedServerTime - receiptTime

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample{offset: offset, rtt: rtt})
	for len(s.samples) > WindowSize {
		s.samples = s.samples[1:]
	}

	offsets := make([]int64, len(s.samples))
	for i, smp := range s.samples {
		offsets[i] = smp.offset
	}
	s.offset = median(offsets)
	s.logger.Trace("Clock offset: %dms, rtt: %dms", s.offset, rtt)
	return s.offset
}

// Offset is the estimated server clock minus the local clock, in milliseconds.
func (s *Synchronizer) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// EstimatedServerTime returns the current time on the server clock, in unix milliseconds.
func (s *Synchronizer) EstimatedServerTime() int64 {
	return s.Now() + s.Offset()
}

// Samples returns the number of retained samples.
func (s *Synchronizer) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Ping returns the mean round trip of the window, ignoring outliers.
func (s *Synchronizer) Ping() float64 {
	s.mu.Lock()
	rtts := make([]int64, len(s.samples))
	for i, smp := range s.samples {
		rtts[i] = smp.rtt
	}
	s.mu.Unlock()

	if len(rtts) == 0 {
		return 0
	}
	// spikes above twice the median are skipped once they exceed 20ms
	limit := max(2*median(rtts), 20)
	var sum, n int64
	for _, rtt := range rtts {
		if rtt > limit {
			continue
		}
		sum += rtt
		n++
	}
	return float64(sum) / float64(n)
}

// Start probes immediately and then every resync interval until Stop.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.RequestSync()
	go func() {
		defer close(done)
		ticker := s.clock.NewTicker(s.resyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.RequestSync()
			}
		}
	}()
}

// Stop ends periodic resync. Retained samples are kept.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether periodic resync is active.
func (s *Synchronizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Reset discards all samples and the published offset.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
	s.offset = 0
}

func median(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
