package timesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*messages.Message
}

func (f *fakeSender) Send(msg *messages.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestSynchronizer(clock clockwork.Clock) (*Synchronizer, *fakeSender) {
	sender := &fakeSender{}
	return NewSynchronizer(SynchronizerOptions{
		Sender: sender,
		Clock:  clock,
		Logger: log.New(nil, log.LogLevelError),
	}), sender
}

func TestAddSample_Scenario(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1000))
	s, _ := newTestSynchronizer(clock)

	offset := s.AddSample(900, 2000, 1000)
	assert.Equal(t, int64(1050), offset)
	assert.Equal(t, int64(1000+1050), s.EstimatedServerTime())

	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, int64(1250+1050), s.EstimatedServerTime())
}

func TestAddSample_OrderIndependent(t *testing.T) {
	pairs := [][3]int64{
		{900, 2000, 1000},
		{1900, 3100, 2000},
		{2950, 3980, 3000},
		{3700, 5300, 4000},
		{4990, 6010, 5000},
	}
	permutations := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
		{1, 4, 0, 3, 2},
		{3, 2, 1, 4, 0},
	}

	var want int64
	for i, perm := range permutations {
		s, _ := newTestSynchronizer(clockwork.NewFakeClock())
		var got int64
		for _, idx := range perm {
			p := pairs[idx]
			got = s.AddSample(p[0], p[1], p[2])
		}
		if i == 0 {
			want = got
			continue
		}
		assert.Equal(t, want, got, "permutation %v", perm)
	}
}

func TestAddSample_WindowEvictsOldest(t *testing.T) {
	s, _ := newTestSynchronizer(clockwork.NewFakeClock())

	for i := int64(0); i < WindowSize; i++ {
		s.AddSample(0, 10000, 0)
	}
	assert.Equal(t, WindowSize, s.Samples())
	assert.Equal(t, int64(10000), s.Offset())

	// a 6th sample evicts the first; three more make the new value the majority
	for i := 0; i < 3; i++ {
		s.AddSample(0, 20000, 0)
		assert.LessOrEqual(t, s.Samples(), WindowSize)
	}
	assert.Equal(t, WindowSize, s.Samples())
	assert.Equal(t, int64(20000), s.Offset())
}

func TestAddSample_MedianRejectsSpike(t *testing.T) {
	s, _ := newTestSynchronizer(clockwork.NewFakeClock())
	s.AddSample(0, 500, 100)
	s.AddSample(0, 500, 100)
	s.AddSample(0, 5000, 4000)
	assert.Equal(t, int64(450), s.Offset())
}

func TestPing(t *testing.T) {
	tests := []struct {
		name string
		rtts []int64
		want float64
	}{
		{name: "empty", rtts: nil, want: 0},
		{name: "uniform", rtts: []int64{40, 40, 40}, want: 40},
		{name: "drops spike", rtts: []int64{40, 50, 45, 400, 42}, want: 44.25},
		{name: "keeps small values", rtts: []int64{5, 5, 15}, want: 25.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSynchronizer(clockwork.NewFakeClock())
			for _, rtt := range tt.rtts {
				s.AddSample(0, 0, rtt)
			}
			assert.InDelta(t, tt.want, s.Ping(), 0.001)
		})
	}
}

func TestStart_ResyncsPeriodically(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, sender := newTestSynchronizer(clock)

	s.Start()
	assert.Equal(t, 1, sender.count())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultResyncInterval)
	require.Eventually(t, func() bool {
		return sender.count() == 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	clock.Advance(DefaultResyncInterval)
	assert.Equal(t, 2, sender.count())

	probe := messages.ClientTimeSync{}
	require.NoError(t, sender.sent[0].Decode(&probe))
	assert.Equal(t, clock.Now().Add(-DefaultResyncInterval*2).UnixMilli(), probe.ClientTime)
}
