package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRoomCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := newRoomCode()
		assert.Len(t, code, roomCodeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(roomCodeAlphabet, ch), "unexpected %q in %s", ch, code)
		}
	}
}

func TestRoomSeats(t *testing.T) {
	tests := []struct {
		name     string
		numbers  []int
		wantFree int
		wantFull bool
		wantJoin bool
	}{
		{
			name:     "empty",
			wantFree: 1,
			wantJoin: true,
		},
		{
			name:     "host only",
			numbers:  []int{1},
			wantFree: 2,
			wantJoin: true,
		},
		{
			name:     "guest remains after host seat freed",
			numbers:  []int{2},
			wantFree: 1,
			wantJoin: true,
		},
		{
			name:     "full",
			numbers:  []int{1, 2},
			wantFree: 0,
			wantFull: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRoom("ABC123", "den")
			for _, n := range tt.numbers {
				r.addSeat(&seat{playerID: string(rune('a' + n)), number: n})
			}
			assert.Equal(t, tt.wantFree, r.freeNumber())
			assert.Equal(t, tt.wantFull, r.full())
			assert.Equal(t, tt.wantJoin, r.joinable())
			assert.Len(t, r.info().Players, len(tt.numbers))
		})
	}
}

func TestRoomInfoOrdersSeats(t *testing.T) {
	r := newRoom("ABC123", "den")
	r.hostID = "b"
	r.addSeat(&seat{playerID: "b", name: "bob", number: 2, ready: true})
	r.addSeat(&seat{playerID: "a", name: "alice", number: 1, ready: true})

	info := r.info()
	assert.Equal(t, "a", info.Players[0].ID)
	assert.Equal(t, "b", info.Players[1].ID)
	assert.True(t, info.Players[1].IsHost)
	assert.False(t, info.Players[0].Connected)
	assert.True(t, r.allReady())

	r.removeSeat("a")
	assert.False(t, r.allReady())
	_, ok := r.state.Players["a"]
	assert.False(t, ok)
}
