package relay

import (
	"math/rand/v2"
	"sort"

	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/jonboulle/clockwork"
)

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeRetries  = 64
)

// seat is one participant slot. conn is nil while the participant is in its
// disconnect grace window.
type seat struct {
	playerID string
	name     string
	number   int
	ready    bool
	token    string
	conn     *Connection
	grace    clockwork.Timer
	coins    int
}

func (s *seat) connected() bool {
	return s.conn != nil
}

type room struct {
	id          string
	name        string
	hostID      string
	seats       []*seat
	gameStarted bool
	sequence    uint64

	// state mirrors what the participants replicate, for reconnect snapshots
	state *types.GameState
	// collected maps claimed item ids to their collector
	collected map[string]string
	killed    map[string]struct{}
}

func newRoom(id, name string) *room {
	return &room{
		id:        id,
		name:      name,
		state:     types.NewGameState(),
		collected: make(map[string]string),
		killed:    make(map[string]struct{}),
	}
}

func (r *room) seat(playerID string) *seat {
	for _, s := range r.seats {
		if s.playerID == playerID {
			return s
		}
	}
	return nil
}

func (r *room) full() bool {
	return len(r.seats) >= messages.MaxPlayers
}

// freeNumber returns the lowest unused seat number.
func (r *room) freeNumber() int {
	for n := 1; n <= messages.MaxPlayers; n++ {
		taken := false
		for _, s := range r.seats {
			if s.number == n {
				taken = true
				break
			}
		}
		if !taken {
			return n
		}
	}
	return 0
}

func (r *room) nameTaken(name string) bool {
	for _, s := range r.seats {
		if s.name == name {
			return true
		}
	}
	return false
}

func (r *room) addSeat(s *seat) {
	r.seats = append(r.seats, s)
	sort.Slice(r.seats, func(i, j int) bool {
		return r.seats[i].number < r.seats[j].number
	})
	if _, ok := r.state.Players[s.playerID]; !ok {
		r.state.Players[s.playerID] = types.PlayerState{
			ID:     s.playerID,
			Name:   s.name,
			Number: s.number,
		}
	}
}

func (r *room) removeSeat(playerID string) {
	for i, s := range r.seats {
		if s.playerID == playerID {
			if s.grace != nil {
				s.grace.Stop()
			}
			r.seats = append(r.seats[:i], r.seats[i+1:]...)
			break
		}
	}
	delete(r.state.Players, playerID)
}

func (r *room) allReady() bool {
	return r.info().AllReady()
}

// others returns the connected seats other than playerID.
func (r *room) others(playerID string) []*seat {
	out := make([]*seat, 0, len(r.seats))
	for _, s := range r.seats {
		if s.playerID != playerID && s.connected() {
			out = append(out, s)
		}
	}
	return out
}

func (r *room) info() *messages.RoomInfo {
	info := &messages.RoomInfo{
		ID:          r.id,
		Name:        r.name,
		HostID:      r.hostID,
		Players:     make([]messages.PlayerInfo, 0, len(r.seats)),
		MaxPlayers:  messages.MaxPlayers,
		GameStarted: r.gameStarted,
	}
	for _, s := range r.seats {
		info.Players = append(info.Players, messages.PlayerInfo{
			ID:        s.playerID,
			Name:      s.name,
			Number:    s.number,
			IsReady:   s.ready,
			IsHost:    s.playerID == r.hostID,
			Connected: s.connected(),
		})
	}
	return info
}

func (r *room) summary() messages.RoomSummary {
	return messages.RoomSummary{
		ID:          r.id,
		Name:        r.name,
		PlayerCount: len(r.seats),
		MaxPlayers:  messages.MaxPlayers,
		GameStarted: r.gameStarted,
	}
}

func (r *room) joinable() bool {
	return !r.gameStarted && !r.full()
}

func newRoomCode() string {
	b := make([]byte, roomCodeLength)
	for i := range b {
		b[i] = roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))]
	}
	return string(b)
}
