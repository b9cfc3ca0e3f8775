package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cbodonnell/tandem/client/coop"
	"github.com/cbodonnell/tandem/client/lobby"
	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/client/room"
	"github.com/cbodonnell/tandem/pkg/config"
	"github.com/cbodonnell/tandem/pkg/game/constants"
	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/kinematic"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/google/uuid"
)

const (
	tickRate     = time.Second / 60
	stepInterval = 50 * time.Millisecond
	// coinEvery is how many steps the host waits between coin spawns
	coinEvery = 40
)

func listRooms(ctx context.Context, cfg *config.Config) error {
	browser := lobby.NewBrowser(cfg.Client.APIURL, &http.Client{Timeout: cfg.Client.ActionTimeout})
	rooms, err := browser.ListRooms(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Println("No joinable rooms")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tPLAYERS")
	for _, r := range rooms {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\n", r.ID, r.Name, r.PlayerCount, r.MaxPlayers)
	}
	return w.Flush()
}

func printSchema(args []string) error {
	msgTypes := args
	if len(msgTypes) == 0 {
		msgTypes = messages.SchemaTypes()
	}
	out := make(map[string]interface{}, len(msgTypes))
	for _, t := range msgTypes {
		schema, err := messages.Schema(t)
		if err != nil {
			return err
		}
		out[t] = schema
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func joinedFuture(f *network.Future[room.Joined]) *network.Future[struct{}] {
	out := network.NewFuture[struct{}]()
	go func() {
		<-f.Done()
		if _, err := f.Result(); err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(struct{}{})
	}()
	return out
}

// walker is a stand-in simulation: the local player paces the field and picks
// up any coin it passes, and the host scatters coins.
type walker struct {
	logger    *log.Logger
	position  kinematic.Vector
	direction float64
	steps     int
}

func (w *walker) step(c *coop.Client) {
	if c.State() != room.StateInGame {
		return
	}
	local, _ := c.LocalPlayer()
	if w.steps == 0 {
		w.position = kinematic.Vector{X: constants.StartingX(local.Number), Y: constants.GroundY}
		local.Health = constants.PlayerStartingHealth
		local.Lives = constants.PlayerStartingLives
	}
	w.steps++

	velocity := kinematic.Vector{X: w.direction * constants.PlayerSpeed}
	w.position = kinematic.Predict(w.position, velocity, stepInterval.Seconds())
	if w.position.X <= 0 || w.position.X >= constants.FieldWidth {
		w.direction = -w.direction
	}
	facing := types.FacingRight
	if w.direction < 0 {
		facing = types.FacingLeft
	}
	local.Position = w.position
	local.Velocity = velocity
	local.Facing = facing
	c.PushLocalState(local)

	for _, coin := range c.Coins() {
		if kinematic.Distance(coin.Position, w.position) <= constants.CoinPickupRange {
			c.CollectItem(string(types.EntityKindCoin), coin.ID)
		}
	}

	if c.IsHost() && w.steps%coinEvery == 0 {
		coin := types.EntityState{
			ID:       uuid.NewString(),
			Position: kinematic.Vector{X: rand.Float64() * constants.FieldWidth, Y: constants.GroundY},
		}
		if err := c.SpawnCoins([]types.EntityState{coin}); err != nil {
			w.logger.Warn("Failed to spawn coin: %v", err)
		}
	}
}

// play enters a room with enter and runs the session until the seat is lost or
// ctx is done.
func play(ctx context.Context, cfg *config.Config, logger *log.Logger, enter func(c *coop.Client) *network.Future[struct{}]) error {
	tokens, err := openTokens(ctx, cfg)
	if err != nil {
		return err
	}
	defer tokens.Close(ctx)

	finished := make(chan error, 1)
	finish := func(err error) {
		select {
		case finished <- err:
		default:
		}
	}

	var client *coop.Client
	handlers := coop.Handlers{
		OnStateChange: func(from, to room.State) {
			logger.Info("Room state %s -> %s", from, to)
			if to == room.StateWaitingForReady {
				if err := client.SetReady(true); err != nil {
					logger.Warn("Failed to set ready: %v", err)
				}
			}
		},
		OnRoster: func(event room.RosterEvent) {
			logger.Info("%s: %s", event.Type, event.PlayerName)
			if client.IsHost() && event.Room.AllReady() && client.State() == room.StateWaitingForReady {
				if err := client.StartGame(); err != nil {
					logger.Warn("Failed to start game: %v", err)
				}
			}
		},
		OnGameStart: func(start room.GameStart) {
			logger.Info("Game started with seed %d", start.Seed)
		},
		OnChat: func(chat messages.ServerChat) {
			logger.Info("<%s> %s", chat.PlayerName, chat.Message)
		},
		OnItemCollected: func(event messages.ServerItemCollected) {
			if event.Coins != nil {
				logger.Info("Player %s collected %s (%d coins)", event.PlayerID, event.ItemID, *event.Coins)
				return
			}
			logger.Info("Player %s collected %s", event.PlayerID, event.ItemID)
		},
		OnError: func(err error) {
			logger.Warn("Relay error: %v", err)
		},
		OnReconnecting: func(attempt int) {
			logger.Warn("Reconnecting, attempt %d", attempt)
		},
		OnReconnected: func(joined room.Joined) {
			logger.Info("Reconnected to room %s", joined.RoomID)
		},
		OnLeft: func() {
			finish(nil)
		},
		OnDisconnected: func(err error) {
			finish(err)
		},
	}
	client, err = newClient(cfg, logger, tokens, handlers)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		client.Run(runCtx, tickRate)
	}()
	defer func() {
		cancel()
		<-pumpDone
		client.Disconnect()
	}()

	if _, err := enter(client).Await(ctx); err != nil {
		return err
	}
	if roomID := client.RoomID(); roomID != "" {
		logger.Info("In room %s as %s", roomID, client.PlayerID())
	}

	w := &walker{
		logger:    logger,
		direction: 1,
	}
	ticker := time.NewTicker(stepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			client.Leave()
			return nil
		case err := <-finished:
			if errors.Is(err, room.ErrCancelled) {
				return nil
			}
			return err
		case <-ticker.C:
			w.step(client)
		}
	}
}
