package game

import (
	"context"
	"log/slog"
	"time"
)

// SweepInterval is how often the grace-period sweeper scans for evictable
// players.
const SweepInterval = 30 * time.Second

// Eviction reports one player removed by the sweeper.
type Eviction struct {
	PlayerID   string
	PlayerName string
	RoomCode   string
	Leave      LeaveReport
}

// SweepDisconnected evicts every player whose disconnection outlasted the
// grace window for their room's current state: a short window in the lobby,
// a long one mid-game. Evictions run through the same removal path as
// intentional leaves; host migration already happened at disconnect time.
// Connectedness is rechecked inside the removal's critical section, so a
// player who rejoins between the scan and the eviction pass survives.
func (c *Coordinator) SweepDisconnected(ctx context.Context, now time.Time) []Eviction {
	c.mu.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.RUnlock()

	type expired struct {
		playerID string
		name     string
		roomCode string
		elapsed  time.Duration
		grace    time.Duration
	}
	var toEvict []expired

	for _, room := range rooms {
		room.mu.Lock()
		grace := c.gameGrace
		if room.State == StateLobby {
			grace = c.lobbyGrace
		}
		for _, p := range room.Players {
			if p.IsConnected || p.DisconnectTime == nil {
				continue
			}
			elapsed := now.Sub(*p.DisconnectTime)
			if elapsed > grace {
				toEvict = append(toEvict, expired{p.ID, p.Name, room.Code, elapsed, grace})
			}
		}
		room.mu.Unlock()
	}

	evictions := make([]Eviction, 0, len(toEvict))
	for _, e := range toEvict {
		slog.Info("evicting disconnected player",
			"room", e.roomCode,
			"player", e.name,
			"disconnected_for", e.elapsed.Round(time.Second),
			"grace", e.grace,
		)
		leave, removed, err := c.removePlayer(ctx, e.playerID, true)
		if err != nil {
			slog.Error("evict player", "room", e.roomCode, "player", e.name, "err", err)
			continue
		}
		if !removed {
			slog.Info("eviction skipped, player reconnected", "room", e.roomCode, "player", e.name)
			continue
		}
		evictions = append(evictions, Eviction{
			PlayerID:   e.playerID,
			PlayerName: e.name,
			RoomCode:   e.roomCode,
			Leave:      leave,
		})
	}
	return evictions
}

// Sweeper periodically evicts players whose grace window ran out.
type Sweeper struct {
	coord   *Coordinator
	ticks   TickerSource
	onEvict func(Eviction)
}

func NewSweeper(coord *Coordinator, ticks TickerSource, onEvict func(Eviction)) *Sweeper {
	return &Sweeper{coord: coord, ticks: ticks, onEvict: onEvict}
}

// Run loops until ctx is done. It closes started once the ticker is armed.
func (s *Sweeper) Run(ctx context.Context, started chan struct{}) {
	tick := s.ticks.Create(SweepInterval)
	close(started)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			for _, eviction := range s.coord.SweepDisconnected(ctx, now) {
				if s.onEvict != nil {
					s.onEvict(eviction)
				}
			}
		}
	}
}
