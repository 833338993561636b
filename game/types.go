package game

import (
	"sort"
	"sync"
	"time"
)

type GameState string

const (
	StateLobby        GameState = "LOBBY"
	StatePlaying      GameState = "PLAYING"
	StateScoring      GameState = "SCORING"
	StateRoundResults GameState = "ROUND_RESULTS"
	StateFinalResults GameState = "FINAL_RESULTS"
)

const (
	MaxPlayers = 5

	MinRushSeconds        = 5
	MinScoringTimeout     = 10
	MinRoundDuration      = 30
	MaxRoundDuration      = 120
	DefaultRushSeconds    = 5
	DefaultRoundDuration  = 60
	DefaultScoringTimeout = 60
)

// Player is one occupant of a room. The id never changes; a reconnecting
// client re-attaches to the same record via its session token.
type Player struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Score          float64           `json:"score"`
	IsHost         bool              `json:"is_host"`
	SessionToken   string            `json:"session_token"`
	IsConnected    bool              `json:"is_connected"`
	JoinOrder      int               `json:"join_order"`
	DisconnectTime *time.Time        `json:"disconnect_time,omitempty"`
	CurrentAnswers map[string]string `json:"current_answers"`
}

// Round is one play cycle. Once finalized and appended to history it is
// never mutated again.
type Round struct {
	RoundNumber  int                                  `json:"round_number"`
	Letter       string                               `json:"letter"`
	Categories   []string                             `json:"categories"`
	Answers      map[string]map[string]string         `json:"answers"`
	ScoringVotes map[string]map[string]map[string]int `json:"scoring_votes"`
	Scores       map[string]map[string]float64        `json:"scores"`
}

// Room is the authoritative per-room structure. All reads and writes happen
// under mu, which is the room's critical section; the coordinator is the
// only component that takes it.
type Room struct {
	mu sync.Mutex

	Code                  string             `json:"code"`
	Players               map[string]*Player `json:"players"`
	State                 GameState          `json:"state"`
	CurrentRound          *Round             `json:"current_round,omitempty"`
	History               []*Round           `json:"history"`
	UsedLetters           []string           `json:"used_letters"`
	RushSeconds           int                `json:"rush_seconds"`
	RoundDurationSeconds  int                `json:"round_duration_seconds"`
	ScoringTimeoutSeconds *int               `json:"scoring_timeout_seconds,omitempty"`
	PreciseScoring        bool               `json:"precise_scoring"`
	RoundStartTime        *time.Time         `json:"round_start_time,omitempty"`
	ScoringDeadline       *time.Time         `json:"scoring_deadline,omitempty"`
	NextJoinOrder         int                `json:"next_join_order"`
}

func newRoom(code string, preciseScoring bool) *Room {
	timeout := DefaultScoringTimeout
	return &Room{
		Code:                  code,
		Players:               make(map[string]*Player),
		State:                 StateLobby,
		History:               []*Round{},
		UsedLetters:           []string{},
		RushSeconds:           DefaultRushSeconds,
		RoundDurationSeconds:  DefaultRoundDuration,
		ScoringTimeoutSeconds: &timeout,
		PreciseScoring:        preciseScoring,
	}
}

// hostID returns the id of the current host, or "" if none. Caller holds mu.
func (r *Room) hostID() string {
	for _, p := range r.Players {
		if p.IsHost {
			return p.ID
		}
	}
	return ""
}

// connectedIDs returns the ids of currently connected players. Caller holds mu.
func (r *Room) connectedIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for id, p := range r.Players {
		if p.IsConnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// nextHost picks the connected non-host player with the smallest join order.
// Returns nil when no candidate exists. Caller holds mu.
func (r *Room) nextHost() *Player {
	var candidate *Player
	for _, p := range r.Players {
		if !p.IsConnected || p.IsHost {
			continue
		}
		if candidate == nil || p.JoinOrder < candidate.JoinOrder {
			candidate = p
		}
	}
	return candidate
}

// PlayerView is the player shape sent to clients. It never carries the
// session token; that goes only to its owner.
type PlayerView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	IsHost      bool    `json:"is_host"`
	IsConnected bool    `json:"is_connected"`
}

type RoomSettings struct {
	RushSeconds           int  `json:"rush_seconds"`
	RoundDurationSeconds  int  `json:"round_duration_seconds"`
	ScoringTimeoutSeconds *int `json:"scoring_timeout_seconds"`
	PreciseScoring        bool `json:"precise_scoring"`
}

type RoomView struct {
	Code     string       `json:"room_code"`
	State    GameState    `json:"game_state"`
	Players  []PlayerView `json:"players"`
	Settings RoomSettings `json:"settings"`
}

// OpenRoom describes one joinable room in the public listing.
type OpenRoom struct {
	Code        string `json:"code"`
	HostName    string `json:"host_name"`
	PlayerCount int    `json:"player_count"`
}

func playerView(p *Player) PlayerView {
	return PlayerView{
		ID:          p.ID,
		Name:        p.Name,
		Score:       p.Score,
		IsHost:      p.IsHost,
		IsConnected: p.IsConnected,
	}
}

// view builds a client-facing snapshot, players ordered by join order.
// Caller holds mu.
func (r *Room) view() RoomView {
	players := make([]PlayerView, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, playerView(p))
	}
	sort.Slice(players, func(i, j int) bool {
		return r.Players[players[i].ID].JoinOrder < r.Players[players[j].ID].JoinOrder
	})
	return RoomView{
		Code:    r.Code,
		State:   r.State,
		Players: players,
		Settings: RoomSettings{
			RushSeconds:           r.RushSeconds,
			RoundDurationSeconds:  r.RoundDurationSeconds,
			ScoringTimeoutSeconds: r.ScoringTimeoutSeconds,
			PreciseScoring:        r.PreciseScoring,
		},
	}
}

// snapshot deep-copies a round so broadcasts never alias live room state.
func (rd *Round) snapshot() Round {
	cp := Round{
		RoundNumber:  rd.RoundNumber,
		Letter:       rd.Letter,
		Categories:   append([]string(nil), rd.Categories...),
		Answers:      make(map[string]map[string]string, len(rd.Answers)),
		ScoringVotes: make(map[string]map[string]map[string]int, len(rd.ScoringVotes)),
		Scores:       make(map[string]map[string]float64, len(rd.Scores)),
	}
	for pid, answers := range rd.Answers {
		inner := make(map[string]string, len(answers))
		for cat, text := range answers {
			inner[cat] = text
		}
		cp.Answers[pid] = inner
	}
	for voter, byCat := range rd.ScoringVotes {
		catCopy := make(map[string]map[string]int, len(byCat))
		for cat, votes := range byCat {
			voteCopy := make(map[string]int, len(votes))
			for pid, v := range votes {
				voteCopy[pid] = v
			}
			catCopy[cat] = voteCopy
		}
		cp.ScoringVotes[voter] = catCopy
	}
	for pid, byCat := range rd.Scores {
		inner := make(map[string]float64, len(byCat))
		for cat, score := range byCat {
			inner[cat] = score
		}
		cp.Scores[pid] = inner
	}
	return cp
}
