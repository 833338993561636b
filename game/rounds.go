package game

import (
	"context"
	"log/slog"
	"time"
)

// finalRoundCount is how many completed rounds make a full game; clients use
// the flag to offer "final results" instead of "next round".
const finalRoundCount = 3

// RoundStart is what callers broadcast as ROUND_START.
type RoundStart struct {
	Round        Round
	RushSeconds  int
	TotalSeconds int
	ServerTime   time.Time
	ConnectedIDs []string
}

// StartRound begins the next round: draws letter and categories, resets
// per-round scratch state, and moves the room to PLAYING. Valid only from
// LOBBY or ROUND_RESULTS with at least two connected players. rushSeconds 0
// keeps the room's current setting; anything else is clamped to >= 5.
func (c *Coordinator) StartRound(ctx context.Context, code string, rushSeconds int, preciseScoring *bool) (RoundStart, error) {
	room, ok := c.roomByCode(code)
	if !ok {
		return RoundStart{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StateLobby && room.State != StateRoundResults {
		return RoundStart{}, ErrRoundInProgress
	}
	if len(room.connectedIDs()) < 2 {
		return RoundStart{}, ErrNotEnoughPlayers
	}

	prev := struct {
		state       GameState
		round       *Round
		usedLetters []string
		startTime   *time.Time
		deadline    *time.Time
	}{room.State, room.CurrentRound, append([]string(nil), room.UsedLetters...), room.RoundStartTime, room.ScoringDeadline}

	if rushSeconds > 0 {
		room.RushSeconds = max(MinRushSeconds, rushSeconds)
	}
	if preciseScoring != nil {
		room.PreciseScoring = *preciseScoring
	}

	letter, used := drawLetter(room.UsedLetters)
	room.UsedLetters = used
	round := &Round{
		RoundNumber:  len(room.History) + 1,
		Letter:       letter,
		Categories:   drawCategories(categoriesPerRound),
		Answers:      make(map[string]map[string]string),
		ScoringVotes: make(map[string]map[string]map[string]int),
		Scores:       make(map[string]map[string]float64),
	}

	now := c.now()
	room.CurrentRound = round
	room.State = StatePlaying
	room.RoundStartTime = &now
	room.ScoringDeadline = nil
	for _, p := range room.Players {
		p.CurrentAnswers = map[string]string{}
	}

	if err := c.store.SaveRoom(ctx, room); err != nil {
		room.State = prev.state
		room.CurrentRound = prev.round
		room.UsedLetters = prev.usedLetters
		room.RoundStartTime = prev.startTime
		room.ScoringDeadline = prev.deadline
		return RoundStart{}, err
	}

	slog.Info("round started",
		"room", room.Code,
		"round", round.RoundNumber,
		"letter", round.Letter,
		"rush_seconds", room.RushSeconds,
	)

	return RoundStart{
		Round:        round.snapshot(),
		RushSeconds:  room.RushSeconds,
		TotalSeconds: room.RoundDurationSeconds,
		ServerTime:   now,
		ConnectedIDs: room.connectedIDs(),
	}, nil
}

// AnswerReport is the outcome of one answer submission. Exactly one of
// AllSubmitted / OpponentSubmitted is set on a counted submission; both are
// false when the submission was a stale no-op.
type AnswerReport struct {
	AllSubmitted      bool
	OpponentSubmitted bool
	RushSeconds       int
	TimeoutSeconds    *int
	PendingIDs        []string
	Round             Round
	Players           []PlayerView
	ScoringDeadline   *time.Time
	ConnectedIDs      []string
}

// SubmitAnswers records a player's answers, overwriting any prior submission
// by the same player. When every currently connected player has submitted,
// the room transitions to SCORING; disconnected players never block the
// quorum. Submissions after the transition are stale no-ops.
func (c *Coordinator) SubmitAnswers(ctx context.Context, code, playerID string, answers map[string]string) (AnswerReport, error) {
	room, ok := c.roomByCode(code)
	if !ok {
		return AnswerReport{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StatePlaying || room.CurrentRound == nil {
		return AnswerReport{}, nil
	}
	player, ok := room.Players[playerID]
	if !ok {
		return AnswerReport{}, ErrPlayerNotFound
	}

	player.CurrentAnswers = answers
	room.CurrentRound.Answers[playerID] = answers

	if !quorumReached(room.connectedIDs(), room.CurrentRound.Answers) {
		if err := c.store.SaveRoom(ctx, room); err != nil {
			return AnswerReport{}, err
		}
		report := AnswerReport{
			OpponentSubmitted: true,
			RushSeconds:       room.RushSeconds,
			ConnectedIDs:      room.connectedIDs(),
		}
		for _, id := range report.ConnectedIDs {
			if _, submitted := room.CurrentRound.Answers[id]; !submitted {
				report.PendingIDs = append(report.PendingIDs, id)
			}
		}
		return report, nil
	}

	room.State = StateScoring
	room.ScoringDeadline = nil
	if room.ScoringTimeoutSeconds != nil {
		deadline := c.now().Add(time.Duration(*room.ScoringTimeoutSeconds) * time.Second)
		room.ScoringDeadline = &deadline
	}

	if err := c.store.SaveRoom(ctx, room); err != nil {
		room.State = StatePlaying
		room.ScoringDeadline = nil
		return AnswerReport{}, err
	}

	slog.Info("all answers in", "room", room.Code, "round", room.CurrentRound.RoundNumber)

	view := room.view()
	return AnswerReport{
		AllSubmitted:    true,
		RushSeconds:     room.RushSeconds,
		TimeoutSeconds:  room.ScoringTimeoutSeconds,
		Round:           room.CurrentRound.snapshot(),
		Players:         view.Players,
		ScoringDeadline: room.ScoringDeadline,
		ConnectedIDs:    room.connectedIDs(),
	}, nil
}

// RoundResults is what callers broadcast as ROUND_RESULTS.
type RoundResults struct {
	RoundScores      map[string]map[string]float64 `json:"round_scores"`
	CumulativeScores map[string]float64            `json:"cumulative_scores"`
	IsFinalRound     bool                          `json:"is_final_round"`
	Timeout          bool                          `json:"timeout,omitempty"`
}

// ScoreReport is the outcome of a score submission or a forced finalize.
type ScoreReport struct {
	Finalized    bool
	Results      RoundResults
	ConnectedIDs []string
}

// SubmitScores records one voter's full scoring payload. Quorum (every
// connected player voted) finalizes the round and moves to ROUND_RESULTS.
func (c *Coordinator) SubmitScores(ctx context.Context, code, playerID string, votes map[string]map[string]int) (ScoreReport, error) {
	room, ok := c.roomByCode(code)
	if !ok {
		return ScoreReport{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StateScoring || room.CurrentRound == nil {
		return ScoreReport{}, nil
	}
	if _, ok := room.Players[playerID]; !ok {
		return ScoreReport{}, ErrPlayerNotFound
	}

	room.CurrentRound.ScoringVotes[playerID] = votes

	if !quorumReached(room.connectedIDs(), room.CurrentRound.ScoringVotes) {
		if err := c.store.SaveRoom(ctx, room); err != nil {
			return ScoreReport{}, err
		}
		return ScoreReport{ConnectedIDs: room.connectedIDs()}, nil
	}

	return c.finalizeLocked(ctx, room, false)
}

// ForceFinalizeScoring finalizes the scoring phase with whatever votes
// exist, regardless of quorum. A no-op when the room already moved on.
func (c *Coordinator) ForceFinalizeScoring(ctx context.Context, code string) (ScoreReport, error) {
	room, ok := c.roomByCode(code)
	if !ok {
		return ScoreReport{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.State != StateScoring || room.CurrentRound == nil {
		return ScoreReport{}, nil
	}

	slog.Warn("scoring timed out", "room", room.Code, "round", room.CurrentRound.RoundNumber)
	return c.finalizeLocked(ctx, room, true)
}

// finalizeLocked runs reconciliation and the SCORING -> ROUND_RESULTS
// transition. Caller holds the room lock and has verified the state. A store
// failure restores the pre-finalize state so the room stays in SCORING and a
// later submission or forced timeout can finalize again.
func (c *Coordinator) finalizeLocked(ctx context.Context, room *Room, timedOut bool) (ScoreReport, error) {
	prevScores := make(map[string]float64, len(room.Players))
	for pid, p := range room.Players {
		prevScores[pid] = p.Score
	}
	historyLen := len(room.History)

	finalizeRound(room)
	room.State = StateRoundResults

	rollback := func() {
		room.State = StateScoring
		room.History = room.History[:historyLen]
		room.CurrentRound.Scores = make(map[string]map[string]float64)
		for pid, p := range room.Players {
			p.Score = prevScores[pid]
		}
	}

	if err := c.store.SaveRoom(ctx, room); err != nil {
		rollback()
		return ScoreReport{}, err
	}
	for _, p := range room.Players {
		if err := c.store.SavePlayer(ctx, room.Code, p); err != nil {
			rollback()
			return ScoreReport{}, err
		}
	}

	slog.Info("round finalized",
		"room", room.Code,
		"round", room.CurrentRound.RoundNumber,
		"voters", len(room.CurrentRound.ScoringVotes),
		"timeout", timedOut,
	)

	return ScoreReport{
		Finalized: true,
		Results: RoundResults{
			RoundScores:      room.CurrentRound.snapshot().Scores,
			CumulativeScores: cumulativeScores(room),
			IsFinalRound:     len(room.History) >= finalRoundCount,
			Timeout:          timedOut,
		},
		ConnectedIDs: room.connectedIDs(),
	}, nil
}

// GameOverReport is what callers broadcast as GAME_OVER.
type GameOverReport struct {
	History      []Round            `json:"history"`
	FinalScores  map[string]float64 `json:"final_scores"`
	ConnectedIDs []string           `json:"-"`
}

// EndGame moves the room to its terminal state; no further rounds.
func (c *Coordinator) EndGame(ctx context.Context, code string) (GameOverReport, error) {
	room, ok := c.roomByCode(code)
	if !ok {
		return GameOverReport{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	prev := room.State
	room.State = StateFinalResults
	if err := c.store.SaveRoom(ctx, room); err != nil {
		room.State = prev
		return GameOverReport{}, err
	}

	slog.Info("game over", "room", room.Code, "rounds", len(room.History))

	return GameOverReport{
		History:      historySnapshots(room),
		FinalScores:  cumulativeScores(room),
		ConnectedIDs: room.connectedIDs(),
	}, nil
}

// SettingsUpdate carries optional settings changes; nil fields are left
// untouched. A ScoringTimeoutSeconds <= 0 disables the forced timeout.
type SettingsUpdate struct {
	RushSeconds           *int  `json:"rush_seconds,omitempty"`
	RoundDurationSeconds  *int  `json:"round_duration_seconds,omitempty"`
	ScoringTimeoutSeconds *int  `json:"scoring_timeout_seconds,omitempty"`
	PreciseScoring        *bool `json:"precise_scoring,omitempty"`
}

// UpdateSettings applies validated clamps to settings used by the next round.
func (c *Coordinator) UpdateSettings(ctx context.Context, code string, update SettingsUpdate) (RoomView, error) {
	room, ok := c.roomByCode(code)
	if !ok {
		return RoomView{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if update.RushSeconds != nil {
		room.RushSeconds = max(MinRushSeconds, *update.RushSeconds)
	}
	if update.RoundDurationSeconds != nil {
		room.RoundDurationSeconds = min(MaxRoundDuration, max(MinRoundDuration, *update.RoundDurationSeconds))
	}
	if update.ScoringTimeoutSeconds != nil {
		if *update.ScoringTimeoutSeconds <= 0 {
			room.ScoringTimeoutSeconds = nil
		} else {
			clamped := max(MinScoringTimeout, *update.ScoringTimeoutSeconds)
			room.ScoringTimeoutSeconds = &clamped
		}
	}
	if update.PreciseScoring != nil {
		room.PreciseScoring = *update.PreciseScoring
	}

	if err := c.store.SaveRoom(ctx, room); err != nil {
		return RoomView{}, err
	}
	return room.view(), nil
}

// quorumReached reports whether every connected player appears in the
// submission map. An empty connected set never counts as quorum.
func quorumReached[V any](connectedIDs []string, submitted map[string]V) bool {
	if len(connectedIDs) == 0 {
		return false
	}
	for _, id := range connectedIDs {
		if _, ok := submitted[id]; !ok {
			return false
		}
	}
	return true
}
