package game

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sessionPingInterval = 30 * time.Second

// session is one client connection's actor: a read loop that dispatches
// envelopes into the coordinator, and a write pump that owns the socket's
// write side. It implements Conn for the registry.
type session struct {
	sock    NetworkSession
	server  *Server
	limiter *rate.Limiter
	outbox  chan []byte
	done    chan struct{}
	closeFn sync.Once

	ip string

	// Identity, set by JOIN_GAME/REJOIN_GAME and read only by the read loop.
	playerID     string
	playerName   string
	roomCode     string
	sessionToken string
}

func newSession(sock NetworkSession, server *Server, ip string) *session {
	return &session{
		sock:    sock,
		server:  server,
		limiter: rate.NewLimiter(1, 5),
		outbox:  make(chan []byte, 256),
		done:    make(chan struct{}),
		ip:      ip,
	}
}

// Send queues a message for the write pump, dropping it when the buffer is
// full. Delivery is best-effort by contract.
func (s *session) Send(msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal outbound", "type", msg.Type, "err", err)
		return
	}
	select {
	case s.outbox <- data:
	case <-s.done:
	default:
		slog.Debug("dropping outbound message", "type", msg.Type, "err", ErrSendBufferFull)
	}
}

// CloseHijacked tells a superseded connection why it is going away and shuts
// it down. Best-effort: the new connection is already authoritative.
func (s *session) CloseHijacked() {
	s.Send(Outbound{
		Type:    TypeSessionHijacked,
		Payload: ErrorPayload{Message: "Session opened in another tab"},
	})
	s.shutdown("session-hijacked")
}

func (s *session) shutdown(reason string) {
	s.closeFn.Do(func() {
		close(s.done)
		s.sock.Close(reason)
	})
}

func (s *session) writePump() {
	ping := time.NewTicker(sessionPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.outbox:
			if err := s.sock.Write(data); err != nil {
				return
			}
		case <-ping.C:
			if err := s.sock.Ping(); err != nil {
				return
			}
		}
	}
}

// run is the read loop. It returns when the socket errors or closes, after
// running the disconnect flow for whoever this connection represented.
func (s *session) run(ctx context.Context) {
	for {
		data, err := s.sock.Read()
		if err != nil {
			break
		}
		if !s.limiter.Allow() {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError("Malformed message", "")
			continue
		}
		s.dispatch(ctx, env)
	}

	s.handleGone(ctx)
	s.shutdown("")
}

func (s *session) dispatch(ctx context.Context, env Envelope) {
	var err error
	switch env.Type {
	case TypeJoinGame:
		err = s.handleJoin(ctx, env.Payload)
	case TypeRejoinGame:
		err = s.handleRejoin(ctx, env.Payload)
	case TypeLeaveGame:
		err = s.handleLeave(ctx)
	case TypeStartGame:
		err = s.handleStart(ctx, env.Payload)
	case TypeNextRound:
		err = s.handleNextRound(ctx)
	case TypeSubmitAnswers:
		err = s.handleSubmitAnswers(ctx, env.Payload)
	case TypeSubmitScores:
		err = s.handleSubmitScores(ctx, env.Payload)
	case TypeEndGame:
		err = s.handleEndGame(ctx)
	case TypeGetGames:
		s.Send(Outbound{Type: TypeGamesList, Payload: gamesListPayload{Games: s.server.coord.OpenRooms()}})
	case TypeUpdateSettings:
		err = s.handleUpdateSettings(ctx, env.Payload)
	default:
		s.sendError("Unknown message type: "+string(env.Type), "UNKNOWN_TYPE")
	}

	if err != nil {
		slog.Error("handle message",
			"type", env.Type,
			"room", s.roomCode,
			"player", s.playerName,
			"err", err,
		)
	}
}

func (s *session) handleJoin(ctx context.Context, raw json.RawMessage) error {
	req, err := decodePayload[JoinGamePayload](raw)
	if err != nil {
		s.sendError("Invalid join payload", "")
		return err
	}

	var (
		view   RoomView
		player Player
	)
	if req.RoomCode != "" {
		view, player, err = s.server.coord.JoinRoom(ctx, req.RoomCode, req.PlayerName)
	} else {
		view, player, err = s.server.coord.CreateRoom(ctx, req.PlayerName, req.PreciseScoring)
	}
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrRoomNotJoinable) {
			s.sendError("Could not join room. Room may be full or not exist.", "")
			return nil
		}
		s.sendError("Could not join room.", "")
		return err
	}

	s.playerID = player.ID
	s.playerName = player.Name
	s.roomCode = view.Code
	s.sessionToken = player.SessionToken

	if prev := s.server.registry.Register(player.ID, player.SessionToken, s, s.ip); prev != nil {
		prev.CloseHijacked()
	}

	isHost := player.IsHost
	s.Send(Outbound{Type: TypeLobbyUpdate, Payload: lobbyUpdatePayload{
		RoomCode:     view.Code,
		IsHost:       &isHost,
		SessionToken: player.SessionToken,
		Players:      view.Players,
		Settings:     view.Settings,
	}})

	s.server.broadcastRoomState(view.Code)
	s.server.broadcastGamesList()
	return nil
}

func (s *session) handleRejoin(ctx context.Context, raw json.RawMessage) error {
	req, err := decodePayload[RejoinGamePayload](raw)
	if err != nil {
		s.sendError("Invalid rejoin payload", "")
		return err
	}

	state, player, err := s.server.coord.RejoinRoom(ctx, req.SessionToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.sendError("Could not reconnect. Session expired.", "SESSION_EXPIRED")
			return nil
		}
		s.sendError("Could not reconnect.", "")
		return err
	}

	s.playerID = player.ID
	s.playerName = player.Name
	s.roomCode = state.RoomCode
	s.sessionToken = player.SessionToken

	if prev := s.server.registry.Register(player.ID, player.SessionToken, s, s.ip); prev != nil {
		slog.Info("session hijacked", "room", state.RoomCode, "player", player.Name, "ip", s.ip)
		prev.CloseHijacked()
	}

	s.Send(Outbound{Type: TypeReconnected, Payload: state})

	s.server.registry.Broadcast(state.OtherConnectedIDs, Outbound{
		Type:    TypePlayerReconnected,
		Payload: playerPresencePayload{PlayerID: player.ID, PlayerName: player.Name},
	})
	return nil
}

func (s *session) handleStart(ctx context.Context, raw json.RawMessage) error {
	if s.roomCode == "" {
		return nil
	}
	req, err := decodePayload[StartGamePayload](raw)
	if err != nil {
		s.sendError("Invalid start payload", "")
		return err
	}
	return s.startRound(ctx, req.RushSeconds, req.PreciseScoring)
}

func (s *session) handleNextRound(ctx context.Context) error {
	if s.roomCode == "" {
		return nil
	}
	return s.startRound(ctx, 0, nil)
}

func (s *session) startRound(ctx context.Context, rushSeconds int, precise *bool) error {
	start, err := s.server.coord.StartRound(ctx, s.roomCode, rushSeconds, precise)
	if err != nil {
		if errors.Is(err, ErrNotEnoughPlayers) {
			s.sendError("Need at least 2 connected players to start.", "")
			return nil
		}
		if errors.Is(err, ErrRoundInProgress) {
			return nil
		}
		s.sendError("Could not start round.", "")
		return err
	}

	s.server.registry.Broadcast(start.ConnectedIDs, Outbound{
		Type: TypeRoundStart,
		Payload: roundStartPayload{
			Round:                start.Round,
			RushSeconds:          start.RushSeconds,
			RoundDurationSeconds: start.TotalSeconds,
			ServerTime:           unixSeconds(start.ServerTime),
		},
	})
	s.server.broadcastGamesList()
	return nil
}

func (s *session) handleSubmitAnswers(ctx context.Context, raw json.RawMessage) error {
	if s.roomCode == "" || s.playerID == "" {
		return nil
	}
	req, err := decodePayload[SubmitAnswersPayload](raw)
	if err != nil {
		s.sendError("Invalid answers payload", "")
		return err
	}

	report, err := s.server.coord.SubmitAnswers(ctx, s.roomCode, s.playerID, req.Answers)
	if err != nil {
		s.sendError("Could not record answers.", "")
		return err
	}

	if report.OpponentSubmitted && len(report.PendingIDs) > 0 {
		s.server.registry.Broadcast(report.PendingIDs, Outbound{
			Type:    TypeOpponentSubmitted,
			Payload: opponentSubmittedPayload{OpponentID: s.playerID, RushSeconds: report.RushSeconds},
		})
	}

	if report.AllSubmitted {
		if report.TimeoutSeconds != nil {
			s.server.scheduler.Schedule(s.roomCode, time.Duration(*report.TimeoutSeconds)*time.Second)
		}

		players := make(map[string]PlayerView, len(report.Players))
		for _, p := range report.Players {
			players[p.ID] = p
		}
		var deadline *float64
		if report.ScoringDeadline != nil {
			d := unixSeconds(*report.ScoringDeadline)
			deadline = &d
		}
		s.server.registry.Broadcast(report.ConnectedIDs, Outbound{
			Type:    TypeRoundEnded,
			Payload: roundEndedPayload{Round: report.Round, Players: players, ScoringDeadline: deadline},
		})
	}
	return nil
}

func (s *session) handleSubmitScores(ctx context.Context, raw json.RawMessage) error {
	if s.roomCode == "" || s.playerID == "" {
		return nil
	}
	req, err := decodePayload[SubmitScoresPayload](raw)
	if err != nil {
		s.sendError("Invalid scores payload", "")
		return err
	}

	report, err := s.server.coord.SubmitScores(ctx, s.roomCode, s.playerID, req.Scores)
	if err != nil {
		s.sendError("Could not record scores.", "")
		return err
	}

	if report.Finalized {
		s.server.scheduler.Cancel(s.roomCode)
		s.server.registry.Broadcast(report.ConnectedIDs, Outbound{
			Type:    TypeRoundResults,
			Payload: report.Results,
		})
	}
	return nil
}

func (s *session) handleEndGame(ctx context.Context) error {
	if s.roomCode == "" {
		return nil
	}

	report, err := s.server.coord.EndGame(ctx, s.roomCode)
	if err != nil {
		return err
	}
	s.server.scheduler.Cancel(s.roomCode)
	s.server.registry.Broadcast(report.ConnectedIDs, Outbound{Type: TypeGameOver, Payload: report})
	return nil
}

// handleLeave is an intentional exit: the player is removed immediately,
// with no grace period.
func (s *session) handleLeave(ctx context.Context) error {
	if s.playerID == "" || s.roomCode == "" {
		return nil
	}

	playerID, playerName := s.playerID, s.playerName
	report, err := s.server.coord.RemovePlayer(ctx, playerID)
	s.server.registry.Disconnect(playerID)

	s.playerID = ""
	s.playerName = ""
	s.roomCode = ""
	s.sessionToken = ""

	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return nil
		}
		return err
	}

	if !report.RoomDeleted {
		if report.NewHost != nil {
			s.server.registry.Broadcast(report.ConnectedIDs, Outbound{
				Type:    TypeHostChanged,
				Payload: hostChangedPayload{NewHostID: report.NewHost.ID, NewHostName: report.NewHost.Name},
			})
		}
		s.server.registry.Broadcast(report.ConnectedIDs, Outbound{
			Type:    TypePlayerDisconnected,
			Payload: playerPresencePayload{PlayerID: playerID, PlayerName: playerName, LeftIntentionally: true},
		})
		s.server.broadcastRoomState(report.RoomCode)
	}
	s.server.broadcastGamesList()
	return nil
}

func (s *session) handleUpdateSettings(ctx context.Context, raw json.RawMessage) error {
	if s.roomCode == "" {
		return nil
	}
	update, err := decodePayload[SettingsUpdate](raw)
	if err != nil {
		s.sendError("Invalid settings payload", "")
		return err
	}

	if _, err := s.server.coord.UpdateSettings(ctx, s.roomCode, update); err != nil {
		s.sendError("Could not update settings.", "")
		return err
	}
	s.server.broadcastRoomState(s.roomCode)
	return nil
}

// handleGone runs when the socket drops without a LEAVE_GAME: mark the
// player disconnected and let the grace window decide eviction. When a newer
// connection already superseded this one, the player is still live there and
// nothing is marked.
func (s *session) handleGone(ctx context.Context) {
	if s.playerID == "" {
		return
	}
	// Check-and-unbind is one registry step: a rejoin racing this teardown
	// keeps its binding, and this socket must not mark the player gone.
	if !s.server.registry.DisconnectIfCurrent(s.playerID, s) {
		return
	}

	report, err := s.server.coord.MarkPlayerDisconnected(ctx, s.playerID)
	if err != nil {
		if !errors.Is(err, ErrPlayerNotFound) {
			slog.Error("mark disconnected", "player", s.playerName, "err", err)
		}
		return
	}

	s.server.registry.Broadcast(report.OtherConnectedIDs, Outbound{
		Type:    TypePlayerDisconnected,
		Payload: playerPresencePayload{PlayerID: s.playerID, PlayerName: report.Player.Name},
	})
	if report.NewHost != nil {
		s.server.registry.Broadcast(report.ConnectedIDs, Outbound{
			Type:    TypeHostChanged,
			Payload: hostChangedPayload{NewHostID: report.NewHost.ID, NewHostName: report.NewHost.Name},
		})
	}
	s.server.broadcastRoomState(report.RoomCode)
	s.server.broadcastGamesList()
}

func (s *session) sendError(message, code string) {
	s.Send(Outbound{Type: TypeError, Payload: ErrorPayload{Message: message, Code: code}})
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
