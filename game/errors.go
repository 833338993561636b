package game

import "errors"

var (
	ErrRoomNotFound     = errors.New("room-not-found")
	ErrRoomNotJoinable  = errors.New("room-not-joinable")
	ErrSessionNotFound  = errors.New("session-not-found")
	ErrPlayerNotFound   = errors.New("player-not-found")
	ErrNotEnoughPlayers = errors.New("not-enough-players")
	ErrRoundInProgress  = errors.New("round-in-progress")
)

var ErrSendBufferFull = errors.New("send-buffer-full")
