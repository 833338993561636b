package game

import "encoding/json"

type MessageType string

// Client-to-server message types.
const (
	TypeJoinGame       MessageType = "JOIN_GAME"
	TypeRejoinGame     MessageType = "REJOIN_GAME"
	TypeLeaveGame      MessageType = "LEAVE_GAME"
	TypeStartGame      MessageType = "START_GAME"
	TypeSubmitAnswers  MessageType = "SUBMIT_ANSWERS"
	TypeSubmitScores   MessageType = "SUBMIT_SCORES"
	TypeNextRound      MessageType = "NEXT_ROUND"
	TypeEndGame        MessageType = "END_GAME"
	TypeGetGames       MessageType = "GET_GAMES"
	TypeUpdateSettings MessageType = "UPDATE_SETTINGS"
)

// Server-to-client message types.
const (
	TypeLobbyUpdate        MessageType = "LOBBY_UPDATE"
	TypeGamesList          MessageType = "GAMES_LIST"
	TypeRoundStart         MessageType = "ROUND_START"
	TypeOpponentSubmitted  MessageType = "OPPONENT_SUBMITTED"
	TypeRoundEnded         MessageType = "ROUND_ENDED"
	TypeRoundResults       MessageType = "ROUND_RESULTS"
	TypeGameOver           MessageType = "GAME_OVER"
	TypeError              MessageType = "ERROR"
	TypeReconnected        MessageType = "RECONNECTED"
	TypeSessionHijacked    MessageType = "SESSION_HIJACKED"
	TypePlayerDisconnected MessageType = "PLAYER_DISCONNECTED"
	TypePlayerReconnected  MessageType = "PLAYER_RECONNECTED"
	TypeHostChanged        MessageType = "HOST_CHANGED"
	TypeScoringTimeout     MessageType = "SCORING_TIMEOUT"
)

// Envelope is the tagged union every client message arrives as. The type
// field is the discriminant; unknown types are rejected with an ERROR reply,
// never silently ignored.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is a server message before marshaling.
type Outbound struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

type JoinGamePayload struct {
	RoomCode       string `json:"room_code,omitempty"`
	PlayerName     string `json:"player_name"`
	PreciseScoring bool   `json:"precise_scoring,omitempty"`
}

type RejoinGamePayload struct {
	SessionToken string `json:"session_token"`
}

type StartGamePayload struct {
	RushSeconds    int   `json:"rush_seconds,omitempty"`
	PreciseScoring *bool `json:"precise_scoring,omitempty"`
}

type SubmitAnswersPayload struct {
	Answers map[string]string `json:"answers"`
}

type SubmitScoresPayload struct {
	Scores map[string]map[string]int `json:"scores"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

type lobbyUpdatePayload struct {
	RoomCode string `json:"room_code"`
	IsHost   *bool  `json:"is_host,omitempty"`
	// SessionToken rides only on the personal copy sent to its owner.
	SessionToken string       `json:"session_token,omitempty"`
	Players      []PlayerView `json:"players"`
	Settings     RoomSettings `json:"settings"`
}

type gamesListPayload struct {
	Games []OpenRoom `json:"games"`
}

type roundStartPayload struct {
	Round
	RushSeconds          int     `json:"rush_seconds"`
	RoundDurationSeconds int     `json:"round_duration_seconds"`
	ServerTime           float64 `json:"server_time"`
}

type opponentSubmittedPayload struct {
	OpponentID  string `json:"opponent_id"`
	RushSeconds int    `json:"rush_seconds"`
}

type roundEndedPayload struct {
	Round           Round                 `json:"round"`
	Players         map[string]PlayerView `json:"players"`
	ScoringDeadline *float64              `json:"scoring_deadline"`
}

type playerPresencePayload struct {
	PlayerID          string `json:"player_id"`
	PlayerName        string `json:"player_name"`
	LeftIntentionally bool   `json:"left_intentionally,omitempty"`
}

type hostChangedPayload struct {
	NewHostID   string `json:"new_host_id"`
	NewHostName string `json:"new_host_name"`
}
