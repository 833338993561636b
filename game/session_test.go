package game

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	coord := NewCoordinator(okStore())
	return NewServer(coord, NewRegistry(), nil)
}

func newTestSession(server *Server) (*session, *MockNetworkSession) {
	sock := &MockNetworkSession{}
	sock.On("Close", mock.Anything).Return().Maybe()
	return newSession(sock, server, "10.0.0.1"), sock
}

// popOutbound drains the next queued message off a session's outbox.
func popOutbound(t *testing.T, s *session) (MessageType, json.RawMessage) {
	t.Helper()
	select {
	case data := <-s.outbox:
		var msg struct {
			Type    MessageType     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg.Type, msg.Payload
	default:
		t.Fatal("expected a queued outbound message")
		return "", nil
	}
}

func rawPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatchUnknownType(t *testing.T) {
	server := newTestServer()
	s, _ := newTestSession(server)

	s.dispatch(context.Background(), Envelope{Type: "DO_BARREL_ROLL"})

	typ, payload := popOutbound(t, s)
	assert.Equal(t, TypeError, typ)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, "UNKNOWN_TYPE", errPayload.Code)
}

func TestJoinCreatesRoom(t *testing.T) {
	server := newTestServer()
	s, _ := newTestSession(server)

	s.dispatch(context.Background(), Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{PlayerName: "ana"}),
	})

	require.NotEmpty(t, s.playerID)
	require.NotEmpty(t, s.roomCode)
	assert.True(t, server.registry.IsCurrent(s.playerID, s))

	typ, payload := popOutbound(t, s)
	assert.Equal(t, TypeLobbyUpdate, typ)
	var update struct {
		RoomCode     string       `json:"room_code"`
		IsHost       *bool        `json:"is_host"`
		SessionToken string       `json:"session_token"`
		Players      []PlayerView `json:"players"`
	}
	require.NoError(t, json.Unmarshal(payload, &update))
	assert.Equal(t, s.roomCode, update.RoomCode)
	require.NotNil(t, update.IsHost)
	assert.True(t, *update.IsHost)
	assert.Equal(t, s.sessionToken, update.SessionToken, "the personal copy carries the token")
	assert.Len(t, update.Players, 1)
}

func TestJoinUnknownRoom(t *testing.T) {
	server := newTestServer()
	s, _ := newTestSession(server)

	s.dispatch(context.Background(), Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{RoomCode: "ZZZZ", PlayerName: "ana"}),
	})

	typ, _ := popOutbound(t, s)
	assert.Equal(t, TypeError, typ)
	assert.Empty(t, s.playerID)
}

func TestBroadcastStateOmitsSessionToken(t *testing.T) {
	server := newTestServer()
	host, _ := newTestSession(server)
	ctx := context.Background()

	host.dispatch(ctx, Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{PlayerName: "ana"}),
	})
	drainOutbox(host)

	guest, _ := newTestSession(server)
	guest.dispatch(ctx, Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{RoomCode: host.roomCode, PlayerName: "ben"}),
	})

	// The host sees the new roster through the room-state broadcast, which
	// must never leak anyone's token.
	typ, payload := popOutbound(t, host)
	assert.Equal(t, TypeLobbyUpdate, typ)
	assert.NotContains(t, string(payload), "session_token")
	assert.NotContains(t, string(payload), guest.sessionToken)
}

func TestRejoinHijacksOldSession(t *testing.T) {
	server := newTestServer()
	ctx := context.Background()

	first, firstSock := newTestSession(server)
	first.dispatch(ctx, Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{PlayerName: "ana"}),
	})
	token := first.sessionToken
	drainOutbox(first)

	second, _ := newTestSession(server)
	second.dispatch(ctx, Envelope{
		Type:    TypeRejoinGame,
		Payload: rawPayload(t, RejoinGamePayload{SessionToken: token}),
	})

	assert.True(t, server.registry.IsCurrent(first.playerID, second))
	assert.False(t, server.registry.IsCurrent(first.playerID, first))

	typ, _ := popOutbound(t, first)
	assert.Equal(t, TypeSessionHijacked, typ)
	firstSock.AssertCalled(t, "Close", "session-hijacked")

	typ, payload := popOutbound(t, second)
	assert.Equal(t, TypeReconnected, typ)
	var state ReconnectState
	require.NoError(t, json.Unmarshal(payload, &state))
	assert.Equal(t, first.roomCode, state.RoomCode)
	assert.Equal(t, token, state.SessionToken)
}

func TestSupersededSocketDropDoesNotDisconnectPlayer(t *testing.T) {
	server := newTestServer()
	ctx := context.Background()

	first, _ := newTestSession(server)
	first.dispatch(ctx, Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{PlayerName: "ana"}),
	})

	second, _ := newTestSession(server)
	second.dispatch(ctx, Envelope{
		Type:    TypeRejoinGame,
		Payload: rawPayload(t, RejoinGamePayload{SessionToken: first.sessionToken}),
	})

	// The hijacked socket's read loop now ends; its teardown must not mark
	// the player disconnected out from under the new connection.
	first.handleGone(ctx)

	view, _, ok := server.coord.RoomState(first.roomCode)
	require.True(t, ok)
	require.Len(t, view.Players, 1)
	assert.True(t, view.Players[0].IsConnected)
	assert.True(t, server.registry.IsCurrent(first.playerID, second))
}

func TestSocketDropMarksDisconnected(t *testing.T) {
	server := newTestServer()
	ctx := context.Background()

	s, _ := newTestSession(server)
	s.dispatch(ctx, Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{PlayerName: "ana"}),
	})
	code := s.roomCode

	s.handleGone(ctx)

	view, connectedIDs, ok := server.coord.RoomState(code)
	require.True(t, ok)
	require.Len(t, view.Players, 1)
	assert.False(t, view.Players[0].IsConnected)
	assert.Empty(t, connectedIDs)
}

func TestLeaveResetsIdentity(t *testing.T) {
	server := newTestServer()
	ctx := context.Background()

	s, _ := newTestSession(server)
	s.dispatch(ctx, Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{PlayerName: "ana"}),
	})
	code := s.roomCode

	s.dispatch(ctx, Envelope{Type: TypeLeaveGame})

	assert.Empty(t, s.playerID)
	assert.Empty(t, s.roomCode)
	assert.Empty(t, s.sessionToken)
	_, _, ok := server.coord.RoomState(code)
	assert.False(t, ok, "sole occupant leaving deletes the room")
}

func TestGetGamesListsOpenRooms(t *testing.T) {
	server := newTestServer()
	ctx := context.Background()

	host, _ := newTestSession(server)
	host.dispatch(ctx, Envelope{
		Type:    TypeJoinGame,
		Payload: rawPayload(t, JoinGamePayload{PlayerName: "ana"}),
	})

	s, _ := newTestSession(server)
	s.dispatch(ctx, Envelope{Type: TypeGetGames})

	typ, payload := popOutbound(t, s)
	assert.Equal(t, TypeGamesList, typ)
	var listing gamesListPayload
	require.NoError(t, json.Unmarshal(payload, &listing))
	require.Len(t, listing.Games, 1)
	assert.Equal(t, host.roomCode, listing.Games[0].Code)
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	server := newTestServer()
	s, _ := newTestSession(server)

	for i := 0; i < cap(s.outbox)+10; i++ {
		s.Send(Outbound{Type: TypeGamesList, Payload: fmt.Sprintf("msg-%d", i)})
	}
	assert.Len(t, s.outbox, cap(s.outbox), "overflow is dropped, never blocks")
}

func drainOutbox(s *session) {
	for {
		select {
		case <-s.outbox:
		default:
			return
		}
	}
}
