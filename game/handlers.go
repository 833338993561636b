package game

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server ties the coordinator, connection registry, and scoring-timeout
// scheduler to the HTTP boundary.
type Server struct {
	coord     *Coordinator
	registry  *Registry
	scheduler *ScoringScheduler
	upgrader  websocket.Upgrader
}

func NewServer(coord *Coordinator, registry *Registry, allowedOrigins []string) *Server {
	s := &Server{
		coord:    coord,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
	s.scheduler = NewScoringScheduler(s.handleScoringTimeout)
	return s
}

// WebsocketHandler upgrades the request and runs the connection's session
// actor until the socket closes.
func (s *Server) WebsocketHandler(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "ip", ctx.ClientIP(), "err", err)
		return
	}

	sock := NewWebsocketConnection(conn)
	sess := newSession(&sock, s, ctx.ClientIP())
	go sess.writePump()
	// The request context dies with the handler; coordinator operations
	// triggered by this connection (including the disconnect flow) must not.
	sess.run(context.Background())
}

// RoomsHandler serves the joinable-room listing over plain HTTP.
func (s *Server) RoomsHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gamesListPayload{Games: s.coord.OpenRooms()})
}

// handleScoringTimeout is the scheduler's deferred action: force-finalize
// the scoring phase with whatever votes exist. Firing after the room moved
// on is a logged no-op.
func (s *Server) handleScoringTimeout(roomCode string) {
	report, err := s.coord.ForceFinalizeScoring(context.Background(), roomCode)
	if err != nil {
		slog.Error("force finalize", "room", roomCode, "err", err)
		return
	}
	if !report.Finalized {
		slog.Debug("stale scoring timeout", "room", roomCode)
		return
	}
	s.registry.Broadcast(report.ConnectedIDs, Outbound{
		Type:    TypeRoundResults,
		Payload: report.Results,
	})
}

// HandleEviction is the sweeper's callback: tell the surviving roster the
// player is gone and refresh the public room listing.
func (s *Server) HandleEviction(ev Eviction) {
	if !ev.Leave.RoomDeleted {
		s.registry.Broadcast(ev.Leave.ConnectedIDs, Outbound{
			Type:    TypePlayerDisconnected,
			Payload: playerPresencePayload{PlayerID: ev.PlayerID, PlayerName: ev.PlayerName},
		})
		s.broadcastRoomState(ev.RoomCode)
	}
	s.broadcastGamesList()
}

// broadcastRoomState sends a LOBBY_UPDATE (without session tokens) to every
// connected player in the room.
func (s *Server) broadcastRoomState(roomCode string) {
	view, connectedIDs, ok := s.coord.RoomState(roomCode)
	if !ok {
		return
	}
	s.registry.Broadcast(connectedIDs, Outbound{
		Type: TypeLobbyUpdate,
		Payload: lobbyUpdatePayload{
			RoomCode: view.Code,
			Players:  view.Players,
			Settings: view.Settings,
		},
	})
}

// broadcastGamesList refreshes the open-room listing for every connection.
func (s *Server) broadcastGamesList() {
	s.registry.BroadcastAll(Outbound{
		Type:    TypeGamesList,
		Payload: gamesListPayload{Games: s.coord.OpenRooms()},
	})
}
