package game

import "sync"

// Conn is one client's live connection handle. Send is fire-and-forget;
// delivery failures are swallowed. CloseHijacked is best-effort too: a dirty
// close must not keep the superseding connection from becoming authoritative.
type Conn interface {
	Send(msg Outbound)
	CloseHijacked()
}

// Registry tracks which connection is current for each player and session.
// It holds only identifier lookups into game state, never the entities
// themselves, and is locked independently of any room.
type Registry struct {
	mu        sync.Mutex
	byPlayer  map[string]Conn
	bySession map[string]string // session token -> player id
	origins   map[string]string // player id -> client network origin, diagnostic only
}

func NewRegistry() *Registry {
	return &Registry{
		byPlayer:  make(map[string]Conn),
		bySession: make(map[string]string),
		origins:   make(map[string]string),
	}
}

// Register binds a connection as the authoritative one for a player and
// session. If the session token was already bound to a different live
// connection (a second client reusing a recovered session), that prior
// connection is dropped from the maps and returned so the caller can notify
// and close it. Only one connection is ever current for a session.
func (r *Registry) Register(playerID, sessionToken string, conn Conn, origin string) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev Conn
	if oldPlayerID, bound := r.bySession[sessionToken]; bound {
		if old, live := r.byPlayer[oldPlayerID]; live && old != conn {
			prev = old
			delete(r.byPlayer, oldPlayerID)
		}
	}

	r.byPlayer[playerID] = conn
	r.bySession[sessionToken] = playerID
	r.origins[playerID] = origin
	return prev
}

// Disconnect drops only the player-id binding. The session-token mapping
// survives so a reconnect with the same token still resolves.
func (r *Registry) Disconnect(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPlayer, playerID)
}

// DisconnectIfCurrent drops the player-id binding only when conn is still the
// authoritative connection, as one atomic step. A dying socket's teardown can
// race a rejoin on a fresh connection; checking and unbinding separately would
// let the old socket strip the successor's binding.
func (r *Registry) DisconnectIfCurrent(playerID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.byPlayer[playerID]; !ok || current != conn {
		return false
	}
	delete(r.byPlayer, playerID)
	return true
}

// IsCurrent reports whether conn is still the authoritative connection for
// the player. A superseded connection uses this to skip the disconnect flow.
func (r *Registry) IsCurrent(playerID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byPlayer[playerID]
	return ok && current == conn
}

func (r *Registry) Origin(playerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if origin, ok := r.origins[playerID]; ok {
		return origin
	}
	return "unknown"
}

// Send delivers to one player's current connection, if any.
func (r *Registry) Send(playerID string, msg Outbound) {
	r.mu.Lock()
	conn, ok := r.byPlayer[playerID]
	r.mu.Unlock()
	if ok {
		conn.Send(msg)
	}
}

// Broadcast delivers to each listed player's current connection.
func (r *Registry) Broadcast(playerIDs []string, msg Outbound) {
	for _, id := range playerIDs {
		r.Send(id, msg)
	}
}

// BroadcastAll delivers to every live connection, in or out of a room.
func (r *Registry) BroadcastAll(msg Outbound) {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.byPlayer))
	for _, conn := range r.byPlayer {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Send(msg)
	}
}
