package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRegisterFirstConnection(t *testing.T) {
	r := NewRegistry()
	conn := &MockConn{}

	prev := r.Register("p1", "tok-1", conn, "10.0.0.1")
	assert.Nil(t, prev)
	assert.True(t, r.IsCurrent("p1", conn))
	assert.Equal(t, "10.0.0.1", r.Origin("p1"))
}

func TestRegisterHijacksPriorConnection(t *testing.T) {
	r := NewRegistry()
	first := &MockConn{}
	second := &MockConn{}

	r.Register("p1", "tok-1", first, "10.0.0.1")
	prev := r.Register("p1", "tok-1", second, "10.0.0.2")

	assert.Same(t, first, prev, "caller gets the superseded connection back")
	assert.True(t, r.IsCurrent("p1", second))
	assert.False(t, r.IsCurrent("p1", first))
}

func TestDisconnectIfCurrentUnbindsOwnConnection(t *testing.T) {
	r := NewRegistry()
	conn := &MockConn{}

	r.Register("p1", "tok-1", conn, "10.0.0.1")
	assert.True(t, r.DisconnectIfCurrent("p1", conn))
	assert.False(t, r.IsCurrent("p1", conn))
}

func TestSupersededDisconnectDoesNotUnbindSuccessor(t *testing.T) {
	r := NewRegistry()
	first := &MockConn{}
	second := &MockConn{}

	// The old socket observed itself current, then the rejoin rebound the
	// player before its teardown ran. The unbind must notice it was
	// superseded and refuse, or the new connection would lose its binding.
	r.Register("p1", "tok-1", first, "10.0.0.1")
	assert.True(t, r.IsCurrent("p1", first))
	r.Register("p1", "tok-1", second, "10.0.0.2")

	assert.False(t, r.DisconnectIfCurrent("p1", first))
	assert.True(t, r.IsCurrent("p1", second))
}

func TestDisconnectIfCurrentUnknownPlayer(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.DisconnectIfCurrent("ghost", &MockConn{}))
}

func TestDisconnectKeepsSessionMapping(t *testing.T) {
	r := NewRegistry()
	first := &MockConn{}

	r.Register("p1", "tok-1", first, "10.0.0.1")
	r.Disconnect("p1")
	assert.False(t, r.IsCurrent("p1", first))

	// A reconnect with the same token binds cleanly with no prior to close.
	second := &MockConn{}
	prev := r.Register("p1", "tok-1", second, "10.0.0.1")
	assert.Nil(t, prev)
	assert.True(t, r.IsCurrent("p1", second))
}

func TestSendRoutesToCurrentConnection(t *testing.T) {
	r := NewRegistry()
	conn := &MockConn{}
	msg := Outbound{Type: TypeError}
	conn.On("Send", msg).Once()

	r.Register("p1", "tok-1", conn, "10.0.0.1")
	r.Send("p1", msg)
	r.Send("ghost", msg)

	conn.AssertExpectations(t)
}

func TestBroadcastSkipsDisconnected(t *testing.T) {
	r := NewRegistry()
	c1 := &MockConn{}
	c2 := &MockConn{}
	msg := Outbound{Type: TypeLobbyUpdate}
	c1.On("Send", msg).Once()

	r.Register("p1", "tok-1", c1, "10.0.0.1")
	r.Register("p2", "tok-2", c2, "10.0.0.2")
	r.Disconnect("p2")

	r.Broadcast([]string{"p1", "p2"}, msg)
	c1.AssertExpectations(t)
	c2.AssertNotCalled(t, "Send", mock.Anything)
}

func TestBroadcastAll(t *testing.T) {
	r := NewRegistry()
	c1 := &MockConn{}
	c2 := &MockConn{}
	msg := Outbound{Type: TypeGamesList}
	c1.On("Send", msg).Once()
	c2.On("Send", msg).Once()

	r.Register("p1", "tok-1", c1, "10.0.0.1")
	r.Register("p2", "tok-2", c2, "10.0.0.2")

	r.BroadcastAll(msg)
	c1.AssertExpectations(t)
	c2.AssertExpectations(t)
}
