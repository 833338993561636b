package game

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// --- Store ---

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveRoom(ctx context.Context, room *Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *MockStore) LoadRoom(ctx context.Context, code string) (*Room, error) {
	args := m.Called(ctx, code)
	var room *Room
	if v := args.Get(0); v != nil {
		room = v.(*Room)
	}
	return room, args.Error(1)
}

func (m *MockStore) DeleteRoom(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockStore) SavePlayer(ctx context.Context, roomCode string, p *Player) error {
	args := m.Called(ctx, roomCode, p)
	return args.Error(0)
}

func (m *MockStore) GetPlayerBySession(ctx context.Context, token string) (*PlayerRecord, error) {
	args := m.Called(ctx, token)
	var record *PlayerRecord
	if v := args.Get(0); v != nil {
		record = v.(*PlayerRecord)
	}
	return record, args.Error(1)
}

func (m *MockStore) MarkPlayerConnected(ctx context.Context, playerID string) error {
	args := m.Called(ctx, playerID)
	return args.Error(0)
}

func (m *MockStore) MarkPlayerDisconnected(ctx context.Context, playerID string, at time.Time) error {
	args := m.Called(ctx, playerID, at)
	return args.Error(0)
}

func (m *MockStore) DeletePlayer(ctx context.Context, playerID string) error {
	args := m.Called(ctx, playerID)
	return args.Error(0)
}

func (m *MockStore) ActiveRooms(ctx context.Context) ([]*Room, error) {
	args := m.Called(ctx)
	var rooms []*Room
	if v := args.Get(0); v != nil {
		rooms = v.([]*Room)
	}
	return rooms, args.Error(1)
}

// okStore stubs every persistence call to succeed, for tests that exercise
// coordinator logic rather than the persistence contract.
func okStore() *MockStore {
	s := &MockStore{}
	s.On("SaveRoom", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.On("SavePlayer", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	s.On("DeleteRoom", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.On("DeletePlayer", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.On("MarkPlayerConnected", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.On("MarkPlayerDisconnected", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	s.On("GetPlayerBySession", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	s.On("LoadRoom", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	s.On("ActiveRooms", mock.Anything).Return(nil, nil).Maybe()
	return s
}

// --- Conn ---

type MockConn struct {
	mock.Mock
}

func (m *MockConn) Send(msg Outbound) {
	m.Called(msg)
}

func (m *MockConn) CloseHijacked() {
	m.Called()
}

// --- NetworkSession ---

type MockNetworkSession struct {
	mock.Mock
}

func (m *MockNetworkSession) Close(errCode string) {
	m.Called(errCode)
}

func (m *MockNetworkSession) Write(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockNetworkSession) Read() ([]byte, error) {
	args := m.Called()
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.Error(1)
}

func (m *MockNetworkSession) Ping() error {
	args := m.Called()
	return args.Error(0)
}

// --- TickerSource ---

type MockTickerSource struct {
	mock.Mock
}

func (m *MockTickerSource) Create(d time.Duration) <-chan time.Time {
	args := m.Called(d)
	return args.Get(0).(chan time.Time)
}
