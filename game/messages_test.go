package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	raw := json.RawMessage(`{"room_code":"AB12","player_name":"ana"}`)
	req, err := decodePayload[JoinGamePayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "AB12", req.RoomCode)
	assert.Equal(t, "ana", req.PlayerName)
}

func TestDecodePayloadEmpty(t *testing.T) {
	req, err := decodePayload[JoinGamePayload](nil)
	require.NoError(t, err)
	assert.Empty(t, req.PlayerName, "missing payload decodes to the zero value")
}

func TestDecodePayloadMalformed(t *testing.T) {
	_, err := decodePayload[JoinGamePayload](json.RawMessage(`{"player_name":`))
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	data := []byte(`{"type":"SUBMIT_ANSWERS","payload":{"answers":{"Animal":"Ape"}}}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeSubmitAnswers, env.Type)

	req, err := decodePayload[SubmitAnswersPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Ape", req.Answers["Animal"])
}

func TestScoresPayloadShape(t *testing.T) {
	data := json.RawMessage(`{"scores":{"Animal":{"p2":8,"p3":5}}}`)
	req, err := decodePayload[SubmitScoresPayload](data)
	require.NoError(t, err)
	assert.Equal(t, 8, req.Scores["Animal"]["p2"])
	assert.Equal(t, 5, req.Scores["Animal"]["p3"])
}
