package game

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 4

// newRoomCode draws 4-character uppercase-alphanumeric codes until one not
// held by a live room comes up. Caller must hold the coordinator lock so the
// taken check and the later map insert are one atomic step.
func newRoomCode(taken func(string) bool) string {
	var b strings.Builder
	for {
		b.Reset()
		for i := 0; i < codeLength; i++ {
			b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
		}
		code := b.String()
		if !taken(code) {
			return code
		}
	}
}

func newPlayerID() string {
	return uuid.NewString()
}

// newSessionToken mints the opaque reconnection token. Tokens are never
// reused across distinct players.
func newSessionToken() string {
	return uuid.NewString()
}
