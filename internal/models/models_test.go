package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionFor(t *testing.T) {
	m := Message{SenderID: "alice"}
	assert.Equal(t, DirectionSent, m.DirectionFor("alice"))
	assert.Equal(t, DirectionReceived, m.DirectionFor("bob"))
}

func TestSeenByUser(t *testing.T) {
	m := Message{SeenBy: []string{"alice", "bob"}}
	assert.True(t, m.SeenByUser("bob"))
	assert.False(t, m.SeenByUser("carol"))
	assert.False(t, Message{}.SeenByUser("alice"))
}

func TestPeerFor(t *testing.T) {
	c := Conversation{CreatorID: "alice", MemberID: "bob"}
	assert.Equal(t, "bob", c.PeerFor("alice"))
	assert.Equal(t, "alice", c.PeerFor("bob"))
}

func TestGatingCanSend(t *testing.T) {
	assert.True(t, Gating{Accepted: true}.CanSend())
	assert.True(t, Gating{IsCreator: true}.CanSend())
	assert.False(t, Gating{Accepted: true, Blocked: true}.CanSend())
	assert.False(t, Gating{IsCreator: true, SendLock: true}.CanSend())
	assert.False(t, Gating{}.CanSend())
}
