package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

func TestMessageTypeNames(t *testing.T) {
	for typ, name := range messageTypeNames {
		parsed, err := ParseMessageType(name)
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
		assert.Equal(t, name, typ.String())
	}
	parsed, err := ParseMessageType(" user_join ")
	require.NoError(t, err)
	assert.Equal(t, MessageTypeUserJoin, parsed)

	_, err = ParseMessageType("VIDEO")
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	assert.Equal(t, "UNKNOWN", MessageType(99).String())
	assert.False(t, MessageType(99).Valid())

	assert.True(t, MessageTypeUserJoin.IsPresence())
	assert.True(t, MessageTypeUserLeave.IsPresence())
	assert.False(t, MessageTypeSystem.IsPresence())
	assert.False(t, MessageTypeText.IsPresence())
}

func TestConstructors(t *testing.T) {
	text := NewTextMessage("alice", "hi")
	assert.Equal(t, MessageTypeText, text.Type)
	assert.NotEmpty(t, text.ID)
	assert.False(t, text.Timestamp.IsZero())
	assert.True(t, text.IsBroadcast())

	priv := NewPrivateMessage("alice", "bob", "psst")
	assert.Equal(t, "bob", priv.Receiver)
	assert.False(t, priv.IsBroadcast())
	assert.NotEqual(t, text.ID, priv.ID)

	file := NewFileMessage("alice", "", "a.txt", []byte{1, 2})
	assert.Equal(t, MessageTypeFile, file.Type)
	assert.True(t, file.IsBroadcast())

	sys := NewSystemMessage("alice", "Private message delivered to bob")
	assert.Equal(t, SystemSender, sys.Sender)
	assert.Equal(t, MessageTypeSystem, sys.Type)

	assert.Equal(t, "bob has joined the chat", NewUserJoinMessage("bob").Content)
	assert.Equal(t, "bob has left the chat", NewUserLeaveMessage("bob").Content)
	assert.Equal(t, MessageTypeTyping, NewTypingMessage("bob").Type)
}

func TestValidate(t *testing.T) {
	var nilMsg *Message
	assert.ErrorIs(t, nilMsg.Validate(), merr.ErrParameterMissing)
	assert.NoError(t, NewTextMessage("a", "b").Validate())
	assert.ErrorIs(t, NewPrivateMessage("a", "", "x").Validate(), merr.ErrParameterMissing)
	assert.ErrorIs(t, NewFileMessage("a", "b", "", nil).Validate(), merr.ErrParameterMissing)
	assert.ErrorIs(t, (&Message{Type: 42}).Validate(), merr.ErrParameterInvalid)
}

func TestClone(t *testing.T) {
	orig := NewFileMessage("alice", "bob", "a.bin", []byte{1, 2, 3})
	cp := orig.Clone()
	assert.Equal(t, orig, cp)
	cp.FileData[0] = 9
	assert.Equal(t, byte(1), orig.FileData[0])
	assert.Nil(t, (*Message)(nil).Clone())
}

func TestUserStatus(t *testing.T) {
	for s, name := range userStatusNames {
		parsed, err := ParseUserStatus(name)
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseUserStatus("gone")
	assert.Error(t, err)
	assert.False(t, UserStatus(-1).Valid())
}

func TestAvatarColor(t *testing.T) {
	assert.Equal(t, "#FF6B6B", AvatarColor("alice"))
	assert.Equal(t, "#F7B731", AvatarColor("bob"))
	assert.Equal(t, "#4ECDC4", AvatarColor("carol"))
	assert.Contains(t, avatarPalette, AvatarColor("用户"))

	u := NewOnlineUser("bob")
	assert.Equal(t, UserStatusOnline, u.Status)
	assert.Equal(t, "BO", u.Initials())
	assert.Equal(t, "X", User{Username: "x"}.Initials())
}
