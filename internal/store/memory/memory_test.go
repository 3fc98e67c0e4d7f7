package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := New(bcrypt.MinCost)

	require.NoError(t, s.CreateAccount(ctx, "alice", "secret", "alice@example.com"))
	assert.ErrorIs(t, s.CreateAccount(ctx, "alice", "other", ""), merr.ErrAuthUsernameTaken)
	assert.ErrorIs(t, s.CreateAccount(ctx, "", "secret", ""), merr.ErrParameterMissing)
	assert.ErrorIs(t, s.CreateAccount(ctx, model.SystemSender, "secret", ""), merr.ErrParameterInvalid)

	u, err := s.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, model.AvatarColor("alice"), u.AvatarColor)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, merr.ErrAuthInvalidCredentials)
	_, err = s.Authenticate(ctx, "nobody", "secret")
	assert.ErrorIs(t, err, merr.ErrAuthInvalidCredentials)

	status, ok := s.Status("alice")
	require.True(t, ok)
	assert.Equal(t, model.UserStatusOffline, status)
	require.NoError(t, s.SetStatus(ctx, "alice", model.UserStatusOnline))
	status, _ = s.Status("alice")
	assert.Equal(t, model.UserStatusOnline, status)

	// 未知账户的状态更新被忽略。
	assert.NoError(t, s.SetStatus(ctx, "nobody", model.UserStatusOnline))
}

func TestOfflineQueue(t *testing.T) {
	ctx := context.Background()
	s := New(bcrypt.MinCost)

	first := model.NewPrivateMessage("bob", "alice", "one")
	second := model.NewFileMessage("bob", "alice", "a.txt", []byte{1, 2})
	require.NoError(t, s.EnqueueOffline(ctx, first))
	require.NoError(t, s.EnqueueOffline(ctx, second))
	require.NoError(t, s.EnqueueOffline(ctx, model.NewPrivateMessage("alice", "bob", "x")))
	assert.ErrorIs(t, s.EnqueueOffline(ctx, model.NewTextMessage("bob", "no receiver")), merr.ErrParameterMissing)

	// 入队保存的是拷贝。
	second.FileData[0] = 9

	msgs, err := s.FetchAndClearOffline(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, []byte{1, 2}, msgs[1].FileData)

	msgs, err = s.FetchAndClearOffline(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = s.FetchAndClearOffline(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHistoryAndClose(t *testing.T) {
	ctx := context.Background()
	s := New(bcrypt.MinCost)

	require.NoError(t, s.AppendHistory(ctx, model.NewTextMessage("alice", "hi")))
	require.NoError(t, s.AppendHistory(ctx, model.NewTypingMessage("bob")))
	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, model.MessageTypeText, history[0].Type)
	assert.Equal(t, model.MessageTypeTyping, history[1].Type)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.AppendHistory(ctx, model.NewTextMessage("alice", "late")), merr.ErrServiceClosed)
	_, err := s.FetchAndClearOffline(ctx, "alice")
	assert.ErrorIs(t, err, merr.ErrServiceClosed)
	_, err = s.Authenticate(ctx, "alice", "x")
	assert.ErrorIs(t, err, merr.ErrServiceClosed)
}
