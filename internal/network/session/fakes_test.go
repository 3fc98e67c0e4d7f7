package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

type routed struct {
	msg    *model.Message
	sender string
}

type recordingDispatcher struct {
	mu     sync.Mutex
	routed []routed
}

func (d *recordingDispatcher) Route(_ context.Context, msg *model.Message, sender string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routed = append(d.routed, routed{msg: msg, sender: sender})
	return nil
}

func (d *recordingDispatcher) ofType(typ model.MessageType) []routed {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []routed
	for _, r := range d.routed {
		if r.msg.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

type fakeAuth struct {
	mu       sync.Mutex
	users    map[string]string
	statuses map[string]model.UserStatus
	fail     error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		users:    map[string]string{"alice": "alice-pw", "bob": "bob-pw"},
		statuses: map[string]model.UserStatus{},
	}
}

func (a *fakeAuth) CreateAccount(_ context.Context, username, password, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	if _, ok := a.users[username]; ok {
		return merr.WrapErrAuthUsernameTaken(username)
	}
	a.users[username] = password
	return nil
}

func (a *fakeAuth) Authenticate(_ context.Context, username, password string) (*model.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return nil, a.fail
	}
	if pw, ok := a.users[username]; !ok || pw != password {
		return nil, merr.WrapErrAuthInvalidCredentials(username)
	}
	u := model.NewOnlineUser(username)
	return &u, nil
}

func (a *fakeAuth) SetStatus(_ context.Context, username string, status model.UserStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[username] = status
	return nil
}

func (a *fakeAuth) status(username string) model.UserStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statuses[username]
}

type fakeMessages struct {
	mu      sync.Mutex
	offline map[string][]*model.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{offline: map[string][]*model.Message{}}
}

func (m *fakeMessages) EnqueueOffline(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline[msg.Receiver] = append(m.offline[msg.Receiver], msg)
	return nil
}

func (m *fakeMessages) FetchAndClearOffline(_ context.Context, username string) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.offline[username]
	delete(m.offline, username)
	return msgs, nil
}

func (m *fakeMessages) AppendHistory(context.Context, *model.Message) error {
	return nil
}

// fixture 组装一个可运行 ChatSession 的最小环境。
type fixture struct {
	registry   *Registry
	dispatcher *recordingDispatcher
	auth       *fakeAuth
	messages   *fakeMessages
	codec      codec.Codec
}

func newFixture() *fixture {
	return &fixture{
		registry:   NewRegistry(),
		dispatcher: &recordingDispatcher{},
		auth:       newFakeAuth(),
		messages:   newFakeMessages(),
		codec:      codec.NewDefault(),
	}
}

func (f *fixture) config() Config {
	return Config{
		Codec:      f.codec,
		Registry:   f.registry,
		Dispatcher: f.dispatcher,
		Auth:       f.auth,
		Messages:   f.messages,
	}
}

// start 在 net.Pipe 的服务端运行一个会话，返回客户端连接。
func (f *fixture) start(t *testing.T, id int64) (net.Conn, *ChatSession, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	sess := New(context.Background(), id, server, f.config())
	done := make(chan error, 1)
	go func() {
		done <- sess.Serve()
	}()
	t.Cleanup(func() {
		_ = client.Close()
		_ = sess.Close()
	})
	return client, sess, done
}

func (f *fixture) send(t *testing.T, conn net.Conn, frame *codec.Frame) {
	t.Helper()
	require.NoError(t, f.codec.Encode(conn, frame))
}

func (f *fixture) recv(t *testing.T, conn net.Conn) *codec.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := f.codec.Decode(conn)
	require.NoError(t, err)
	return frame
}

// login 完成一次认证并读掉认证成功后的应答与在线列表。
func (f *fixture) login(t *testing.T, conn net.Conn, username, password string) []model.User {
	t.Helper()
	f.send(t, conn, codec.LoginFrame(username, password))

	ok, text, err := f.recv(t, conn).AuthResponse()
	require.NoError(t, err)
	require.True(t, ok, text)

	users, err := f.recv(t, conn).UserList()
	require.NoError(t, err)
	return users
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit")
		return nil
	}
}
