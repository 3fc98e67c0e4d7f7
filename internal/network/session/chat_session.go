package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/network"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-chat/internal/store"
	"github.com/lk2023060901/danmu-garden-chat/pkg/log"
	"github.com/lk2023060901/danmu-garden-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// 认证应答文本，与客户端约定一致。
const (
	TextLoginSuccess       = "Login successful"
	TextRegisterSuccess    = "Registration successful"
	TextInvalidCredentials = "Invalid credentials"
	TextUsernameTaken      = "Username already exists"
	TextInvalidRegister    = "Invalid registration details"
	TextServiceUnavailable = "Service unavailable, please try again later"
)

// Config 是创建 ChatSession 所需的共享依赖。
type Config struct {
	Codec      codec.Codec
	Registry   *Registry
	Dispatcher Dispatcher
	Auth       store.AuthStore
	Messages   store.MessageStore

	// WriteTimeout 为单帧写出的超时时间，0 表示不限制。
	WriteTimeout time.Duration
}

// ChatSession 是 Session 的服务端实现，驱动一条连接的完整生命周期：
//
//	Connecting -> Authenticating -> Authenticated -> Closed
//
// Serve 在接入层分配的 worker 上运行；Deliver 可被其它会话的 goroutine 并发调用。
type ChatSession struct {
	log.Binder

	id     int64
	conn   net.Conn
	remote net.Addr
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	username atomic.String

	// writeMu 覆盖一帧的编码与写出，保证并发投递时帧不交错。
	writeMu sync.Mutex

	closeOnce   sync.Once
	closeErr    error
	cleanupOnce sync.Once
}

var _ Session = (*ChatSession)(nil)

// New 创建一个基于 net.Conn 的 ChatSession。
//
// 参数：
//   - parent：会话所属的上层上下文（通常携带会话日志字段与 trace）；为 nil 时使用 context.Background()；
//   - id    ：会话 ID；
//   - conn  ：底层网络连接。
func New(parent context.Context, id int64, conn net.Conn, cfg Config) *ChatSession {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	s := &ChatSession{
		id:     id,
		conn:   conn,
		remote: conn.RemoteAddr(),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	s.state.Store(int32(StateConnecting))
	s.SetLogger(log.Ctx(ctx).With(log.FieldModule("session")))
	return s
}

func (s *ChatSession) ID() int64 {
	return s.id
}

func (s *ChatSession) Context() context.Context {
	return s.ctx
}

func (s *ChatSession) RemoteAddr() net.Addr {
	return s.remote
}

func (s *ChatSession) Username() string {
	return s.username.Load()
}

func (s *ChatSession) State() State {
	return State(s.state.Load())
}

// Alive 判断会话是否仍可写。
func (s *ChatSession) Alive() bool {
	return s.State() != StateClosed
}

// Serve 运行会话直到连接断开或被关闭，返回导致退出的错误。
// 对端正常断开与主动关闭返回 nil。清理逻辑只执行一次。
func (s *ChatSession) Serve() error {
	defer s.cleanup()

	if !s.advance(StateConnecting, StateAuthenticating) {
		return merr.WrapErrSessionClosed(s.id)
	}
	if err := s.authenticate(); err != nil {
		return s.exitError(network.StageAuth, err)
	}
	return s.exitError(network.StageDispatch, s.receiveLoop())
}

// Deliver 实现 Session.Deliver。
func (s *ChatSession) Deliver(msg *model.Message) error {
	return s.DeliverFrame(codec.MessageFrame(msg))
}

// DeliverFrame 实现 Session.DeliverFrame。
func (s *ChatSession) DeliverFrame(f *codec.Frame) error {
	err := s.writeFrame(f)
	if err != nil && isConnError(err) {
		s.Logger().Debug("write failed, closing session", zap.Error(err))
		_ = s.Close()
	}
	return err
}

// Close 实现 Session.Close。
func (s *ChatSession) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.cancel()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *ChatSession) advance(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *ChatSession) writeFrame(f *codec.Frame) error {
	if !s.Alive() {
		return merr.WrapErrSessionClosed(s.id)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.cfg.Codec.Encode(s.conn, f)
}

// readFrame 读取下一帧，未知 tag 的帧记录后丢弃。
func (s *ChatSession) readFrame() (*codec.Frame, error) {
	for {
		f, err := s.cfg.Codec.Decode(s.conn)
		if err == nil {
			return f, nil
		}
		if errors.Is(err, merr.ErrProtocolUnknownTag) {
			s.Logger().RatedWarn(10, "drop frame with unknown tag",
				network.StageDecode.Field(), log.FieldTag(string(f.Tag)))
			continue
		}
		return nil, err
	}
}

func (s *ChatSession) authenticate() error {
	f, err := s.readFrame()
	if err != nil {
		return err
	}
	req, err := f.AuthRequest()
	if err != nil {
		return err
	}

	user, err := s.checkCredentials(req)
	if err != nil {
		metrics.AuthResults.WithLabelValues(string(f.Tag), metrics.FailLabel).Inc()
		s.Logger().Info("authentication failed",
			log.FieldTag(string(f.Tag)), log.FieldUsername(req.Username), zap.Error(err))
		if werr := s.writeFrame(codec.AuthResponseFrame(f.Tag, false, authFailureText(req, err))); werr != nil {
			return werr
		}
		return err
	}
	metrics.AuthResults.WithLabelValues(string(f.Tag), metrics.SuccessLabel).Inc()

	successText := TextLoginSuccess
	if req.Register {
		successText = TextRegisterSuccess
	}
	if err := s.writeFrame(codec.AuthResponseFrame(f.Tag, true, successText)); err != nil {
		return err
	}

	username := user.Username
	s.username.Store(username)
	s.AppendFields(log.FieldUsername(username))
	if !s.advance(StateAuthenticating, StateAuthenticated) {
		return merr.WrapErrSessionClosed(s.id)
	}

	if prev, replaced := s.cfg.Registry.Put(username, s); replaced {
		s.Logger().Info("replacing previous session of user", zap.Int64("previousSessionID", prev.ID()))
		_ = prev.Close()
	}
	s.Logger().Info("user authenticated", zap.Bool("register", req.Register))
	s.setStatus(model.UserStatusOnline)

	s.deliverOffline()
	if err := s.DeliverFrame(codec.UsersListFrame(s.cfg.Registry.Snapshot())); err != nil {
		return err
	}
	if err := s.cfg.Dispatcher.Route(s.ctx, model.NewUserJoinMessage(username), username); err != nil {
		s.Logger().Warn("route user join failed", zap.Error(err))
	}
	return nil
}

func (s *ChatSession) checkCredentials(req codec.AuthRequest) (*model.User, error) {
	if err := store.ValidateCredentials(req.Username, req.Password); err != nil {
		return nil, err
	}
	if !req.Register {
		return s.cfg.Auth.Authenticate(s.ctx, req.Username, req.Password)
	}

	if err := s.cfg.Auth.CreateAccount(s.ctx, req.Username, req.Password, req.Email); err != nil {
		return nil, err
	}
	user := model.NewOnlineUser(req.Username)
	user.Email = req.Email
	return &user, nil
}

func authFailureText(req codec.AuthRequest, err error) string {
	switch {
	case errors.Is(err, merr.ErrAuthUsernameTaken):
		return TextUsernameTaken
	case errors.Is(err, merr.ErrAuthInvalidCredentials):
		return TextInvalidCredentials
	case isInputError(err):
		if req.Register {
			return TextInvalidRegister
		}
		return TextInvalidCredentials
	default:
		return TextServiceUnavailable
	}
}

// deliverOffline 投递离线期间积压的消息。投递中途失败时，未送达的消息重新入队。
func (s *ChatSession) deliverOffline() {
	username := s.Username()
	pending, err := s.cfg.Messages.FetchAndClearOffline(s.ctx, username)
	if err != nil {
		metrics.StoreFailures.WithLabelValues("fetch_offline").Inc()
		s.Logger().Warn("fetch offline messages failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	s.Logger().Info("delivering offline messages", zap.Int("count", len(pending)))

	for i, msg := range pending {
		if err := s.Deliver(msg); err != nil {
			s.requeue(pending[i:])
			return
		}
	}
}

func (s *ChatSession) requeue(msgs []*model.Message) {
	// 会话已取消，使用独立上下文完成回写。
	ctx := context.WithoutCancel(s.ctx)
	for _, msg := range msgs {
		if err := s.cfg.Messages.EnqueueOffline(ctx, msg); err != nil {
			metrics.StoreFailures.WithLabelValues("enqueue_offline").Inc()
			s.Logger().Warn("requeue offline message failed", log.FieldMessage(msg), zap.Error(err))
		}
	}
}

func (s *ChatSession) receiveLoop() error {
	username := s.Username()
	for {
		f, err := s.readFrame()
		if err != nil {
			return err
		}
		msg, err := f.ChatMessage()
		if err != nil {
			return err
		}
		if msg.Type.IsPresence() {
			s.Logger().RatedWarn(1, "drop presence message sent by client", log.FieldMessage(msg))
			continue
		}

		// 发送方以认证用户名为准，客户端无法冒用。
		msg.Sender = username
		if msg.ID == "" {
			msg.ID = model.NewMessageID()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = model.Now()
		}

		if err := s.cfg.Dispatcher.Route(s.ctx, msg, username); err != nil {
			s.Logger().RatedWarn(1, "route message failed", log.FieldMessage(msg), zap.Error(err))
		}
	}
}

// cleanup 只执行一次：摘除登记、广播离开、关闭连接。
// 被新登录替换的会话不再持有登记，因此不会广播离开。
func (s *ChatSession) cleanup() {
	s.cleanupOnce.Do(func() {
		s.state.Store(int32(StateClosed))

		username := s.Username()
		if username != "" && s.cfg.Registry.RemoveIf(username, s) {
			s.setStatus(model.UserStatusOffline)
			ctx := context.WithoutCancel(s.ctx)
			if err := s.cfg.Dispatcher.Route(ctx, model.NewUserLeaveMessage(username), username); err != nil {
				s.Logger().Warn("route user leave failed", network.StageCleanup.Field(), zap.Error(err))
			}
		}

		_ = s.Close()
		s.Logger().Info("session closed")
	})
}

// setStatus 尽力更新账户在线状态，失败只记录日志。
func (s *ChatSession) setStatus(status model.UserStatus) {
	ctx := context.WithoutCancel(s.ctx)
	if err := s.cfg.Auth.SetStatus(ctx, s.Username(), status); err != nil {
		metrics.StoreFailures.WithLabelValues("set_status").Inc()
		s.Logger().RatedWarn(1, "update user status failed", zap.Stringer("status", status), zap.Error(err))
	}
}

// exitError 将预期内的断开归一为 nil，其余错误记录日志后原样返回。
func (s *ChatSession) exitError(stage network.Stage, err error) error {
	switch {
	case err == nil,
		errors.Is(err, merr.ErrEndOfStream),
		errors.Is(err, merr.ErrSessionClosed):
		return nil
	case !s.Alive() && isConnError(err):
		// 连接已被本端关闭（替换登录或 shutdown），读写错误属于预期。
		return nil
	case merr.GetErrorType(err) == merr.InputError, isInputError(err):
		return err
	default:
		s.Logger().Warn("session terminated", stage.Field(), zap.Error(err))
		return err
	}
}

func isInputError(err error) bool {
	return errors.IsAny(err, merr.ErrParameterMissing, merr.ErrParameterTooLarge, merr.ErrParameterInvalid)
}

// isConnError 判断是否为底层连接不可用导致的错误。
func isConnError(err error) bool {
	return errors.Is(err, merr.ErrTransport) || errors.Is(err, merr.ErrEndOfStream)
}
