package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/network"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/session"
	"github.com/lk2023060901/danmu-garden-chat/internal/store"
	"github.com/lk2023060901/danmu-garden-chat/pkg/log"
	"github.com/lk2023060901/danmu-garden-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/retry"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/typeutil"
)

// Handler 处理一种消息类型。
//
// 说明：
//   - msg   ：已由会话补全 sender/id/timestamp 的消息，处理过程中不得修改；
//   - sender：消息来源的认证用户名；
//   - 返回的错误只用于日志，不会影响发送方连接。
type Handler func(ctx context.Context, msg *model.Message, sender string) error

// Router 维护消息类型到 Handler 的映射，决定每条消息是广播、私聊投递还是离线入队。
//
// 典型调用链（服务器侧）：
//  1. Session 从连接读出 MESSAGE 帧；
//  2. 调用 Router.Route(ctx, msg, sender)；
//  3. Router 按 msg.Type 找到 Handler，Handler 在 Registry 快照上查找目标会话并投递，
//     或调用 MessageStore 入队/归档。
type Router interface {
	session.Dispatcher

	// Register 为消息类型 typ 注册处理函数，同一类型不允许重复注册。
	Register(typ model.MessageType, h Handler) error
}

// Notice 文本，与客户端约定一致。
const (
	noticeDeliveredPrefix = "Private message delivered to "
	noticeOfflineSuffix   = " is offline. Message will be delivered when they come online."
	noticeMissingTarget   = "Private message requires a receiver"
)

const (
	defaultRetryAttempts = 3
	defaultRetrySleep    = 50 * time.Millisecond
)

// Option 调整 ChatRouter 的可选参数。
type Option func(*ChatRouter)

// WithRetry 设置离线入队的重试次数与初始间隔。
func WithRetry(attempts uint, sleep time.Duration) Option {
	return func(r *ChatRouter) {
		r.retryAttempts = attempts
		r.retrySleep = sleep
	}
}

// ChatRouter 是 Router 的默认实现。
//
// 它不持有全局锁：每次广播都在 Registry 的新快照上逐个投递，
// 单个接收方失败只记录日志并跳过，不影响其余接收方。
type ChatRouter struct {
	log.Binder

	registry *session.Registry
	messages store.MessageStore
	handlers map[model.MessageType]Handler

	retryAttempts uint
	retrySleep    time.Duration
}

var _ Router = (*ChatRouter)(nil)

// New 创建一个注册了全部内置消息类型的 ChatRouter。
func New(registry *session.Registry, messages store.MessageStore, opts ...Option) *ChatRouter {
	r := &ChatRouter{
		registry:      registry,
		messages:      messages,
		handlers:      make(map[model.MessageType]Handler),
		retryAttempts: defaultRetryAttempts,
		retrySleep:    defaultRetrySleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.BindModule("router")

	r.handlers[model.MessageTypeText] = r.handleBroadcast
	r.handlers[model.MessageTypeTyping] = r.handleBroadcast
	r.handlers[model.MessageTypePrivate] = r.handlePrivate
	r.handlers[model.MessageTypeFile] = r.handleFile
	r.handlers[model.MessageTypeUserJoin] = r.handlePresence
	r.handlers[model.MessageTypeUserLeave] = r.handlePresence
	r.handlers[model.MessageTypeSystem] = r.handleSystem
	return r
}

// Register 实现 Router.Register。
func (r *ChatRouter) Register(typ model.MessageType, h Handler) error {
	if h == nil {
		return merr.WrapErrParameterMissing("handler", typ.String())
	}
	if _, exists := r.handlers[typ]; exists {
		return merr.WrapErrParameterInvalidMsg("handler for %s already registered", typ)
	}
	r.handlers[typ] = h
	return nil
}

// Route 实现 session.Dispatcher。
func (r *ChatRouter) Route(ctx context.Context, msg *model.Message, sender string) error {
	if msg == nil {
		return merr.WrapErrParameterMissing("message")
	}
	h, ok := r.handlers[msg.Type]
	if !ok {
		r.Logger().RatedWarn(1, "no handler for message type", log.FieldMessage(msg))
		return merr.WrapErrOperationNotSupported("route " + msg.Type.String())
	}

	start := time.Now()
	err := h(ctx, msg, sender)
	label := msg.Type.String()
	metrics.RoutedMessages.WithLabelValues(label).Inc()
	metrics.RouteLatency.WithLabelValues(label).Observe(float64(time.Since(start).Milliseconds()))
	return err
}

// handleBroadcast 发给除发送方外的全部在线会话，并尽力归档。
func (r *ChatRouter) handleBroadcast(ctx context.Context, msg *model.Message, sender string) error {
	r.broadcast(msg, sender)
	r.appendHistory(ctx, msg)
	return nil
}

// handlePrivate 在线则直接投递并回执，离线则入队并通知发送方。
// 发送方每次恰好收到一条 System 通知。
func (r *ChatRouter) handlePrivate(ctx context.Context, msg *model.Message, sender string) error {
	receiver := msg.Receiver
	if receiver == "" {
		r.notify(sender, noticeMissingTarget)
		return merr.WrapErrParameterMissing("receiver", "private message")
	}

	if r.deliverTo(receiver, msg) {
		r.notify(sender, noticeDeliveredPrefix+receiver)
		return nil
	}

	err := r.enqueueOffline(ctx, msg)
	r.notify(sender, receiver+noticeOfflineSuffix)
	return err
}

// handleFile 无接收方时按文本广播；有接收方时投递或静默入队。
func (r *ChatRouter) handleFile(ctx context.Context, msg *model.Message, sender string) error {
	if msg.IsBroadcast() {
		return r.handleBroadcast(ctx, msg, sender)
	}
	if r.deliverTo(msg.Receiver, msg) {
		return nil
	}
	return r.enqueueOffline(ctx, msg)
}

// handlePresence 将上下线事件发给全部会话（含发送方），随后广播最新在线列表。
// 客户端发来的上下线消息已在会话读循环中丢弃，这里只会收到会话生命周期合成的通知。
func (r *ChatRouter) handlePresence(_ context.Context, msg *model.Message, _ string) error {
	r.broadcast(msg)
	r.BroadcastPresence()
	return nil
}

// handleSystem 丢弃客户端发来的 System 消息，System 只能由服务端合成。
func (r *ChatRouter) handleSystem(_ context.Context, msg *model.Message, sender string) error {
	r.Logger().RatedWarn(1, "drop system message sent by client",
		log.FieldUsername(sender), log.FieldMessage(msg))
	return nil
}

// BroadcastPresence 向全部会话发送当前在线列表。
func (r *ChatRouter) BroadcastPresence() {
	frame := codec.UsersListFrame(r.registry.Snapshot())
	r.registry.Range(func(username string, sess session.Session) bool {
		if err := sess.DeliverFrame(frame); err != nil {
			r.deliveryFailed(username, string(codec.TagUsersList), err)
		}
		return true
	})
}

func (r *ChatRouter) broadcast(msg *model.Message, exclude ...string) {
	skip := typeutil.NewSet(exclude...)
	r.registry.Range(func(username string, sess session.Session) bool {
		if skip.Contain(username) {
			return true
		}
		if err := sess.Deliver(msg); err != nil {
			r.deliveryFailed(username, msg.Type.String(), err)
		}
		return true
	})
}

// deliverTo 投递给在线的 username，不在线或投递失败返回 false。
func (r *ChatRouter) deliverTo(username string, msg *model.Message) bool {
	sess, ok := r.registry.Get(username)
	if !ok {
		return false
	}
	if err := sess.Deliver(msg); err != nil {
		r.deliveryFailed(username, msg.Type.String(), err)
		return false
	}
	return true
}

func (r *ChatRouter) notify(username, content string) {
	r.deliverTo(username, model.NewSystemMessage(username, content))
}

func (r *ChatRouter) deliveryFailed(username, kind string, err error) {
	metrics.DeliveryFailures.WithLabelValues(kind).Inc()
	r.Logger().RatedWarn(1, "deliver to session failed",
		network.StageDeliver.Field(), log.FieldUsername(username), zap.String("kind", kind), zap.Error(err))
}

// enqueueOffline 带重试地写入离线队列，只对可重试的存储错误重试。
func (r *ChatRouter) enqueueOffline(ctx context.Context, msg *model.Message) error {
	err := retry.Do(ctx, func() error {
		return r.messages.EnqueueOffline(ctx, msg)
	}, retry.Attempts(r.retryAttempts), retry.Sleep(r.retrySleep), retry.RetryErr(merr.IsRetryableErr))
	if err != nil {
		metrics.StoreFailures.WithLabelValues("enqueue_offline").Inc()
		r.Logger().Warn("enqueue offline message failed", log.FieldMessage(msg), zap.Error(err))
	}
	return err
}

// appendHistory 尽力归档，失败只记录日志。
func (r *ChatRouter) appendHistory(ctx context.Context, msg *model.Message) {
	if err := r.messages.AppendHistory(ctx, msg); err != nil {
		metrics.StoreFailures.WithLabelValues("append_history").Inc()
		r.Logger().RatedWarn(1, "append chat history failed", log.FieldMessage(msg), zap.Error(err))
	}
}
