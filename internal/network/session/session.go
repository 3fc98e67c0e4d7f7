package session

import (
	"context"
	"net"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/codec"
)

// Session 抽象了一条已接入的客户端连接。
//
// 约定：
//   - 每个 Session 对应一条底层连接（TCP 连接或 WebSocket 会话）。
//   - Session ID 由接入层分配，在进程内唯一。
//   - Deliver/DeliverFrame 可以被任意 goroutine 并发调用，帧之间不会交错。
type Session interface {
	// ID 返回该会话在进程内的唯一标识。
	ID() int64

	// Context 返回与该会话关联的上下文，会话关闭时 Done。
	Context() context.Context

	// RemoteAddr 返回远端地址（客户端地址）。
	RemoteAddr() net.Addr

	// Username 返回认证后的用户名，认证前为空。
	Username() string

	// State 返回会话当前所处的状态。
	State() State

	// Deliver 向该会话写出一条 MESSAGE 帧。
	Deliver(msg *model.Message) error

	// DeliverFrame 向该会话写出任意一帧。
	//
	// 说明：
	//   - 写锁覆盖编码与写出的全过程；
	//   - 写失败时会话会被关闭，后续调用返回 ErrSessionClosed。
	DeliverFrame(f *codec.Frame) error

	// Close 主动关闭该会话。
	//
	// 说明：
	//   - 关闭底层连接并取消 Context，阻塞中的读写随之返回；
	//   - 多次调用是幂等的。
	Close() error
}

// Dispatcher 接收会话读到的消息，由消息路由实现。
type Dispatcher interface {
	// Route 处理一条来自 sender 的消息。
	Route(ctx context.Context, msg *model.Message, sender string) error
}

// State 是会话状态机的状态，只能前进不能回退。
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateAuthenticated:
		return "Authenticated"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
