package connector

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/wsconn"
	"github.com/lk2023060901/danmu-garden-chat/pkg/log"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

const (
	NetworkTCP       = "tcp"
	NetworkWebSocket = "websocket"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	// Codec 必须与服务端使用相同的序列化与压缩设置。
	Codec codec.Codec

	RecvQueueSize int
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
}

func (c *Config) withDefaults() {
	if c.Codec == nil {
		c.Codec = codec.NewDefault()
	}
	if c.RecvQueueSize <= 0 {
		c.RecvQueueSize = 256
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Client 是客户端侧的一条连接，读协程把收到的帧依次放入接收队列。
//
// 说明：
//   - 未知 tag 的帧被跳过；
//   - 读协程退出后接收队列被关闭，Err 返回退出原因；
//   - Send 系列方法可并发调用。
type Client struct {
	conn  net.Conn
	codec codec.Codec
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc

	recvChan chan *codec.Frame
	recvErr  atomic.Error

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial 连接服务端。network 为 "tcp" 时 addr 为 host:port，为 "websocket" 时 addr 为 ws:// URL。
func Dial(ctx context.Context, network, addr string, cfg Config) (*Client, error) {
	cfg.withDefaults()
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	switch network {
	case NetworkTCP:
		var d net.Dialer
		conn, err = d.DialContext(dialCtx, "tcp", addr)
	case NetworkWebSocket:
		conn, err = wsconn.Dial(dialCtx, addr, nil)
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unsupported network %q", network)
	}
	if err != nil {
		return nil, merr.WrapErrTransport(addr, err)
	}
	return NewClient(ctx, conn, cfg), nil
}

// NewClient 在已建立的连接上创建 Client 并启动读协程。
func NewClient(ctx context.Context, conn net.Conn, cfg Config) *Client {
	cfg.withDefaults()
	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		conn:     conn,
		codec:    cfg.Codec,
		cfg:      cfg,
		ctx:      cctx,
		cancel:   cancel,
		recvChan: make(chan *codec.Frame, cfg.RecvQueueSize),
	}
	conc.Go(func() (struct{}, error) {
		c.recvLoop()
		return struct{}{}, nil
	})
	return c
}

func (c *Client) recvLoop() {
	defer close(c.recvChan)
	defer c.cancel()
	for {
		frame, err := c.codec.Decode(c.conn)
		if err != nil {
			if errors.Is(err, merr.ErrProtocolUnknownTag) {
				log.RatedDebug(1, "skip frame with unknown tag", zap.Error(err))
				continue
			}
			c.recvErr.Store(err)
			return
		}
		select {
		case c.recvChan <- frame:
		case <-c.ctx.Done():
			return
		}
	}
}

// Recv 返回接收队列，连接结束后被关闭。
func (c *Client) Recv() <-chan *codec.Frame {
	return c.recvChan
}

// Next 等待下一帧。
func (c *Client) Next(ctx context.Context) (*codec.Frame, error) {
	select {
	case f, ok := <-c.recvChan:
		if !ok {
			return nil, c.Err()
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextMessage 跳过其它帧，等待下一条 MESSAGE。
func (c *Client) NextMessage(ctx context.Context) (*model.Message, error) {
	for {
		f, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if f.Tag == codec.TagMessage {
			return f.ChatMessage()
		}
	}
}

// NextUsers 跳过其它帧，等待下一份在线列表。
func (c *Client) NextUsers(ctx context.Context) ([]model.User, error) {
	for {
		f, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if f.Tag == codec.TagUsersList {
			return f.UserList()
		}
	}
}

// Err 返回读协程退出的原因；连接仍在读取或被本端关闭时为 nil。
func (c *Client) Err() error {
	if err := c.recvErr.Load(); err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return merr.WrapErrServiceClosed("client")
	}
	return nil
}

// Login 发送登录请求并等待应答。返回的 text 为服务端的应答文本。
func (c *Client) Login(ctx context.Context, username, password string) (bool, string, error) {
	return c.auth(ctx, codec.LoginFrame(username, password))
}

// Register 发送注册请求并等待应答，注册成功即视为已登录。
func (c *Client) Register(ctx context.Context, username, password, email string) (bool, string, error) {
	return c.auth(ctx, codec.RegisterFrame(username, password, email))
}

func (c *Client) auth(ctx context.Context, req *codec.Frame) (bool, string, error) {
	if err := c.SendFrame(req); err != nil {
		return false, "", err
	}
	resp, err := c.Next(ctx)
	if err != nil {
		return false, "", err
	}
	if resp.Tag != req.Tag {
		return false, "", merr.WrapErrProtocolMalformed("unexpected auth response", string(resp.Tag))
	}
	return resp.AuthResponse()
}

// Send 发送一条聊天消息，sender 由服务端填写。
func (c *Client) Send(msg *model.Message) error {
	return c.SendFrame(codec.MessageFrame(msg))
}

// SendFrame 写出任意一帧。
func (c *Client) SendFrame(f *codec.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ctx.Err() != nil {
		return merr.WrapErrServiceClosed("client")
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.codec.Encode(c.conn, f)
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close 关闭连接，多次调用是幂等的。
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
