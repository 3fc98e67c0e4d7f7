package wsconn

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// closeWait 为发送关闭帧时的写超时。
const closeWait = time.Second

// Conn 把一条 gorilla WebSocket 连接适配为 net.Conn。
//
// 说明：
//   - 每次 Write 发送一条二进制消息，上层的一帧应当一次写完；
//   - Read 按字节流读取二进制消息的内容，跨消息边界连续读取；
//   - 文本消息被忽略，对端正常关闭映射为 io.EOF；
//   - Write 不可并发调用，由上层写锁保证；Close 可与读写并发。
type Conn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	reader  io.Reader
	readErr error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*Conn)(nil)

// New 包装一条已完成握手的 WebSocket 连接。
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Dial 拨号 WebSocket 地址并返回适配后的连接。
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return New(ws), nil
}

// Upgrade 完成 HTTP 到 WebSocket 的升级，失败时 upgrader 已向客户端写出错误响应。
func Upgrade(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	// gorilla 在连接出错后重复读取会 panic，这里记住第一次的错误。
	if c.readErr != nil {
		return 0, c.readErr
	}
	for {
		if c.reader == nil {
			typ, r, err := c.ws.NextReader()
			if err != nil {
				c.readErr = c.mapError(err)
				return 0, c.readErr
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			c.readErr = c.mapError(err)
			return n, c.readErr
		}
		return n, nil
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, c.mapError(err)
	}
	return len(p), nil
}

// Close 尽力发送关闭帧后关闭底层连接，多次调用是幂等的。
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// mapError 把 WebSocket 层面的关闭统一为流结束，本端已关闭时统一为 net.ErrClosed。
func (c *Conn) mapError(err error) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return net.ErrClosed
	}
	if websocket.IsUnexpectedCloseError(err) {
		return io.ErrUnexpectedEOF
	}
	return err
}
