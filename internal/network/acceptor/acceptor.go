package acceptor

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-chat/internal/network"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/session"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/wsconn"
	"github.com/lk2023060901/danmu-garden-chat/pkg/log"
	"github.com/lk2023060901/danmu-garden-chat/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/typeutil"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"

	tracerName = "acceptor"
)

// Config 描述接入层配置。
//
// 说明：
//   - MaxSessions 为同时运行的会话上限，池满时新连接阻塞等待空闲槽位；
//   - ShutdownGrace 为关闭时等待会话退出的最长时间，超时后强制关闭剩余连接；
//   - WebSocketAddr 为空表示不开启 WebSocket 接入。
type Config struct {
	Addr          string
	MaxSessions   int
	ShutdownGrace time.Duration

	WebSocketAddr string
	WebSocketPath string

	// Session 为所有会话共享的依赖。
	Session session.Config
}

const (
	defaultMaxSessions   = 100
	defaultShutdownGrace = 5 * time.Second
	defaultWebSocketPath = "/ws"
)

func (c *Config) withDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.WebSocketPath == "" {
		c.WebSocketPath = defaultWebSocketPath
	}
}

// tracked 是一条已交给 worker 的连接。
type tracked struct {
	sess *session.ChatSession
	conn net.Conn
}

// Acceptor 监听 TCP（可选 WebSocket）端口，为每条连接创建 ChatSession，
// 并在容量受限的协程池中运行。
//
// 生命周期：
//  1. Listen 绑定端口；
//  2. Serve 运行接入循环，阻塞直到 ctx 取消或 Shutdown；
//  3. Shutdown 停止接入、关闭会话、等待排空、强制关闭残留连接、释放端口，幂等。
type Acceptor struct {
	log.Binder

	cfg Config

	ln       net.Listener
	wsLn     net.Listener
	wsServer *http.Server
	upgrader *websocket.Upgrader

	pool    *conc.Pool[struct{}]
	nextID  atomic.Int64
	live    *typeutil.ConcurrentMap[int64, tracked]
	futures *typeutil.ConcurrentMap[int64, *conc.Future[struct{}]]

	closing      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// New 校验配置并创建 Acceptor，此时尚未绑定端口。
func New(cfg Config) (*Acceptor, error) {
	cfg.withDefaults()
	if cfg.Session.Codec == nil {
		return nil, merr.WrapErrParameterMissing("session codec")
	}
	if cfg.Session.Registry == nil || cfg.Session.Dispatcher == nil {
		return nil, merr.WrapErrParameterMissing("session registry/dispatcher")
	}
	if cfg.Session.Auth == nil || cfg.Session.Messages == nil {
		return nil, merr.WrapErrParameterMissing("session stores")
	}

	a := &Acceptor{
		cfg:     cfg,
		pool:    conc.NewPool[struct{}](cfg.MaxSessions, conc.WithConcealPanic(true)),
		live:    typeutil.NewConcurrentMap[int64, tracked](),
		futures: typeutil.NewConcurrentMap[int64, *conc.Future[struct{}]](),
		done:    make(chan struct{}),
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 客户端是原生应用，不做来源校验。
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	a.BindModule("acceptor")
	return a, nil
}

// Listen 绑定 TCP 端口，并在配置了 WebSocketAddr 时绑定 WebSocket 端口。
func (a *Acceptor) Listen() error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", a.cfg.Addr)
	}
	a.ln = ln

	if a.cfg.WebSocketAddr != "" {
		wsLn, err := net.Listen("tcp", a.cfg.WebSocketAddr)
		if err != nil {
			_ = ln.Close()
			return errors.Wrapf(err, "listen websocket %s", a.cfg.WebSocketAddr)
		}
		mux := http.NewServeMux()
		mux.HandleFunc(a.cfg.WebSocketPath, a.serveWebSocket)
		a.wsLn = wsLn
		a.wsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	a.Logger().Info("acceptor listening",
		zap.Stringer("addr", ln.Addr()),
		zap.String("websocket", a.cfg.WebSocketAddr),
		zap.Int("maxSessions", a.cfg.MaxSessions))
	return nil
}

// Addr 返回 TCP 监听地址，未 Listen 时为 nil。
func (a *Acceptor) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// WebSocketAddr 返回 WebSocket 监听地址，未开启时为 nil。
func (a *Acceptor) WebSocketAddr() net.Addr {
	if a.wsLn == nil {
		return nil
	}
	return a.wsLn.Addr()
}

// Serve 运行接入循环，阻塞直到 ctx 取消或 Shutdown 完成。
// 由 Shutdown 触发的退出返回 nil。
func (a *Acceptor) Serve(ctx context.Context) error {
	if a.closing.Load() {
		return merr.WrapErrServiceClosed("acceptor")
	}
	if a.ln == nil {
		if err := a.Listen(); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = a.Shutdown()
	})
	defer stop()

	if a.wsServer != nil {
		conc.Go(func() (struct{}, error) {
			err := a.wsServer.Serve(a.wsLn)
			if err != nil && !errors.Is(err, http.ErrServerClosed) && !a.closing.Load() {
				a.Logger().Error("websocket server exited", zap.Error(err))
			}
			return struct{}{}, err
		})
	}

	err := a.acceptLoop(ctx)
	if a.closing.Load() {
		<-a.done
		return nil
	}
	return err
}

func (a *Acceptor) acceptLoop(ctx context.Context) error {
	var tempDelay time.Duration
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if a.closing.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				a.Logger().Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			a.Logger().Error("accept failed", network.StageAccept.Field(), zap.Error(err))
			return errors.Wrap(err, "accept")
		}
		tempDelay = 0
		a.spawn(ctx, conn, TransportTCP)
	}
}

func (a *Acceptor) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsconn.Upgrade(a.upgrader, w, r)
	if err != nil {
		a.Logger().RatedWarn(1, "websocket upgrade failed", log.FieldRemote(r.RemoteAddr), zap.Error(err))
		return
	}
	a.spawn(r.Context(), conn, TransportWebSocket)
}

// spawn 为连接创建会话并提交到协程池，池满时阻塞。
func (a *Acceptor) spawn(parent context.Context, conn net.Conn, transport string) {
	if a.closing.Load() {
		_ = conn.Close()
		return
	}

	id := a.nextID.Inc()
	remote := conn.RemoteAddr().String()
	metrics.AcceptedConnections.WithLabelValues(transport).Inc()

	// 会话生命周期不跟随 HTTP 请求。
	sessCtx, span := log.NewSessionContext(context.WithoutCancel(parent), tracerName, id, remote)
	sess := session.New(sessCtx, id, conn, a.cfg.Session)
	a.live.Insert(id, tracked{sess: sess, conn: conn})
	log.Ctx(sessCtx).Debug("connection accepted", zap.String("transport", transport))

	future := a.pool.Submit(func() (struct{}, error) {
		defer span.End()
		defer a.live.GetAndRemove(id)
		if a.closing.Load() {
			return struct{}{}, sess.Close()
		}
		err := sess.Serve()
		if err != nil {
			log.Ctx(sessCtx).Info("session closed", zap.String("username", sess.Username()), zap.Error(err))
		} else {
			log.Ctx(sessCtx).Debug("session closed", zap.String("username", sess.Username()))
		}
		return struct{}{}, err
	})

	if future.Done() && !future.OK() && errors.Is(future.Err(), merr.ErrServiceClosed) {
		// 协程池已释放，任务不会执行。
		a.live.GetAndRemove(id)
		span.End()
		_ = sess.Close()
		return
	}
	a.futures.Insert(id, future)
	a.pruneFutures()
}

// pruneFutures 移除已完成的 Future。
func (a *Acceptor) pruneFutures() {
	a.futures.Range(func(id int64, f *conc.Future[struct{}]) bool {
		if f.Done() {
			a.futures.GetAndRemove(id)
		}
		return true
	})
}

// LiveSessions 返回仍在运行的会话数量。
func (a *Acceptor) LiveSessions() int {
	return len(a.live.Values())
}

// Shutdown 按顺序停止接入层：
//  1. 停止接受新连接；
//  2. 关闭全部会话；
//  3. 在 ShutdownGrace 内等待 worker 退出；
//  4. 强制关闭仍未退出的连接；
//  5. 释放协程池与监听端口。
//
// 可并发、重复调用，后续调用等待第一次调用完成并返回相同结果。
func (a *Acceptor) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown()
		close(a.done)
	})
	return a.shutdownErr
}

func (a *Acceptor) shutdown() error {
	a.closing.Store(true)
	logger := a.Logger()
	logger.Info("acceptor shutting down", zap.Int("live", a.LiveSessions()), zap.Int("waiting", a.pool.Waiting()))

	// 1. 让阻塞中的 Accept 立即返回，端口在最后释放。
	if tl, ok := a.ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now())
	}
	if a.wsServer != nil {
		a.wsServer.SetKeepAlivesEnabled(false)
	}

	// 2.
	for _, t := range a.live.Values() {
		_ = t.sess.Close()
	}

	// 3.
	futures := a.futures.Values()
	drained := conc.Go(func() (struct{}, error) {
		_ = conc.AwaitAll(futures...)
		return struct{}{}, nil
	})
	select {
	case <-drained.Inner():
		logger.Info("all sessions drained")
	case <-time.After(a.cfg.ShutdownGrace):
		// 4.
		remaining := a.live.Values()
		logger.Warn("shutdown grace period elapsed, force closing connections", zap.Int("remaining", len(remaining)))
		for _, t := range remaining {
			_ = t.conn.Close()
		}
	}

	// 5. 连接已全部关闭，worker 应很快退出；超时只记录，不影响关闭结果。
	if err := a.pool.ReleaseTimeout(a.cfg.ShutdownGrace); err != nil {
		logger.Warn("release session pool timed out", zap.Int("running", a.pool.Running()), zap.Error(err))
	}
	var errs []error
	if a.wsServer != nil {
		if err := a.wsServer.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close websocket server"))
		}
	}
	if a.ln != nil {
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, errors.Wrap(err, "close listener"))
		}
	}
	logger.Info("acceptor stopped")
	return merr.Combine(errs...)
}
