package application

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/danmu-garden-chat/internal/network/acceptor"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/compressor"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/router"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/session"
	"github.com/lk2023060901/danmu-garden-chat/internal/store"
	"github.com/lk2023060901/danmu-garden-chat/internal/store/memory"
	"github.com/lk2023060901/danmu-garden-chat/internal/store/sqlstore"
	zlog "github.com/lk2023060901/danmu-garden-chat/pkg/log"
	"github.com/lk2023060901/danmu-garden-chat/pkg/metrics"
	zviper "github.com/lk2023060901/danmu-garden-chat/pkg/util/viper"
	"github.com/lk2023060901/danmu-garden-chat/pkg/version"
)

// Application 是聊天服务的运行时容器，负责加载配置、组装各组件并管理其生命周期。
type Application struct {
	cfg     *Config
	raw     *zviper.Config
	loggers map[string]*zlog.MLogger

	store    store.Store
	zstd     *compressor.ZstdCompressor
	registry *session.Registry
	router   *router.ChatRouter
	acceptor *acceptor.Acceptor

	metricsLn     net.Listener
	metricsServer *http.Server
}

func New() *Application {
	return &Application{}
}

// Run 是服务进程的入口：从 os.Args 与环境变量加载配置，初始化日志，
// 组装组件并运行直到 ctx 取消。
func (a *Application) Run(ctx context.Context) error {
	cfg, raw, err := LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	a.raw = raw

	if err := a.initLogging(); err != nil {
		return err
	}
	defer zlog.Cleanup()

	if err := a.Setup(ctx, cfg); err != nil {
		a.Close()
		return err
	}
	return a.Serve(ctx)
}

// Config 返回当前生效的配置。
func (a *Application) Config() *Config {
	return a.cfg
}

// Logger 返回配置中声明的模块 Logger，未声明时退回全局 Logger。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return zlog.Module(name)
}

// Addr 返回 TCP 接入地址，Setup 之前为 nil。
func (a *Application) Addr() net.Addr {
	if a.acceptor == nil {
		return nil
	}
	return a.acceptor.Addr()
}

// Setup 按配置创建存储、编解码器、注册表、路由与接入层，并绑定端口。
func (a *Application) Setup(ctx context.Context, cfg *Config) error {
	a.cfg = cfg
	logger := a.Logger("application")

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	a.store = st

	cdc, err := a.buildCodec(cfg.Codec)
	if err != nil {
		return err
	}

	a.registry = session.NewRegistry()
	a.router = router.New(a.registry, a.store)
	acc, err := acceptor.New(acceptor.Config{
		Addr:          cfg.Server.Addr,
		MaxSessions:   cfg.Server.MaxSessions,
		ShutdownGrace: cfg.Server.ShutdownGrace,
		WebSocketAddr: cfg.Server.WSAddr,
		WebSocketPath: cfg.Server.WSPath,
		Session: session.Config{
			Codec:        cdc,
			Registry:     a.registry,
			Dispatcher:   a.router,
			Auth:         a.store,
			Messages:     a.store,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	})
	if err != nil {
		return err
	}
	if err := acc.Listen(); err != nil {
		return err
	}
	a.acceptor = acc

	if cfg.Metrics.Addr != "" {
		if err := a.setupMetrics(cfg.Metrics.Addr); err != nil {
			return err
		}
	}

	logger.Info("chat server ready",
		zap.String("version", version.String()),
		zap.Stringer("addr", acc.Addr()),
		zap.String("store", cfg.Store.Driver),
		zap.String("serializer", cfg.Codec.Serializer),
		zap.Bool("compression", cfg.Codec.Compression))
	return nil
}

// Serve 运行接入层与指标服务，ctx 取消或任一组件失败时依次关闭全部组件。
func (a *Application) Serve(ctx context.Context) error {
	if a.acceptor == nil {
		return errors.New("application is not set up")
	}
	defer a.Close()
	logger := a.Logger("application")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.acceptor.Serve(gctx)
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			err := a.metricsServer.Serve(a.metricsLn)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errors.Wrap(err, "metrics server")
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down chat server")
		if a.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.metricsServer.Shutdown(shutdownCtx)
		}
		return a.acceptor.Shutdown()
	})

	err := g.Wait()
	if err != nil {
		logger.Error("chat server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("chat server stopped")
	return nil
}

// Close 释放存储与压缩器，可重复调用。
func (a *Application) Close() {
	if a.acceptor != nil {
		_ = a.acceptor.Shutdown()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger("application").Warn("close store failed", zap.Error(err))
		}
		a.store = nil
	}
	if a.zstd != nil {
		a.zstd.Close()
		a.zstd = nil
	}
}

func (a *Application) buildCodec(cfg CodecConfig) (codec.Codec, error) {
	ser, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	opts := codec.Options{
		Framer:            framer.NewLengthPrefixedFramer(cfg.MaxFrameSize),
		Serializer:        ser,
		EnableCompression: cfg.Compression,
	}
	if cfg.Compression {
		z, err := compressor.NewZstdCompressor(compressor.ZstdOptions{
			MinCompressSize: cfg.CompressMinSize,
			MaxDecodedSize:  uint64(cfg.MaxFrameSize),
		})
		if err != nil {
			return nil, err
		}
		a.zstd = z
		opts.Compressor = z
	}
	return codec.New(opts)
}

func (a *Application) setupMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	metrics.BuildInfo.WithLabelValues(version.String()).Set(1)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen metrics %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	a.metricsLn = ln
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return nil
}

// MetricsAddr 返回指标服务地址，未开启时为 nil。
func (a *Application) MetricsAddr() net.Addr {
	if a.metricsLn == nil {
		return nil
	}
	return a.metricsLn.Addr()
}

func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", store.DriverMemory:
		return memory.New(cfg.BcryptCost), nil
	case store.DriverSQLite, store.DriverPostgres:
		return sqlstore.Open(ctx, sqlstore.Config{
			Driver:     cfg.Driver,
			DSN:        cfg.DSN,
			BcryptCost: cfg.BcryptCost,
		})
	default:
		return nil, errors.Newf("unknown store driver %q", cfg.Driver)
	}
}

// initLogging 初始化全局 Logger 与模块 Logger。
func (a *Application) initLogging() error {
	if err := zlog.SetupGlobal(zlog.ConfigFromEnv()); err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	return a.initModuleLoggersFromConfig()
}

// initModuleLoggersFromConfig 按 logging 段为各模块创建独立的 Logger。
//
// 示例：
//
//	logging:
//	  router:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: router.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.raw == nil {
		return nil
	}
	raw := make(map[string]zlog.Config)
	if err := a.raw.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, err := zlog.InitModuleLogger(name, &cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = logger
	}
	return nil
}
