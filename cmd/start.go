package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/velocystream/internal/env"
	"github.com/luma/velocystream/storage"
	"github.com/luma/velocystream/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for VelocyStream clients on
	port int

	// tcp or unix
	network string

	// The unix socket to listen on with --network unix
	socketPath string

	// Log every chunk header
	trace bool
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 7363, "The port to listen client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.StringVar(&network, "network", "tcp", "tcp or unix")
	flags.StringVar(&socketPath, "socket", "/tmp/vst.sock", "The unix socket path, with --network unix")
	flags.BoolVar(&trace, "trace", false, "Log every chunk header at debug level")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the VelocyStream server",
	Long: `Start up the VelocyStream server

Usage
	vst start
	vst start --network unix --socket /tmp/vst.sock

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx, configFile)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		version, err := conf.ProtocolVersion()
		if err != nil {
			return err
		}

		store := storage.NewInmemoryStore()
		defer store.Close()

		tcp := transport.NewTCP(transport.Options{
			Network:       network,
			Host:          host,
			Port:          port,
			SocketPath:    socketPath,
			Reuseport:     network == "tcp",
			Trace:         trace,
			Version:       version,
			MaxChunkBytes: conf.MaxChunkBytes,
			Limits:        conf.Limits(),
			IdleTimeout:   conf.IdleTimeout.Duration,
			Handler:       transport.NewDocumentHandler(store, log.Named("handler")),
			Log:           log.Named("transport"),
		})

		if network == "unix" {
			// A socket left behind by an unclean exit blocks the bind
			if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
				return err
			}
		}

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		httpServer := serveDebugHTTP(conf.DebugHTTP, tcp, log.Named("http"))

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("network", network),
			zap.Strings("addrs", addrStrings(tcp.Addrs())),
			zap.String("httpPort", httpPort))

		<-ctx.Done()

		// A second signal now kills the process
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		if err := shutdown(httpServer, tcp); err != nil {
			log.Error("Shutdown was not clean", zap.Error(err))
		}

		log.Info("Exiting", zap.Any("stats", tcp.Stats()))
		return nil
	},
}

// serveDebugHTTP serves /ping and /stats in the background.
func serveDebugHTTP(debugHTTP bool, tcp *transport.TCP, log *zap.Logger) *http.Server {
	router := setupRouter(debugHTTP, log)

	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, tcp.Stats())
	})

	s := &http.Server{
		Addr:    net.JoinHostPort(host, httpPort),
		Handler: router,
	}

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Http server errored", zap.Error(err))
		}
	}()

	return s
}

// shutdown gives in-flight HTTP requests 5 seconds, then drops every
// VelocyStream connection.
func shutdown(httpServer *http.Server, tcp *transport.TCP) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	httpServer.SetKeepAlivesEnabled(false)

	return multierr.Combine(
		httpServer.Shutdown(ctx),
		tcp.Close(),
	)
}

func addrStrings(addrs []net.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}

	return out
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(ginzap.GinzapWithConfig(log.Named("http"), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Panics are logged with their stack
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
