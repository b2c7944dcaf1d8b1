package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/dgramfs/internal/env"
	"github.com/luma/dgramfs/internal/metrics"
	"github.com/luma/dgramfs/protocol"
	"github.com/luma/dgramfs/storage"
	"github.com/luma/dgramfs/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for udp clients on
	port int

	semantics   string
	storageKind string
	storageDir  string
	snapshot    string
	seed        bool
	dropRate    float64
	trace       bool
)

func init() {
	flags := ServerCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 2222, "The port to listen for client requests on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on, empty disables HTTP")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.StringVarP(&semantics, "semantics", "s", string(protocol.AtMostOnce), "Invocation semantics, at-most-once or at-least-once")
	flags.StringVar(&storageKind, "storage", "memory", "Where files are kept: memory, disk or s3")
	flags.StringVar(&storageDir, "storage-dir", "data", "The directory files are kept in when --storage=disk")
	flags.StringVar(&snapshot, "snapshot", "", "A JSON snapshot to restore from on start and save to on shutdown")
	flags.BoolVar(&seed, "seed", true, "Create the default files if they do not exist")
	flags.Float64Var(&dropRate, "drop-rate", 0, "Probability of dropping each outgoing datagram")
	flags.BoolVar(&trace, "trace", false, "Log every datagram")
}

var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start up the dgramfs file server",
	Long: `Start up the dgramfs file server

Usage
	dgramfs server --port 2222 --semantics at-most-once

Flags override the DGRAMFS_* environment variables.
`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}

		defer log.Sync() //nolint:errcheck

		flags := cmd.Flags()
		if !flags.Changed("semantics") {
			semantics = conf.Semantics
		}

		if !flags.Changed("storage") {
			storageKind = conf.Storage
		}

		if !flags.Changed("storage-dir") {
			storageDir = conf.StorageDir
		}

		if !flags.Changed("drop-rate") {
			dropRate = conf.DropRate
		}

		sem, err := protocol.ParseSemantics(semantics)
		if err != nil {
			return err
		}

		store, err := openStore(ctx, storageKind, storageDir, conf.S3)
		if err != nil {
			return err
		}

		if err := prepareStore(ctx, store, log); err != nil {
			return err
		}

		udp := transport.NewUDP(transport.Options{
			Host:          host,
			Port:          port,
			Semantics:     sem,
			DropRate:      dropRate,
			Retention:     conf.HistoryRetention,
			SweepInterval: conf.HistorySweep,
			Trace:         trace,
			Store:         store,
			Log:           log.Named("transport"),
		})

		if err := udp.Start(ctx); err != nil {
			return err
		}

		var s *http.Server
		if httpPort != "" {
			s = &http.Server{
				Addr:    net.JoinHostPort(host, httpPort),
				Handler: setupRouter(conf.DebugHTTP, udp, log.Named("http")),
			}

			// Initializing the server in a goroutine so that
			// it won't block the graceful shutdown handling below
			go func() {
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Http server errored", zap.Error(err))
				}
			}()
		}

		log.Info("Listening",
			zap.Stringer("addr", udp.Addr()),
			zap.String("semantics", string(sem)),
			zap.String("storage", storageKind),
			zap.Float64("dropRate", dropRate),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if s != nil {
			s.SetKeepAlivesEnabled(false)

			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		if err := udp.Close(); err != nil {
			log.Error("UDP server forced to shutdown", zap.Error(err))
		}

		if snapshot != "" {
			if err := saveSnapshot(shutdownCtx, store, snapshot); err != nil {
				log.Error("Failed to save snapshot", zap.String("path", snapshot), zap.Error(err))
			} else {
				log.Info("Saved snapshot", zap.String("path", snapshot))
			}
		}

		if err := store.Close(); err != nil {
			log.Error("Store did not close cleanly", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func openStore(ctx context.Context, kind, dir string, s3 env.S3Config) (storage.Store, error) {
	switch kind {
	case "memory":
		return storage.NewInmemoryStore(), nil

	case "disk":
		return storage.NewDiskStore(dir)

	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  s3.Endpoint,
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Region:    s3.Region,
		})
	}

	return nil, fmt.Errorf("unknown storage %q, expected memory, disk or s3", kind)
}

// prepareStore restores the snapshot, if there is one, and then seeds any
// default files that are still missing.
func prepareStore(ctx context.Context, store storage.Store, log *zap.Logger) error {
	if snapshot != "" {
		values, err := os.ReadFile(snapshot)
		switch {
		case err == nil:
			n, _, err := storage.Restore(ctx, store, values, time.Now())
			if err != nil {
				return fmt.Errorf("Failed to restore %s: %w", snapshot, err)
			}

			log.Info("Restored snapshot", zap.String("path", snapshot), zap.Int("files", n))

		case errors.Is(err, os.ErrNotExist):
			log.Info("No snapshot to restore yet", zap.String("path", snapshot))

		default:
			return err
		}
	}

	if seed {
		n, err := storage.Seed(ctx, store, storage.DefaultSeed, time.Now())
		if err != nil {
			return fmt.Errorf("Failed to seed files: %w", err)
		}

		log.Info("Seeded files", zap.Int("created", n))
	}

	return nil
}

func saveSnapshot(ctx context.Context, store storage.Store, path string) error {
	values, err := storage.Backup(ctx, store)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, values, 0o640); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func setupRouter(debugHTTP bool, udp *transport.UDP, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/stats", func(c *gin.Context) {
		stats, err := serverStats(c.Request.Context(), udp)
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck
			return
		}

		c.Data(http.StatusOK, "application/json", stats)
	})

	r.GET("/files", func(c *gin.Context) {
		values, err := storage.Backup(c.Request.Context(), udp.Store())
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck
			return
		}

		c.Data(http.StatusOK, "application/json", values)
	})

	r.PUT("/files", func(c *gin.Context) {
		values, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithError(http.StatusBadRequest, err) //nolint:errcheck
			return
		}

		n, changed, err := storage.Restore(c.Request.Context(), udp.Store(), values, time.Now())

		// Files changed before a failure still reach their subscribers
		notified := notifyChanged(udp, changed, log)

		if errors.Is(err, storage.ErrInvalidSnapshot) {
			c.String(http.StatusBadRequest, err.Error())
			return
		}

		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck
			return
		}

		c.JSON(http.StatusOK, gin.H{"restored": n, "changed": len(changed), "notified": notified})
	})

	return r
}

// notifyChanged pushes each record to the file's subscribers and returns how
// many updates were sent.
func notifyChanged(udp *transport.UDP, records []*protocol.FileRecord, log *zap.Logger) int {
	notified := 0
	for _, record := range records {
		n, err := udp.Subscriptions().Notify(record)
		if err != nil {
			log.Warn("Failed to notify subscribers", zap.String("file", record.Name), zap.Error(err))
		}

		notified += n
	}

	return notified
}

func serverStats(ctx context.Context, udp *transport.UDP) ([]byte, error) {
	files, err := udp.Store().List(ctx)
	if err != nil {
		return nil, err
	}

	stats := []byte("{}")
	for _, field := range []struct {
		path  string
		value interface{}
	}{
		{"semantics", string(udp.Semantics())},
		{"addr", udp.Addr().String()},
		{"files", len(files)},
		{"history.entries", udp.History().Len()},
		{"subscriptions.total", udp.Subscriptions().Count()},
	} {
		if stats, err = sjson.SetBytes(stats, field.path, field.value); err != nil {
			return nil, err
		}
	}

	return stats, nil
}
