package main

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/DGGua/oicq/internal/action"
	"github.com/DGGua/oicq/internal/bus"
	"github.com/DGGua/oicq/internal/config"
	"github.com/DGGua/oicq/internal/console"
	"github.com/DGGua/oicq/internal/dispatch"
	"github.com/DGGua/oicq/internal/gateway"
	"github.com/DGGua/oicq/internal/heartbeat"
	"github.com/DGGua/oicq/internal/onebot"
	"github.com/DGGua/oicq/internal/session"
	"github.com/DGGua/oicq/internal/store"
	"github.com/DGGua/oicq/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := isatty.IsTerminal(os.Stdout.Fd())

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Quiet logs (file-only) in interactive mode so the console stays clean.
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	db, err := store.Open(filepath.Join(cfg.HomeDir, "gateway.db"))
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer db.Close()

	device, err := db.Device(ctx, cfg.Account)
	if err != nil {
		fatalStartup(logger, "E_STORE_DEVICE", err)
	}
	logger.Info("device ready", "account", cfg.Account, "device_id", device)

	eventBus := bus.New()
	sess := session.NewTelegram(cfg.Telegram.Token, cfg.Telegram.AllowedIDs, eventBus, logger)

	dispatcher := dispatch.New(dispatch.Config{
		PostURL: cfg.PostURL,
		Secret:  cfg.Secret,
		Timeout: cfg.PostTimeout(),
		SelfID:  sess.AccountID,
		Logger:  logger,
	})
	pipeline := action.NewPipeline(action.NewRegistry(sess), action.NewQueue(cfg.RatePace()), logger)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		fatalStartup(logger, "E_LISTEN_BIND", err)
	}
	httpServer := &http.Server{
		Handler: gateway.New(cfg, pipeline, dispatcher, sess.AccountID, logger).Handler(),
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()
	logger.Info("gateway listening", "addr", cfg.Addr(), "use_http", cfg.UseHTTP, "use_ws", cfg.UseWS)

	reverse := gateway.NewReverseManager(cfg, pipeline, dispatcher, sess.AccountID, logger)

	sub := eventBus.Subscribe(bus.TopicEventPrefix)
	defer eventBus.Unsubscribe(sub)
	go pumpEvents(ctx, cfg, sub, dispatcher, reverse)

	emitter := heartbeat.New(dispatcher, sess.AccountID, cfg.HeartbeatPace(), logger)
	if cfg.EnableHeartbeat && (cfg.UseWS || len(cfg.WSReverseURL) > 0) {
		emitter.Start()
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	}

	if err := sess.Login(loginDigest(ctx, db, cfg, logger)); err != nil {
		fatalStartup(logger, "E_SESSION_LOGIN", err)
	}

	if interactive {
		go func() {
			console.Run(ctx, sess, logger, os.Stdin, os.Stdout)
			stop()
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	emitter.Stop()
	if err := sess.Logout(); err != nil && !errors.Is(err, session.ErrOffline) {
		logger.Warn("logout", "error", err)
	}
}

// pumpEvents moves session events from the bus to the dispatcher, applying
// the configured message format on the way. The reverse sockets are dialed
// on the session's first enable event, once a self id exists to announce.
func pumpEvents(ctx context.Context, cfg config.Config, sub *bus.Subscription, dispatcher *dispatch.Dispatcher, reverse *gateway.ReverseManager) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			switch payload := ev.Payload.(type) {
			case *onebot.MetaEvent:
				if payload.MetaEventType == onebot.MetaLifecycle &&
					payload.SubType == onebot.LifecycleEnable &&
					len(cfg.WSReverseURL) > 0 {
					reverse.Start(ctx)
				}
			case *onebot.MessageEvent:
				onebot.ApplyMessageFormat(payload, cfg.PostMessageFormat)
			}
			dispatcher.Dispatch(ev.Payload)
		}
	}
}

// loginDigest loads the stored password digest for the configured account,
// seeding the store from the bot token on first run. The Telegram transport
// ignores the digest and authenticates with its token.
func loginDigest(ctx context.Context, db *store.Store, cfg config.Config, logger *slog.Logger) []byte {
	digest, err := db.LoadPassword(ctx, cfg.Account)
	if err == nil {
		return digest
	}
	if !errors.Is(err, store.ErrNoCredential) {
		fatalStartup(logger, "E_STORE_READ", err)
	}

	sum := md5.Sum([]byte(cfg.Telegram.Token))
	if err := db.SavePassword(ctx, cfg.Account, sum[:]); err != nil {
		logger.Warn("credential save failed", "error", err)
	}
	return sum[:]
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"gateway","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
