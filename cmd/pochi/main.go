// pochi is a chat-driven agent orchestrator: it bridges a chat workspace
// (Telegram forum or Discord server) to coding engines running as
// subprocesses, one topic per project folder.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/api"
	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/common/config"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/events/bus"
	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/outbox"
	"github.com/pochihq/pochi/internal/plugin"
	"github.com/pochihq/pochi/internal/presenter"
	"github.com/pochihq/pochi/internal/router"
	"github.com/pochihq/pochi/internal/runner"
	"github.com/pochihq/pochi/internal/scheduler"
	"github.com/pochihq/pochi/internal/transport/discord"
	"github.com/pochihq/pochi/internal/transport/telegram"
	"github.com/pochihq/pochi/internal/workspace"
	"github.com/pochihq/pochi/internal/worktree"
)

const shutdownGrace = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		return 1
	}
	logger.SetDefault(log)
	defer log.Sync()

	root := cfg.Workspace
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			log.Error("resolve working directory", zap.Error(err))
			return 1
		}
		root, err = workspace.Discover(cwd)
		if err != nil {
			log.Error("discover workspace", zap.Error(err))
			return 1
		}
	}

	manager, err := workspace.NewManager(root, log)
	if err != nil {
		log.Error("load workspace", zap.Error(err))
		return 1
	}
	wsCfg := manager.Config()
	log.Info("workspace loaded",
		zap.String("root", root),
		zap.String("name", wsCfg.Workspace.Name),
		zap.Int("folders", len(wsCfg.Folders)))

	rt, err := buildRouter(wsCfg, log)
	if err != nil {
		log.Error("build engine router", zap.Error(err))
		return 1
	}

	transportID := wsCfg.Workspace.DefaultTransport
	if transportID == "" {
		transportID = "telegram"
	}
	provider, listener, err := buildTransport(transportID, wsCfg, log)
	if err != nil {
		log.Error("build transport", zap.String("transport", transportID), zap.Error(err))
		return 1
	}

	eventBus, err := buildBus(cfg.NATSURL, log)
	if err != nil {
		log.Error("connect event bus", zap.Error(err))
		return 1
	}
	defer eventBus.Close()

	ob := outbox.New(log, intervalFor(provider.Platform()))
	sched := scheduler.New(log)
	sender := workspace.NewSender(provider, ob)
	locks := runner.NewSessionLocks()
	worktrees := worktree.NewManager(log)
	ralph := workspace.NewRalphManager(log, eventBus)

	bridge := workspace.NewBridge(workspace.BridgeDeps{
		Log:               log,
		Manager:           manager,
		Router:            rt,
		Scheduler:         sched,
		Sender:            sender,
		Presenter:         presenterFor(provider.Platform()),
		Worktrees:         worktrees,
		Locks:             locks,
		Ralph:             ralph,
		Bus:               eventBus,
		CreateTopic:       topicCreator(provider),
		Markup:            markupFor(provider.Platform()),
		DebounceWindow:    cfg.DebounceWindow,
		ProgressEditEvery: cfg.ProgressEditEvery,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var apiServer *api.Server
	if cfg.APIEnabled {
		apiServer = api.New(api.Deps{
			Log:          log,
			Workspace:    manager.Config,
			Runs:         bridge.Runs,
			Engines:      engineNames(rt),
			BusConnected: eventBus.IsConnected,
		})
		go func() {
			if err := apiServer.Start(cfg.APIAddr); err != nil {
				log.Error("status api stopped", zap.Error(err))
			}
		}()
	}

	updates := make(chan chat.Update, 64)
	go func() {
		if err := listener.Listen(ctx, updates); err != nil && ctx.Err() == nil {
			log.Error("transport listener stopped", zap.Error(err))
			cancel()
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	var got os.Signal
	go func() {
		got = <-sigs
		log.Info("shutting down", zap.String("signal", got.String()))
		cancel()
	}()

	bridge.Run(ctx, updates)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer drainCancel()
	if err := sched.Shutdown(drainCtx); err != nil {
		log.Warn("scheduler drain timed out", zap.Error(err))
	}
	if err := ob.Flush(drainCtx); err != nil {
		log.Warn("outbox flush timed out", zap.Error(err))
	}
	ob.Close()
	if apiServer != nil {
		if err := apiServer.Shutdown(drainCtx); err != nil {
			log.Warn("api shutdown", zap.Error(err))
		}
	}

	if got == syscall.SIGINT {
		return 130
	}
	return 0
}

// buildRouter loads every registered engine plugin and wires the ones
// that build cleanly.
func buildRouter(wsCfg *workspace.Config, log *logger.Logger) (*router.AutoRouter, error) {
	engines, failed := plugin.LoadAllEngines()
	for name, err := range failed {
		log.Warn("engine plugin failed to load", zap.String("engine", name), zap.Error(err))
	}

	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)

	runners := make([]runner.Runner, 0, len(engines))
	for _, name := range names {
		e := engines[name]
		r, err := e.BuildRunner(wsCfg.Plugins[name])
		if err != nil {
			log.Warn("engine runner not built", zap.String("engine", name), zap.Error(err))
			continue
		}
		runners = append(runners, r)
	}
	return router.New(model.EngineID(wsCfg.Workspace.DefaultEngine), runners...)
}

// buildTransport resolves the transport plugin and its config. The
// [telegram] table backs the telegram transport when no [transports]
// entry overrides it.
func buildTransport(id string, wsCfg *workspace.Config, log *logger.Logger) (chat.Provider, chat.Listener, error) {
	backend, err := plugin.LoadTransport(id)
	if err != nil {
		return nil, nil, err
	}

	tcfg := wsCfg.Transports[id]
	if tcfg == nil && id == "telegram" {
		tcfg = map[string]any{"bot_token": wsCfg.Telegram.BotToken}
	}
	if err := backend.CheckSetup(tcfg); err != nil {
		return nil, nil, err
	}
	if tok := backend.LockToken(tcfg); tok != "" {
		logger.RegisterSecret(tok)
	}
	return backend.Build(tcfg, log)
}

func buildBus(natsURL string, log *logger.Logger) (bus.EventBus, error) {
	if natsURL == "" {
		return bus.NewMemoryBus(log), nil
	}
	return bus.NewNATSBus(natsURL, "pochi", log)
}

func intervalFor(platform chat.Platform) outbox.IntervalFunc {
	if platform == chat.PlatformDiscord {
		return discord.SendInterval
	}
	return telegram.IntervalFor
}

func markupFor(platform chat.Platform) string {
	if platform == chat.PlatformTelegram {
		return telegram.ParseMode
	}
	return ""
}

func presenterFor(platform chat.Platform) presenter.Presenter {
	if platform == chat.PlatformDiscord {
		return discord.Presenter{}
	}
	return telegram.Presenter{}
}

// topicCreator adapts platform-specific topic creation for the bridge.
func topicCreator(provider chat.Provider) func(context.Context, int64, string) (int64, error) {
	switch p := provider.(type) {
	case *telegram.Client:
		return p.CreateForumTopic
	case *discord.Client:
		return p.StartThread
	default:
		return nil
	}
}

func engineNames(rt *router.AutoRouter) func() []string {
	return func() []string {
		ids := rt.Engines()
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = string(id)
		}
		return out
	}
}
