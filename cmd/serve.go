package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawtalk/internal/affinity"
	"github.com/nextlevelbuilder/clawtalk/internal/config"
	"github.com/nextlevelbuilder/clawtalk/internal/httpapi"
	"github.com/nextlevelbuilder/clawtalk/internal/jobs"
	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
	"github.com/nextlevelbuilder/clawtalk/internal/routing"
	"github.com/nextlevelbuilder/clawtalk/internal/slackgw"
	"github.com/nextlevelbuilder/clawtalk/internal/slackout"
	"github.com/nextlevelbuilder/clawtalk/internal/talks"
	"github.com/nextlevelbuilder/clawtalk/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: Slack proxy, ingress API, and job scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, err := talks.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open talk store", "error", err)
		os.Exit(1)
	}
	slog.Info("talk store opened", "data_dir", cfg.DataDir, "talks", len(store.List()))

	// Reconcile the host's routing table at startup so every write-bound
	// Talk has its managed agent before the first event arrives.
	if res, err := openclaw.Reconcile(store, cfg.Host.ConfigPath, cfg.Host.DefaultModel); err != nil {
		slog.Warn("host config reconcile failed", "path", cfg.Host.ConfigPath, "error", err)
	} else if res.Written {
		slog.Info("host config reconciled",
			"bindings", res.DesiredRows, "agents", res.ManagedAgents, "dropped", res.DroppedRows)
	}

	aff := affinity.Open(cfg.DataDir, affinityConfig(cfg))
	host := openclaw.NewClient(cfg.Host.BaseURL)
	sender := slackout.NewSender(cfg.Slack.BotTokens)

	exec := jobs.NewExecutor(store, aff, host, sender)
	exec.SetTimeouts(
		time.Duration(cfg.Jobs.BaseTimeoutMillis)*time.Millisecond,
		time.Duration(cfg.Jobs.MinTimeoutMillis)*time.Millisecond,
	)
	scheduler := jobs.NewScheduler(store, exec)

	debounce := time.Duration(cfg.Jobs.EventDebounceMillis) * time.Millisecond
	dispatcher := jobs.NewDispatcher(store, exec, debounce, func(ctx context.Context, talkID string, binding talks.Binding, output string) {
		_, id, ok := openclaw.ParsePeerScope(binding.Scope)
		if !ok {
			return
		}
		if err := sender.Send(ctx, binding.AccountID, id, "", output); err != nil {
			slog.Warn("event job reply failed", "talk_id", talkID, "error", err)
		}
	})

	dedup := routing.NewDedupTable(0)
	ingress := slackgw.NewIngress(store, dedup)
	ingress.SetMessageHook(func(ev routing.Event) {
		dispatcher.HandleMessageReceived(ctx, jobs.MessageEvent{
			Scope:   "channel:" + ev.ChannelID,
			From:    ev.UserID,
			Content: ev.Text,
		}, jobs.HookContext{ChannelID: "slack"})
	})

	hostCfg, err := openclaw.LoadHostConfig(cfg.Host.ConfigPath)
	if err != nil {
		slog.Warn("host config unreadable, slack verification limited to env secrets",
			"path", cfg.Host.ConfigPath, "error", err)
	}
	proxy := slackgw.NewProxy(ingress, hostCfg, cfg.Host.WebhookURL)
	api := httpapi.New(store, ingress)

	mux := http.NewServeMux()
	proxy.Routes(mux)
	api.Routes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("gateway listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		if err := scheduler.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		dispatcher.RunCleanup(gctx)
		return nil
	})
	g.Go(func() error {
		err := openclaw.WatchHostConfig(gctx, store, cfg.Host.ConfigPath, nil)
		if err != nil && gctx.Err() == nil {
			slog.Warn("host config watcher stopped", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

func affinityConfig(cfg *config.Config) affinity.Config {
	ac := affinity.DefaultConfig()
	if cfg.Affinity.Disabled {
		ac.Enabled = false
	}
	if cfg.Affinity.Window > 0 {
		ac.WindowSize = cfg.Affinity.Window
	}
	if cfg.Affinity.Warmup > 0 {
		ac.WarmupThreshold = cfg.Affinity.Warmup
	}
	if cfg.Affinity.ExplorationRate > 0 {
		ac.ExplorationRate = cfg.Affinity.ExplorationRate
	}
	if cfg.Affinity.MinThreshold > 0 {
		ac.MinThreshold = cfg.Affinity.MinThreshold
	}
	return ac.ApplyEnv()
}
