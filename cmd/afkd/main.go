package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/afkbridge/afkd/internal/afk"
	"github.com/afkbridge/afkd/internal/chattransport"
	"github.com/afkbridge/afkd/internal/config"
	"github.com/afkbridge/afkd/internal/control"
	"github.com/afkbridge/afkd/internal/hookrendezvous"
	"github.com/afkbridge/afkd/internal/inject"
	"github.com/afkbridge/afkd/internal/introspect"
	"github.com/afkbridge/afkd/internal/permcache"
	"github.com/afkbridge/afkd/internal/presenter"
	"github.com/afkbridge/afkd/internal/queue"
	"github.com/afkbridge/afkd/internal/redact"
	"github.com/afkbridge/afkd/internal/router"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "afkd",
		Short: "Forwards a terminal assistant's prompts to a chat service while you're away",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("chat-bot-token", "", "chat service bot token")
	f.Int64("chat-id", 0, "chat service destination chat id")
	f.String("hook-socket-path", "/tmp/afkd/hook.sock", "hook rendezvous unix socket path")
	f.String("control-socket-path", "/tmp/afkd/control.sock", "control plane unix socket path")
	f.String("response-dir", "/tmp/afkd/responses", "directory for hook sentinel response files")
	f.String("multiplexer-bin", "", "tmux binary name or path (default: tmux on PATH)")
	f.String("device-inject-script", "", "path to a scripted keystroke injector for non-multiplexer sessions")
	f.Int("max-consecutive-poll-errors", 0, "consecutive chat-transport poll errors before giving up (default: 5)")
	f.Duration("poll-backoff-cap", 0, "cap on poll-error backoff (default: 30s)")
	f.String("permcache-db-path", "", "path to the permission rule cache database (empty disables the cache)")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("chat_bot_token", "chat-bot-token")
	bindFlag("chat_id", "chat-id")
	bindFlag("hook_socket_path", "hook-socket-path")
	bindFlag("control_socket_path", "control-socket-path")
	bindFlag("response_dir", "response-dir")
	bindFlag("multiplexer_bin", "multiplexer-bin")
	bindFlag("device_inject_script", "device-inject-script")
	bindFlag("max_consecutive_poll_errors", "max-consecutive-poll-errors")
	bindFlag("poll_backoff_cap", "poll-backoff-cap")
	bindFlag("permcache_db_path", "permcache-db-path")

	viper.SetEnvPrefix("AFKD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.ChatBotToken == "" || cfg.ChatID == 0 {
		return fmt.Errorf("afkd: --chat-bot-token and --chat-id (or AFKD_CHAT_BOT_TOKEN / AFKD_CHAT_ID) are required")
	}

	transport, err := chattransport.NewWithLimits(cfg.ChatBotToken, cfg.ChatID, cfg.MaxConsecutivePolls, cfg.PollBackoffCap)
	if err != nil {
		return fmt.Errorf("afkd: chat transport: %w", err)
	}
	if err := transport.Verify(context.Background()); err != nil {
		return fmt.Errorf("afkd: chat transport verify: %w", err)
	}

	var cache *permcache.Cache
	if cfg.PermCacheDBPath != "" {
		cache, err = permcache.Open(cfg.PermCacheDBPath)
		if err != nil {
			return fmt.Errorf("afkd: permission rule cache: %w", err)
		}
		defer cache.Close() //nolint:errcheck
	}

	mux := inject.NewTmuxMultiplexer(cfg.MultiplexerBin)
	var dev inject.DeviceInjector
	if cfg.DeviceInjectScript != "" {
		dev = &inject.ScriptedDeviceInjector{ScriptPath: cfg.DeviceInjectScript}
	}
	injector := inject.New(mux, dev)

	q := queue.New()
	hub := control.NewEventHub()

	mgr := afk.New(afk.Config{
		Transport:   transport,
		Presenter:   presenter.New(),
		Router:      router.New(q),
		Queue:       q,
		Injector:    injector,
		Multiplexer: mux,
		PermCache:   cache,
		Redactor:    redact.NewFilter(),
		Hub:         hub,
		ResponseDir: cfg.ResponseDir,
	})

	hookServer, err := hookrendezvous.NewServer(cfg.HookSocketPath, mgr)
	if err != nil {
		return fmt.Errorf("afkd: hook rendezvous server: %w", err)
	}
	controlServer, err := control.NewServer(cfg.ControlSocketPath, mgr, hub)
	if err != nil {
		return fmt.Errorf("afkd: control plane server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.StartListening(ctx); err != nil {
		return fmt.Errorf("afkd: start listening: %w", err)
	}

	go func() {
		if err := hookServer.Serve(); err != nil {
			log.Printf("afkd: hook rendezvous server error: %v", err)
		}
	}()
	go func() {
		if err := controlServer.Serve(); err != nil {
			log.Printf("afkd: control plane server error: %v", err)
		}
	}()

	introspectServer := introspect.NewServer(mgr)
	go func() {
		if err := introspectServer.Run(ctx); err != nil {
			log.Printf("afkd: introspection server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Printf("afkd: received %s, shutting down...", sig)
	case <-mgr.Done():
		log.Printf("afkd: shutdown requested via control plane")
	}

	cancel()
	mgr.StopListening()
	if err := hookServer.Close(); err != nil {
		log.Printf("afkd: hook rendezvous server close: %v", err)
	}
	if err := controlServer.Close(); err != nil {
		log.Printf("afkd: control plane server close: %v", err)
	}
	transport.Stop()

	return nil
}
