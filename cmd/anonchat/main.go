// anonchat - anonymous random-chat bot for Telegram
// License: MIT

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonchat-bot/anonchat/pkg/bus"
	"github.com/anonchat-bot/anonchat/pkg/chat"
	"github.com/anonchat-bot/anonchat/pkg/config"
	"github.com/anonchat-bot/anonchat/pkg/dispatch"
	"github.com/anonchat-bot/anonchat/pkg/logger"
	"github.com/anonchat-bot/anonchat/pkg/maintenance"
	"github.com/anonchat-bot/anonchat/pkg/sequencer"
	"github.com/anonchat-bot/anonchat/pkg/spam"
	"github.com/anonchat-bot/anonchat/pkg/store"
	"github.com/anonchat-bot/anonchat/pkg/telegram"
)

func main() {
	if err := run(); err != nil {
		logger.ErrorCF("main", "exiting on fatal error", map[string]interface{}{
			"error": err.Error(),
		})
		// Non-zero exit so the supervisor restarts us; crash-only recovery.
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)
	if len(cfg.AdminIDs) == 0 {
		logger.WarnC("main", "no ADMIN_IDS set, admin commands are disabled")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := telegram.NewClient(cfg.BotToken, cfg.PollLimit)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Hello(startCtx); err != nil {
		return err
	}
	if err := client.DeleteWebhook(startCtx); err != nil {
		logger.WarnCF("main", "failed to delete webhook before polling", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out := bus.NewQueue(cfg.OutboundBuffer)
	limiter := spam.NewLimiter(cfg.MaxMessagesPerMinute, cfg.CommandCooldown)
	bot := chat.NewBot(st, out, limiter, cfg)

	pool := dispatch.NewPool(cfg.PoolSize, cfg.HandlerTimeout)
	dispatcher := dispatch.NewDispatcher(pool, cfg.LaneBuffer)
	bot.Register(dispatcher)

	seq := sequencer.New(cfg.DedupWindow)
	backoff := telegram.NewBackoff(cfg.BackoffBase, cfg.BackoffCeiling, cfg.MaxConsecutiveFailures)
	poller := telegram.NewPoller(client, seq, dispatcher, backoff, cfg.PollTimeoutSeconds)

	sender := telegram.NewSender(client, out)
	senderDone := make(chan struct{})
	go func() {
		sender.Run()
		close(senderDone)
	}()

	sweeper, err := maintenance.NewSweeper(st, cfg.SweepCron, cfg.QueueStaleAfter, cfg.ReportTTL)
	if err != nil {
		return err
	}
	go sweeper.Run(ctx)

	pollErr := poller.Run(ctx)

	// Shutdown: finish queued handlers, flush outbound, report the cursor.
	dispatcher.Drain(cfg.ShutdownGrace)
	out.Close()
	<-senderDone

	stats := dispatcher.Stats()
	logger.InfoCF("main", "shutdown complete", map[string]interface{}{
		"cursor":      poller.Cursor(),
		"success":     stats.Success,
		"recoverable": stats.Recoverable,
		"fatal":       stats.Fatal,
		"unrouted":    stats.Unrouted,
	})

	if pollErr != nil && !errors.Is(pollErr, context.Canceled) {
		return pollErr
	}
	return nil
}
