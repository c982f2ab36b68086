package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"gorm.io/gorm"

	"slack-review-assign/config"
	"slack-review-assign/handlers"
	"slack-review-assign/models"
	"slack-review-assign/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	store := services.NewGormStore(db)
	gate := services.NewWorkspaceGate(db)

	var notifier services.Notifier = services.NopNotifier{}
	var slackNotifier *services.SlackNotifier
	if cfg.Slack.BotToken != "" {
		var opts []slack.Option
		if cfg.Slack.APIURL != "" {
			opts = append(opts, slack.OptionAPIURL(cfg.Slack.APIURL))
		}
		slackNotifier = services.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Timeout, opts...)
		notifier = slackNotifier
	} else {
		log.Println("SLACK_BOT_TOKEN is not set, notifications are disabled")
	}

	engine := services.NewEngine(store, notifier, services.EngineConfig{
		ExcludeAllHolders: cfg.ReassignExcludeAllHolders,
	})
	scheduler := services.NewScheduler(store, notifier, gate, services.SchedulerConfig{
		Enabled:            cfg.Reminder.Enabled,
		Interval:           cfg.Reminder.Interval,
		FirstReminderAfter: cfg.Reminder.FirstReminderAfter,
		EscalateAfter:      cfg.Reminder.EscalateAfter,
		Cooldown:           cfg.Reminder.Cooldown,
		WorkspaceIDs:       cfg.Reminder.Workspaces,
		FallbackChannel:    cfg.Reminder.FallbackChannel,
	})

	githubClient, err := services.NewGitHubClient(cfg.GitHub.Token, cfg.GitHub.APIURL)
	if err != nil {
		log.Fatalf("failed to create github client: %v", err)
	}
	githubHandler := handlers.NewGitHubHandler(engine, githubClient, gate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	if slackNotifier != nil {
		go runChannelCleanup(ctx, db, slackNotifier, cfg.ChannelCleanupInterval)
	}

	r := gin.Default()
	r.POST("/webhook", handlers.HandleGitHubWebhook(engine, store, gate, cfg.GitHub.WebhookSecret))
	r.POST("/requests", githubHandler.HandleRegister)
	r.POST("/slack/actions", handlers.HandleSlackAction(engine, store, cfg.Slack.SigningSecret))
	r.POST("/slack/commands", handlers.HandleSlackCommand(db, cfg.Slack.SigningSecret))
	r.POST("/slack/events", handlers.HandleSlackEvents(db, cfg.Slack.SigningSecret))
	r.GET("/reviewers", handlers.HandleListReviewers(store))
	r.POST("/reviewers", handlers.HandleUpsertReviewer(store))
	r.PUT("/reviewers/:id/availability", handlers.HandleSetAvailability(store))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}

	// 実行中のスイープが終わるのを待つ
	scheduler.Stop()
	log.Println("server exited")
}

// runChannelCleanup はアーカイブされたチャンネルの設定を定期的に無効化する
func runChannelCleanup(ctx context.Context, db *gorm.DB, inspector services.ChannelInspector, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := services.CleanupArchivedChannels(ctx, db, inspector); n > 0 {
				log.Printf("deactivated %d archived channel configs", n)
			}
		}
	}
}
