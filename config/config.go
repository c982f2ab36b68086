package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config は環境変数から読み込むアプリケーション設定
type Config struct {
	Port     string
	Database DatabaseConfig
	Slack    SlackConfig
	GitHub   GitHubConfig
	Reminder ReminderConfig

	// 再アサイン時に現在の担当者全員を候補から外す
	ReassignExcludeAllHolders bool
	// アーカイブされたチャンネルの設定を無効化する間隔
	ChannelCleanupInterval time.Duration
}

type DatabaseConfig struct {
	Driver string // sqlite | postgres
	DSN    string
}

type SlackConfig struct {
	BotToken      string
	SigningSecret string
	APIURL        string
	Timeout       time.Duration
}

type GitHubConfig struct {
	Token         string
	APIURL        string
	WebhookSecret string
}

type ReminderConfig struct {
	Enabled            bool
	Interval           time.Duration
	FirstReminderAfter time.Duration
	EscalateAfter      time.Duration
	Cooldown           time.Duration
	Workspaces         []string
	FallbackChannel    string
}

// Load は .env (あれば) と環境変数から設定を読み込む
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			DSN:    getEnv("DB_DSN", "review_assign.db"),
		},
		Slack: SlackConfig{
			BotToken:      os.Getenv("SLACK_BOT_TOKEN"),
			SigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
			APIURL:        os.Getenv("SLACK_API_URL"),
		},
		GitHub: GitHubConfig{
			Token:         os.Getenv("GITHUB_TOKEN"),
			APIURL:        os.Getenv("GITHUB_API_URL"),
			WebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		},
		Reminder: ReminderConfig{
			Workspaces:      splitList(os.Getenv("REMINDER_WORKSPACES")),
			FallbackChannel: os.Getenv("FALLBACK_CHANNEL"),
		},
	}

	var err error
	if cfg.Reminder.Enabled, err = getBool("REMINDERS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.ReassignExcludeAllHolders, err = getBool("REASSIGN_EXCLUDE_ALL_HOLDERS", true); err != nil {
		return nil, err
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"REMINDER_INTERVAL", time.Hour, &cfg.Reminder.Interval},
		{"FIRST_REMINDER_AFTER", 24 * time.Hour, &cfg.Reminder.FirstReminderAfter},
		{"ESCALATE_AFTER", 48 * time.Hour, &cfg.Reminder.EscalateAfter},
		{"REMINDER_COOLDOWN", 12 * time.Hour, &cfg.Reminder.Cooldown},
		{"NOTIFY_TIMEOUT", 10 * time.Second, &cfg.Slack.Timeout},
		{"CHANNEL_CLEANUP_INTERVAL", 24 * time.Hour, &cfg.ChannelCleanupInterval},
	}
	for _, d := range durations {
		if *d.dest, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.Database.Driver)
	}
	if c.Reminder.Interval <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL must be positive: %s", c.Reminder.Interval)
	}
	if c.Reminder.EscalateAfter < c.Reminder.FirstReminderAfter {
		return fmt.Errorf("ESCALATE_AFTER (%s) must not be shorter than FIRST_REMINDER_AFTER (%s)",
			c.Reminder.EscalateAfter, c.Reminder.FirstReminderAfter)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getDuration は "90m" のような time.Duration 形式に加えて "3d" の日数指定も受け付ける
func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid %s: %q", key, v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
