package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"slack-review-assign/models"
	"slack-review-assign/services"
)

const (
	testWebhookSecret = "webhook-secret"
	testSigningSecret = "signing-secret"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("fail to open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("fail to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("fail to migrate test db: %v", err)
	}
	return db
}

type testEnv struct {
	db     *gorm.DB
	store  *services.GormStore
	engine *services.Engine
	router *gin.Engine
}

// newTestEnv は bob(backend) と carol(frontend) が登録された環境を作る
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	store := services.NewGormStore(db)
	engine := services.NewEngine(store, services.NopNotifier{}, services.EngineConfig{
		ExcludeAllHolders: true,
		PostRetryDelay:    time.Millisecond,
	})

	for _, r := range []models.Reviewer{
		{ID: "bob", WorkspaceID: "acme", SlackUserID: "U_BOB", Aliases: []string{"bob-gh"}, Roles: []string{models.RoleBackend}, Weight: 1, Active: true},
		{ID: "carol", WorkspaceID: "acme", SlackUserID: "U_CAROL", Aliases: []string{"carol-gh"}, Roles: []string{models.RoleFrontend}, Weight: 1, Active: true},
	} {
		r := r
		require.NoError(t, store.SaveReviewer(context.Background(), &r))
	}

	router := gin.New()
	router.POST("/webhook", HandleGitHubWebhook(engine, store, services.AllowAllGate{}, testWebhookSecret))
	router.POST("/slack/actions", HandleSlackAction(engine, store, testSigningSecret))
	router.POST("/slack/commands", HandleSlackCommand(db, testSigningSecret))
	router.POST("/slack/events", HandleSlackEvents(db, testSigningSecret))
	router.GET("/reviewers", HandleListReviewers(store))
	router.POST("/reviewers", HandleUpsertReviewer(store))
	router.PUT("/reviewers/:id/availability", HandleSetAvailability(store))

	return &testEnv{db: db, store: store, engine: engine, router: router}
}

// signSlackRequest は Slack の v0 署名ヘッダーを付ける
func signSlackRequest(req *http.Request, body string, secret string) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
}

// signGitHubRequest は X-Hub-Signature-256 ヘッダーを付ける
func signGitHubRequest(req *http.Request, body []byte, secret string) {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
}
