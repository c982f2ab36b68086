package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-review-assign/models"
)

func TestWorkspaceGate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	gate := NewWorkspaceGate(db)
	gate.now = func() time.Time { return time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, db.Create(&models.Workspace{ID: "free", RemindersEnabled: false, MonthlyRequestLimit: 2}).Error)
	require.NoError(t, db.Create(&models.Workspace{ID: "paid", RemindersEnabled: true}).Error)

	// 未登録のワークスペースは制限なし
	assert.True(t, gate.IsFeatureEnabled(ctx, "unknown", FeatureReminders))
	assert.False(t, gate.IsUsageExceeded(ctx, "unknown"))

	assert.False(t, gate.IsFeatureEnabled(ctx, "free", FeatureReminders))
	assert.True(t, gate.IsFeatureEnabled(ctx, "paid", FeatureReminders))
	assert.True(t, gate.IsFeatureEnabled(ctx, "free", "something-else"))

	store := NewGormStore(db)
	lastMonth := time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC)
	thisMonth := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateRequest(ctx, &models.ReviewRequest{ID: "r1", WorkspaceID: "free", Repo: "free/x", Number: 1, CreatedAt: lastMonth}, nil))
	require.NoError(t, store.CreateRequest(ctx, &models.ReviewRequest{ID: "r2", WorkspaceID: "free", Repo: "free/x", Number: 2, CreatedAt: thisMonth}, nil))
	assert.False(t, gate.IsUsageExceeded(ctx, "free"))

	require.NoError(t, store.CreateRequest(ctx, &models.ReviewRequest{ID: "r3", WorkspaceID: "free", Repo: "free/x", Number: 3, CreatedAt: thisMonth}, nil))
	assert.True(t, gate.IsUsageExceeded(ctx, "free"))

	// 無制限
	assert.False(t, gate.IsUsageExceeded(ctx, "paid"))
}

func TestAllowAllGate(t *testing.T) {
	gate := AllowAllGate{}
	assert.True(t, gate.IsFeatureEnabled(context.Background(), "any", FeatureReminders))
	assert.False(t, gate.IsUsageExceeded(context.Background(), "any"))
}
