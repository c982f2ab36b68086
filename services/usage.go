package services

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"slack-review-assign/models"
)

const FeatureReminders = "reminders"

// UsageGate は利用プランによる機能制限
type UsageGate interface {
	IsFeatureEnabled(ctx context.Context, workspaceID, feature string) bool
	IsUsageExceeded(ctx context.Context, workspaceID string) bool
}

// AllowAllGate は全機能を許可する
type AllowAllGate struct{}

func (AllowAllGate) IsFeatureEnabled(context.Context, string, string) bool { return true }

func (AllowAllGate) IsUsageExceeded(context.Context, string) bool { return false }

// WorkspaceGate は workspaces テーブルの設定で判定する
// 未登録のワークスペースはリマインド有効・無制限として扱う
type WorkspaceGate struct {
	db  *gorm.DB
	now func() time.Time
}

func NewWorkspaceGate(db *gorm.DB) *WorkspaceGate {
	return &WorkspaceGate{db: db, now: time.Now}
}

func (g *WorkspaceGate) IsFeatureEnabled(ctx context.Context, workspaceID, feature string) bool {
	ws, ok := g.load(ctx, workspaceID)
	if !ok {
		return true
	}
	switch feature {
	case FeatureReminders:
		return ws.RemindersEnabled
	}
	return true
}

func (g *WorkspaceGate) IsUsageExceeded(ctx context.Context, workspaceID string) bool {
	ws, ok := g.load(ctx, workspaceID)
	if !ok || ws.MonthlyRequestLimit <= 0 {
		return false
	}

	now := g.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var count int64
	err := g.db.WithContext(ctx).Model(&models.ReviewRequest{}).
		Where("workspace_id = ? AND created_at >= ?", workspaceID, monthStart).
		Count(&count).Error
	if err != nil {
		log.Printf("usage count error (workspace: %s): %v", workspaceID, err)
		return false
	}
	return count >= int64(ws.MonthlyRequestLimit)
}

func (g *WorkspaceGate) load(ctx context.Context, workspaceID string) (*models.Workspace, bool) {
	var ws models.Workspace
	err := g.db.WithContext(ctx).Where("id = ?", workspaceID).First(&ws).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("workspace load error (workspace: %s): %v", workspaceID, err)
		}
		return nil, false
	}
	return &ws, true
}
