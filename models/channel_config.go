package models

import (
	"time"

	"gorm.io/gorm"
)

// ChannelConfig はチームごとの通知先と対象リポジトリの設定
type ChannelConfig struct {
	ID                 string `gorm:"primaryKey"`
	WorkspaceID        string `gorm:"index:idx_workspace_team,unique:true"`
	TeamID             string `gorm:"index:idx_workspace_team,unique:true"`
	SlackChannelID     string // 通知先チャンネル
	RepositoryList     string // 通知対象リポジトリのリスト（カンマ区切り）
	RequiredReviewers  int    // 1PRあたりのレビュワー数（デフォルト1）
	BusinessHoursStart string // "09:00" 形式、空なら常に営業時間内
	BusinessHoursEnd   string
	Timezone           string
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

func (c ChannelConfig) ReviewerCount() int {
	if c.RequiredReviewers <= 0 {
		return 1
	}
	return c.RequiredReviewers
}

// Workspace は利用プランのゲートに使う設定
type Workspace struct {
	ID                  string `gorm:"primaryKey"`
	RemindersEnabled    bool
	MonthlyRequestLimit int // 0なら無制限
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AutoMigrate は全テーブルのマイグレーションを実行する
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ReviewRequest{},
		&Reviewer{},
		&Assignment{},
		&ChannelConfig{},
		&Workspace{},
	)
}
