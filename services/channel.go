package services

import (
	"context"
	"fmt"
	"log"

	"github.com/slack-go/slack"
	"gorm.io/gorm"

	"slack-review-assign/models"
)

// ChannelInspector はSlackチャンネルの状態を確認する
type ChannelInspector interface {
	IsChannelArchived(ctx context.Context, channelID string) (bool, error)
}

// CleanupArchivedChannels はアーカイブされたチャンネルのチーム設定を非アクティブにする
// 非アクティブな設定はチーム解決の対象外になる
func CleanupArchivedChannels(ctx context.Context, db *gorm.DB, inspector ChannelInspector) int {
	var configs []models.ChannelConfig
	if err := db.WithContext(ctx).Where("is_active = ?", true).Find(&configs).Error; err != nil {
		log.Printf("channel config load error: %v", err)
		return 0
	}

	deactivated := 0
	for _, config := range configs {
		if config.SlackChannelID == "" {
			continue
		}
		isArchived, err := inspector.IsChannelArchived(ctx, config.SlackChannelID)
		if err != nil {
			log.Printf("channel status check error (channel: %s): %v", config.SlackChannelID, err)
			continue
		}
		if !isArchived {
			continue
		}

		log.Printf("channel %s is archived", config.SlackChannelID)
		err = db.WithContext(ctx).Model(&models.ChannelConfig{}).
			Where("id = ?", config.ID).
			Update("is_active", false).Error
		if err != nil {
			log.Printf("channel config update error: %v", err)
			continue
		}
		deactivated++
		log.Printf("channel %s config is deactivated", config.SlackChannelID)
	}
	return deactivated
}

// IsChannelArchived はチャンネルがアーカイブされているかどうかを確認する
func (n *SlackNotifier) IsChannelArchived(ctx context.Context, channelID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	channel, err := n.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return false, fmt.Errorf("slack conversations.info (channel: %s): %w", channelID, err)
	}
	return channel.IsArchived, nil
}
