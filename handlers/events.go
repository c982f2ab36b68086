package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"slack-review-assign/models"
)

// HandleSlackEvents はSlackイベントを処理するハンドラ
// チャンネルがアーカイブ/削除されたらそのチーム設定を無効にする
func HandleSlackEvents(db *gorm.DB, signingSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := verifySlackRequest(c, signingSecret)
		if !ok {
			return
		}

		var payload struct {
			Type      string `json:"type"`
			Challenge string `json:"challenge"`
			Event     struct {
				Type    string          `json:"type"`
				Channel json.RawMessage `json:"channel"`
				User    string          `json:"user"`
			} `json:"event"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Printf("slack event parse error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		// URL検証チャレンジへの応答
		if payload.Type == "url_verification" {
			c.String(http.StatusOK, payload.Challenge)
			return
		}

		switch payload.Event.Type {
		case "channel_archive", "channel_deleted":
			channelID := eventChannelID(payload.Event.Channel)
			if channelID == "" {
				break
			}
			result := db.Model(&models.ChannelConfig{}).
				Where("slack_channel_id = ? AND is_active = ?", channelID, true).
				Update("is_active", false)
			if result.Error != nil {
				log.Printf("channel config update error (channel: %s): %v", channelID, result.Error)
				break
			}
			if result.RowsAffected > 0 {
				log.Printf("channel %s config is deactivated by %s", channelID, payload.Event.Type)
			}
		}

		c.Status(http.StatusOK)
	}
}

// eventChannelID は "C123" と {"id": "C123"} の両方の形式を受け付ける
func eventChannelID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
