package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"slack-review-assign/models"
	"slack-review-assign/services"
)

// verifySlackRequest は署名を検証し、読み取ったボディを返す
// signingSecret が空なら検証しない
func verifySlackRequest(c *gin.Context, signingSecret string) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Printf("failed to read request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}
	// ボディを復元
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	if signingSecret == "" {
		return body, true
	}

	verifier, err := slack.NewSecretsVerifier(c.Request.Header, signingSecret)
	if err == nil {
		_, err = verifier.Write(body)
	}
	if err == nil {
		err = verifier.Ensure()
	}
	if err != nil {
		log.Printf("invalid slack signature: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid slack signature"})
		return nil, false
	}
	return body, true
}

// HandleSlackAction はレビュー依頼メッセージのボタン操作を処理する
func HandleSlackAction(engine *services.Engine, store services.Store, signingSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := verifySlackRequest(c, signingSecret); !ok {
			return
		}

		payloadStr := strings.TrimSpace(c.PostForm("payload"))
		var payload slack.InteractionCallback
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		if len(payload.ActionCallback.BlockActions) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no action"})
			return
		}

		slackUserID := payload.User.ID
		channel := payload.Container.ChannelID
		if channel == "" {
			channel = payload.Channel.ID
		}
		ts := payload.Container.MessageTs
		if ts == "" {
			ts = payload.Message.Timestamp
		}
		actionID := payload.ActionCallback.BlockActions[0].ActionID

		log.Printf("slack action received: action=%s, ts=%s, channel=%s, user=%s", actionID, ts, channel, slackUserID)

		ctx := c.Request.Context()
		req, err := store.FindRequestByMessage(ctx, channel, ts)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "review request not found"})
				return
			}
			respondEngineError(c, err)
			return
		}

		var updated bool
		switch actionID {
		case services.ActionStartReview:
			updated, err = engine.StartAssignmentByReviewer(ctx, req.ID, slackUserID)
		case services.ActionDoneReview:
			updated, err = engine.CompleteAssignmentByReviewer(ctx, req.ID, slackUserID)
		case services.ActionReassign:
			// 担当していない人の操作は何もしない
			var replacement *models.Reviewer
			replacement, err = engine.ReassignByReviewer(ctx, req.ID, slackUserID)
			updated = replacement != nil
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
			return
		}
		if err != nil {
			respondEngineError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}
