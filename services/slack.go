package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/slack-go/slack"
)

const defaultNotifyTimeout = 10 * time.Second

// SlackNotifier は slack-go で通知を送る Notifier
type SlackNotifier struct {
	client  *slack.Client
	timeout time.Duration
}

// NewSlackNotifier は送信ごとに timeout を上限とする Notifier を作る
func NewSlackNotifier(token string, timeout time.Duration, options ...slack.Option) *SlackNotifier {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &SlackNotifier{
		client:  slack.New(token, options...),
		timeout: timeout,
	}
}

func (n *SlackNotifier) NotifyReviewerAssigned(ctx context.Context, reviewerID string, summary RequestSummary) error {
	return n.post(ctx, reviewerID, assignedText(summary))
}

func (n *SlackNotifier) PostOrUpdateRequestMessage(ctx context.Context, channelRef, messageRef, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	options := []slack.MsgOption{
		slack.MsgOptionText(content, false),
		slack.MsgOptionBlocks(requestBlocks(content)...),
	}

	if messageRef == "" {
		_, ts, err := n.client.PostMessageContext(ctx, channelRef, options...)
		if err != nil {
			return "", fmt.Errorf("slack post message (channel: %s): %w", channelRef, err)
		}
		return ts, nil
	}

	_, ts, _, err := n.client.UpdateMessageContext(ctx, channelRef, messageRef, options...)
	if err != nil {
		return "", fmt.Errorf("slack update message (channel: %s, ts: %s): %w", channelRef, messageRef, err)
	}
	return ts, nil
}

func (n *SlackNotifier) SendReminder(ctx context.Context, reviewerID string, summary RequestSummary, wait time.Duration) error {
	return n.post(ctx, reviewerID, reminderText(reviewerID, summary, wait))
}

func (n *SlackNotifier) SendEscalation(ctx context.Context, channelRef, reviewerID string, summary RequestSummary, wait time.Duration) error {
	return n.post(ctx, channelRef, escalationText(reviewerID, summary, wait))
}

// post はチャンネルまたはユーザーID(DM)にテキストを投稿する
func (n *SlackNotifier) post(ctx context.Context, channel, text string) error {
	if channel == "" {
		return fmt.Errorf("slack post message: empty channel")
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, ts, err := n.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post message (channel: %s): %w", channel, err)
	}
	log.Printf("slack message sent: channel=%s, ts=%s", channel, ts)
	return nil
}
