package services

import (
	"context"
	"fmt"
	"time"

	"slack-review-assign/models"
)

// RequestSummary は通知に載せるレビュー依頼の要約
type RequestSummary struct {
	Repo      string
	Number    int
	Title     string
	URL       string
	Author    string
	TicketKey string
}

func SummarizeRequest(req *models.ReviewRequest) RequestSummary {
	return RequestSummary{
		Repo:      req.Repo,
		Number:    req.Number,
		Title:     req.Title,
		URL:       req.URL,
		Author:    req.Author,
		TicketKey: req.TicketKey,
	}
}

func (s RequestSummary) String() string {
	return fmt.Sprintf("%s#%d", s.Repo, s.Number)
}

// Notifier はチャット通知の送信口
// 送信失敗は error で返すだけで、呼び出し側の処理は止めない
type Notifier interface {
	NotifyReviewerAssigned(ctx context.Context, reviewerID string, summary RequestSummary) error
	// PostOrUpdateRequestMessage は messageRef が空なら新規投稿、あれば上書き更新し、メッセージ参照を返す
	PostOrUpdateRequestMessage(ctx context.Context, channelRef, messageRef, content string) (string, error)
	SendReminder(ctx context.Context, reviewerID string, summary RequestSummary, wait time.Duration) error
	SendEscalation(ctx context.Context, channelRef, reviewerID string, summary RequestSummary, wait time.Duration) error
}

// NopNotifier は通知を送らない Notifier (Slack未設定時用)
type NopNotifier struct{}

func (NopNotifier) NotifyReviewerAssigned(context.Context, string, RequestSummary) error { return nil }

func (NopNotifier) PostOrUpdateRequestMessage(_ context.Context, _, messageRef, _ string) (string, error) {
	return messageRef, nil
}

func (NopNotifier) SendReminder(context.Context, string, RequestSummary, time.Duration) error {
	return nil
}

func (NopNotifier) SendEscalation(context.Context, string, string, RequestSummary, time.Duration) error {
	return nil
}
