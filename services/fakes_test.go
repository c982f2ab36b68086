package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"slack-review-assign/models"
)

type sentMessage struct {
	Kind       string
	Channel    string
	ReviewerID string
	Request    string
	Content    string
	MessageRef string
}

// recordingNotifier は送信内容を記録する Notifier
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	fail    bool
	posts   int
	nextRef int
}

func (n *recordingNotifier) record(m sentMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	if n.fail {
		return errors.New("transport failure")
	}
	return nil
}

func (n *recordingNotifier) NotifyReviewerAssigned(_ context.Context, reviewerID string, summary RequestSummary) error {
	return n.record(sentMessage{Kind: "assigned", ReviewerID: reviewerID, Request: summary.String()})
}

func (n *recordingNotifier) PostOrUpdateRequestMessage(_ context.Context, channelRef, messageRef, content string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts++
	n.sent = append(n.sent, sentMessage{Kind: "message", Channel: channelRef, Content: content, MessageRef: messageRef})
	if n.fail {
		return "", errors.New("transport failure")
	}
	if messageRef != "" {
		return messageRef, nil
	}
	n.nextRef++
	return fmt.Sprintf("ts-%d", n.nextRef), nil
}

func (n *recordingNotifier) SendReminder(_ context.Context, reviewerID string, summary RequestSummary, _ time.Duration) error {
	return n.record(sentMessage{Kind: "reminder", ReviewerID: reviewerID, Request: summary.String()})
}

func (n *recordingNotifier) SendEscalation(_ context.Context, channelRef, reviewerID string, summary RequestSummary, _ time.Duration) error {
	return n.record(sentMessage{Kind: "escalation", Channel: channelRef, ReviewerID: reviewerID, Request: summary.String()})
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Kind == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) messages(kind string) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (n *recordingNotifier) setFail(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = fail
}

// fakeClock は手動で進める時計
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// gateStub はワークスペース単位でリマインドを無効化できる UsageGate
type gateStub struct {
	disabled map[string]bool
	exceeded map[string]bool
}

func (g gateStub) IsFeatureEnabled(_ context.Context, workspaceID, _ string) bool {
	return !g.disabled[workspaceID]
}

func (g gateStub) IsUsageExceeded(_ context.Context, workspaceID string) bool {
	return g.exceeded[workspaceID]
}

// storeFactories は両方の Store 実装で同じテストを回すためのもの
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"gorm":   func(t *testing.T) Store { return NewGormStore(setupTestDB(t)) },
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
	}
}

func seedReviewers(t *testing.T, store Store, reviewers ...models.Reviewer) {
	t.Helper()
	for i := range reviewers {
		r := reviewers[i]
		if r.WorkspaceID == "" {
			r.WorkspaceID = "acme"
		}
		require.NoError(t, store.SaveReviewer(context.Background(), &r))
	}
}

func seedChannelConfig(t *testing.T, store Store, cfg models.ChannelConfig) {
	t.Helper()
	switch s := store.(type) {
	case *GormStore:
		require.NoError(t, s.db.Create(&cfg).Error)
	case *MemoryStore:
		s.SaveChannelConfig(cfg)
	default:
		t.Fatalf("unsupported store %T", store)
	}
}

func openAssignments(t *testing.T, store Store, requestID string) []models.Assignment {
	t.Helper()
	all, err := store.ListAssignmentsByRequest(context.Background(), requestID)
	require.NoError(t, err)
	var open []models.Assignment
	for _, a := range all {
		if a.IsOpen() {
			open = append(open, a)
		}
	}
	return open
}
