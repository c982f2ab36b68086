package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-review-assign/models"
)

// registerPostedRequest は通知済みのレビュー依頼を作る (bob が担当)
func registerPostedRequest(t *testing.T, env *testEnv, number int) *models.ReviewRequest {
	t.Helper()
	ctx := context.Background()

	w := sendWebhook(t, env, "pull_request", pullRequestEvent("opened", number, "carol-gh", "backend"), testWebhookSecret)
	require.Equal(t, http.StatusOK, w.Code)

	key := models.RequestKey{WorkspaceID: "acme", Repo: "acme/api", Number: number}
	req, err := env.store.FindRequest(ctx, key)
	require.NoError(t, err)

	ts := fmt.Sprintf("1700000000.%06d", number)
	require.NoError(t, env.store.UpdateRequest(ctx, req.ID, map[string]interface{}{
		"channel_ref": "C_REVIEW",
		"message_ref": ts,
	}))
	req, err = env.store.FindRequest(ctx, key)
	require.NoError(t, err)
	return req
}

func actionPayload(actionID, userID, channel, ts string) string {
	return fmt.Sprintf(`{
		"type": "block_actions",
		"user": {"id": %q},
		"container": {"type": "message", "channel_id": %q, "message_ts": %q},
		"actions": [{"action_id": %q, "block_id": "request_actions", "type": "button", "value": ""}]
	}`, userID, channel, ts, actionID)
}

func sendSlackAction(t *testing.T, env *testEnv, payload string, secret string) *httptest.ResponseRecorder {
	t.Helper()
	body := url.Values{"payload": {payload}}.Encode()

	req, _ := http.NewRequest("POST", "/slack/actions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	signSlackRequest(req, body, secret)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestHandleSlackAction_StartAndDone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := registerPostedRequest(t, env, 1)

	w := sendSlackAction(t, env, actionPayload("review_start", "U_BOB", "C_REVIEW", req.MessageRef), testSigningSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated": true}`, w.Body.String())

	assignments, err := env.store.ListAssignmentsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, models.AssignmentInProgress, assignments[0].Status)

	w = sendSlackAction(t, env, actionPayload("review_done", "U_BOB", "C_REVIEW", req.MessageRef), testSigningSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated": true}`, w.Body.String())

	assignments, err = env.store.ListAssignmentsByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentDone, assignments[0].Status)

	// 完了済みのアサインは変わらない
	w = sendSlackAction(t, env, actionPayload("review_done", "U_BOB", "C_REVIEW", req.MessageRef), testSigningSecret)
	assert.JSONEq(t, `{"updated": false}`, w.Body.String())
}

func TestHandleSlackAction_NonHolderIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	req := registerPostedRequest(t, env, 2)

	w := sendSlackAction(t, env, actionPayload("review_done", "U_CAROL", "C_REVIEW", req.MessageRef), testSigningSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated": false}`, w.Body.String())
}

func TestHandleSlackAction_Reassign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// carol 以外にもう一人 backend を用意する
	require.NoError(t, env.store.SaveReviewer(ctx, &models.Reviewer{
		ID: "dave", WorkspaceID: "acme", SlackUserID: "U_DAVE", Roles: []string{models.RoleBackend}, Weight: 1, Active: true,
	}))
	req := registerPostedRequest(t, env, 3)

	assignments, err := env.store.ListAssignmentsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	holder := assignments[0].ReviewerID
	holderSlack := map[string]string{"bob": "U_BOB", "dave": "U_DAVE"}[holder]
	require.NotEmpty(t, holderSlack)

	w := sendSlackAction(t, env, actionPayload("review_reassign", holderSlack, "C_REVIEW", req.MessageRef), testSigningSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated": true}`, w.Body.String())

	assignments, err = env.store.ListAssignmentsByRequest(ctx, req.ID)
	require.NoError(t, err)
	var open []models.Assignment
	for _, a := range assignments {
		if a.IsOpen() {
			open = append(open, a)
		}
	}
	require.Len(t, open, 1)
	assert.NotEqual(t, holder, open[0].ReviewerID)
}

func TestHandleSlackAction_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	req := registerPostedRequest(t, env, 4)

	w := sendSlackAction(t, env, actionPayload("review_done", "U_BOB", "C_REVIEW", req.MessageRef), "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleSlackAction_UnknownMessage(t *testing.T) {
	env := newTestEnv(t)

	w := sendSlackAction(t, env, actionPayload("review_done", "U_BOB", "C_REVIEW", "1700000000.999999"), testSigningSecret)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSlackAction_UnknownAction(t *testing.T) {
	env := newTestEnv(t)
	req := registerPostedRequest(t, env, 5)

	w := sendSlackAction(t, env, actionPayload("something_else", "U_BOB", "C_REVIEW", req.MessageRef), testSigningSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
