package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-review-assign/models"
)

func sendJSON(t *testing.T, env *testEnv, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestHandleUpsertReviewer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w := sendJSON(t, env, "POST", "/reviewers", `{"id": "erin", "workspace_id": "acme", "team_id": "web", "slack_user_id": "U_ERIN", "roles": ["frontend"], "weight": 0.5}`)
	require.Equal(t, http.StatusOK, w.Code)

	saved, err := env.store.GetReviewer(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, "web", saved.TeamID)
	assert.Equal(t, []string{models.RoleFrontend}, saved.Roles)
	assert.InDelta(t, 0.5, saved.Weight, 1e-9)
	assert.True(t, saved.Active)

	// 重み未指定は1.0として保存される
	w = sendJSON(t, env, "POST", "/reviewers", `{"id": "erin", "workspace_id": "acme", "roles": ["backend"], "active": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	saved, err = env.store.GetReviewer(ctx, "erin")
	require.NoError(t, err)
	assert.InDelta(t, models.DefaultWeight, saved.Weight, 1e-9)
	assert.False(t, saved.Active)

	// IDなしは新規作成
	w = sendJSON(t, env, "POST", "/reviewers", `{"workspace_id": "acme", "roles": ["fullstack"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	var created models.Reviewer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
}

func TestHandleUpsertReviewer_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{"workspace_id なし", `{"id": "x", "roles": ["backend"]}`, http.StatusBadRequest},
		{"不明なロール", `{"workspace_id": "acme", "roles": ["designer"]}`, http.StatusBadRequest},
		{"負の重み", `{"workspace_id": "acme", "weight": -1}`, http.StatusBadRequest},
		{"別ワークスペースのレビュワー", `{"id": "bob", "workspace_id": "other"}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := sendJSON(t, env, "POST", "/reviewers", tt.body)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestHandleListReviewers(t *testing.T) {
	env := newTestEnv(t)

	w := sendJSON(t, env, "GET", "/reviewers", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = sendJSON(t, env, "GET", "/reviewers?workspace_id=acme", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Reviewers []models.Reviewer `json:"reviewers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Reviewers, 2)
}

func TestHandleSetAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w := sendJSON(t, env, "PUT", "/reviewers/bob/availability", `{"unavailable": true}`)
	require.Equal(t, http.StatusOK, w.Code)

	bob, err := env.store.GetReviewer(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Unavailable)

	// 不在のレビュワーには割り当てない
	sendWebhook(t, env, "pull_request", pullRequestEvent("opened", 7, "carol-gh", "backend"), testWebhookSecret)
	req, err := env.store.FindRequest(ctx, models.RequestKey{WorkspaceID: "acme", Repo: "acme/api", Number: 7})
	require.NoError(t, err)
	assignments, err := env.store.ListAssignmentsByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, assignments)

	w = sendJSON(t, env, "PUT", "/reviewers/bob/availability", `{"unavailable": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	bob, err = env.store.GetReviewer(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, bob.Unavailable)

	w = sendJSON(t, env, "PUT", "/reviewers/nobody/availability", `{"unavailable": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = sendJSON(t, env, "PUT", "/reviewers/bob/availability", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
