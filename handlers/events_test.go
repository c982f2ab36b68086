package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-review-assign/models"
)

func sendEvent(t *testing.T, env *testEnv, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, _ := http.NewRequest("POST", "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	signSlackRequest(req, body, testSigningSecret)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestHandleSlackEvents_URLVerification(t *testing.T) {
	env := newTestEnv(t)

	w := sendEvent(t, env, `{"type": "url_verification", "challenge": "abc123"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc123", w.Body.String())
}

func TestHandleSlackEvents_ChannelArchive(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Create(&models.ChannelConfig{ID: "web", WorkspaceID: "acme", TeamID: "web", SlackChannelID: "C_WEB", IsActive: true}).Error)
	require.NoError(t, env.db.Create(&models.ChannelConfig{ID: "api", WorkspaceID: "acme", TeamID: "api", SlackChannelID: "C_API", IsActive: true}).Error)

	w := sendEvent(t, env, `{"type": "event_callback", "event": {"type": "channel_archive", "channel": "C_WEB", "user": "U1"}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// channel_deleted は channel がオブジェクトでも受け付ける
	w = sendEvent(t, env, `{"type": "event_callback", "event": {"type": "channel_deleted", "channel": {"id": "C_API"}}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var configs []models.ChannelConfig
	require.NoError(t, env.db.Order("id").Find(&configs).Error)
	require.Len(t, configs, 2)
	for _, c := range configs {
		assert.False(t, c.IsActive, c.ID)
	}
}

func TestHandleSlackEvents_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)

	body := `{"type": "url_verification", "challenge": "abc123"}`
	req, _ := http.NewRequest("POST", "/slack/events", strings.NewReader(body))
	signSlackRequest(req, body, "wrong-secret")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEventChannelID(t *testing.T) {
	assert.Equal(t, "C1", eventChannelID([]byte(`"C1"`)))
	assert.Equal(t, "C2", eventChannelID([]byte(`{"id": "C2", "name": "general"}`)))
	assert.Equal(t, "", eventChannelID(nil))
	assert.Equal(t, "", eventChannelID([]byte(`123`)))
}
