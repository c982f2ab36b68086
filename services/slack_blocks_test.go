package services

import (
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-review-assign/models"
)

func TestRenderRequestMessage(t *testing.T) {
	req := &models.ReviewRequest{
		Repo:      "acme/api",
		Number:    42,
		Title:     "Add endpoint",
		URL:       "https://github.com/acme/api/pull/42",
		Status:    models.RequestOpen,
		TicketKey: "API-7",
	}
	assignments := []models.Assignment{
		{ReviewerID: "bob", Status: models.AssignmentInProgress},
		{ReviewerID: "ghost", Status: models.AssignmentAssigned},
	}
	reviewers := map[string]models.Reviewer{
		"bob": {ID: "bob", SlackUserID: "U_BOB"},
	}

	content := RenderRequestMessage(req, assignments, reviewers)

	assert.Contains(t, content, "<https://github.com/acme/api/pull/42|acme/api#42>")
	assert.Contains(t, content, "ticket: API-7")
	assert.Contains(t, content, "<@U_BOB> (reviewing)")
	assert.Contains(t, content, "ghost (assigned)")
	assert.NotContains(t, content, "status:")
}

func TestRenderRequestMessage_ClosedWithoutReviewers(t *testing.T) {
	req := &models.ReviewRequest{Repo: "acme/api", Number: 1, Title: "t", Status: models.RequestMerged}

	content := RenderRequestMessage(req, nil, nil)

	assert.Contains(t, content, "status: merged")
	assert.True(t, strings.HasSuffix(content, "reviewers: none"))
}

func TestRequestBlocks(t *testing.T) {
	blocks := requestBlocks("hello")
	require.Len(t, blocks, 2)

	section, ok := blocks[0].(*slack.SectionBlock)
	require.True(t, ok)
	assert.Equal(t, "hello", section.Text.Text)

	actions, ok := blocks[1].(*slack.ActionBlock)
	require.True(t, ok)
	var ids []string
	for _, el := range actions.Elements.ElementSet {
		button, ok := el.(*slack.ButtonBlockElement)
		require.True(t, ok)
		ids = append(ids, button.ActionID)
	}
	assert.Equal(t, []string{ActionStartReview, ActionDoneReview, ActionReassign}, ids)
}

func TestFormatWait(t *testing.T) {
	assert.Equal(t, "25h", formatWait(25*time.Hour))
	assert.Equal(t, "2d1h", formatWait(49*time.Hour))
	assert.Equal(t, "3d1h", formatWait(73*time.Hour))
}
