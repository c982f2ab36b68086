package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"slack-review-assign/models"
)

// Slackのアクション ID
const (
	ActionStartReview = "review_start"
	ActionDoneReview  = "review_done"
	ActionReassign    = "review_reassign"
)

// RenderRequestMessage はチャンネルに載せるレビュー依頼メッセージの本文を作る
func RenderRequestMessage(req *models.ReviewRequest, assignments []models.Assignment, reviewers map[string]models.Reviewer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* <%s|%s#%d>\n", req.Title, req.URL, req.Repo, req.Number)
	if req.TicketKey != "" {
		fmt.Fprintf(&b, "ticket: %s\n", req.TicketKey)
	}

	switch req.Status {
	case models.RequestMerged:
		b.WriteString("status: merged\n")
	case models.RequestClosed:
		b.WriteString("status: closed\n")
	}

	if len(assignments) == 0 {
		b.WriteString("reviewers: none")
		return b.String()
	}

	lines := make([]string, 0, len(assignments))
	for _, a := range assignments {
		mention := a.ReviewerID
		if r, ok := reviewers[a.ReviewerID]; ok {
			mention = fmt.Sprintf("<@%s>", r.NotifyID())
		}
		lines = append(lines, fmt.Sprintf("%s %s", mention, assignmentLabel(a.Status)))
	}
	b.WriteString("reviewers: " + strings.Join(lines, ", "))
	return b.String()
}

func assignmentLabel(status models.AssignmentStatus) string {
	switch status {
	case models.AssignmentInProgress:
		return "(reviewing)"
	case models.AssignmentDone:
		return "(done)"
	}
	return "(assigned)"
}

// requestBlocks はメッセージ本文に操作ボタンを付けたブロックを作る
// ボタンの押下はメッセージの channel/ts からレビュー依頼を引く
func requestBlocks(content string) []slack.Block {
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, content, false, false), nil, nil)
	actions := slack.NewActionBlock("request_actions",
		slack.NewButtonBlockElement(ActionStartReview, "",
			slack.NewTextBlockObject(slack.PlainTextType, "Start review", false, false)).WithStyle(slack.StylePrimary),
		slack.NewButtonBlockElement(ActionDoneReview, "",
			slack.NewTextBlockObject(slack.PlainTextType, "Done", false, false)),
		slack.NewButtonBlockElement(ActionReassign, "",
			slack.NewTextBlockObject(slack.PlainTextType, "Reassign", false, false)).WithStyle(slack.StyleDanger),
	)
	return []slack.Block{section, actions}
}

func reminderText(reviewerID string, summary RequestSummary, wait time.Duration) string {
	return fmt.Sprintf("<@%s> review for <%s|%s> has been waiting %s: %s",
		reviewerID, summary.URL, summary, formatWait(wait), summary.Title)
}

func escalationText(reviewerID string, summary RequestSummary, wait time.Duration) string {
	return fmt.Sprintf(":rotating_light: <%s|%s> assigned to <@%s> is still unreviewed after %s: %s",
		summary.URL, summary, reviewerID, formatWait(wait), summary.Title)
}

func assignedText(summary RequestSummary) string {
	return fmt.Sprintf("You have been assigned to review <%s|%s>: %s", summary.URL, summary, summary.Title)
}

func formatWait(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 48 {
		return fmt.Sprintf("%dd%dh", hours/24, hours%24)
	}
	return fmt.Sprintf("%dh", hours)
}
