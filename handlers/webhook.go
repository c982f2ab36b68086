package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v71/github"

	"slack-review-assign/models"
	"slack-review-assign/services"
)

// HandleGitHubWebhook はPRのイベントをアサインエンジンに流す
// ワークスペースはリポジトリのオーナー
func HandleGitHubWebhook(engine *services.Engine, store services.Store, gate services.UsageGate, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := github.ValidatePayload(c.Request, []byte(secret))
		if err != nil {
			log.Printf("invalid webhook payload: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		event, err := github.ParseWebHook(github.WebHookType(c.Request), payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot parse webhook"})
			return
		}

		switch e := event.(type) {
		case *github.PullRequestEvent:
			handlePullRequestEvent(c, engine, store, gate, e)
			return
		case *github.PullRequestReviewEvent:
			if e.GetAction() == "submitted" {
				handleReviewSubmittedEvent(c, engine, store, e)
				return
			}
		}

		c.Status(http.StatusOK)
	}
}

func requestKeyFromRepo(repo *github.Repository, number int) models.RequestKey {
	owner := repo.GetOwner().GetLogin()
	fullName := repo.GetFullName()
	if fullName == "" {
		fullName = owner + "/" + repo.GetName()
	}
	return models.RequestKey{WorkspaceID: owner, Repo: fullName, Number: number}
}

func handlePullRequestEvent(c *gin.Context, engine *services.Engine, store services.Store, gate services.UsageGate, e *github.PullRequestEvent) {
	pr := e.GetPullRequest()
	if pr == nil {
		c.Status(http.StatusOK)
		return
	}
	key := requestKeyFromRepo(e.GetRepo(), pr.GetNumber())
	ctx := c.Request.Context()

	switch e.GetAction() {
	case "opened", "reopened", "ready_for_review":
		if pr.GetDraft() {
			c.JSON(http.StatusOK, gin.H{"message": "draft pull request ignored"})
			return
		}
		if gate.IsUsageExceeded(ctx, key.WorkspaceID) {
			log.Printf("usage limit exceeded, skip %s", key)
			c.JSON(http.StatusOK, gin.H{"message": "usage limit exceeded"})
			return
		}

		meta := services.PullRequestMetadata(pr)
		meta.Reopened = e.GetAction() == "reopened"
		req, err := engine.IngestOpened(ctx, key, meta)
		if err != nil {
			respondEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"request_id": req.ID})

	case "edited", "synchronize", "labeled", "unlabeled":
		// 未登録のPRはここでは登録しない
		if _, err := store.FindRequest(ctx, key); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				c.Status(http.StatusOK)
				return
			}
			respondEngineError(c, err)
			return
		}
		if _, err := engine.IngestOpened(ctx, key, services.PullRequestMetadata(pr)); err != nil {
			respondEngineError(c, err)
			return
		}
		c.Status(http.StatusOK)

	case "closed":
		found, err := engine.IngestClosed(ctx, key, pr.GetMerged())
		if err != nil {
			respondEngineError(c, err)
			return
		}
		if !found {
			log.Printf("closed pull request is not registered: %s", key)
		}
		c.Status(http.StatusOK)

	default:
		c.Status(http.StatusOK)
	}
}

// handleReviewSubmittedEvent はレビュー提出をアサインに反映する
// approved / changes_requested は完了、commented はレビュー開始として扱う
func handleReviewSubmittedEvent(c *gin.Context, engine *services.Engine, store services.Store, e *github.PullRequestReviewEvent) {
	key := requestKeyFromRepo(e.GetRepo(), e.GetPullRequest().GetNumber())
	reviewer := e.GetReview().GetUser().GetLogin()
	ctx := c.Request.Context()

	req, err := store.FindRequest(ctx, key)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.Status(http.StatusOK)
			return
		}
		respondEngineError(c, err)
		return
	}

	var ok bool
	switch strings.ToLower(e.GetReview().GetState()) {
	case "approved", "changes_requested":
		ok, err = engine.CompleteAssignmentByReviewer(ctx, req.ID, reviewer)
	case "commented":
		ok, err = engine.StartAssignmentByReviewer(ctx, req.ID, reviewer)
	default:
		c.Status(http.StatusOK)
		return
	}
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if !ok {
		log.Printf("review by %s did not change any assignment of %s", reviewer, key)
	}
	c.JSON(http.StatusOK, gin.H{"updated": ok})
}

func respondEngineError(c *gin.Context, err error) {
	if errors.Is(err, models.ErrInvalidKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Printf("engine error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
