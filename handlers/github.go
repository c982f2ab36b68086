package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v71/github"

	"slack-review-assign/services"
)

// GithubHandler はwebhookを通らないPRを手動で登録する
type GithubHandler struct {
	Engine *services.Engine
	Client *github.Client
	Gate   services.UsageGate
}

func NewGitHubHandler(engine *services.Engine, client *github.Client, gate services.UsageGate) *GithubHandler {
	return &GithubHandler{
		Engine: engine,
		Client: client,
		Gate:   gate,
	}
}

type registerRequest struct {
	URL string `json:"url" binding:"required"`
}

// HandleRegister はPRのURLからGitHub APIでPRを取得し、レビュー依頼として登録する
func (h *GithubHandler) HandleRegister(c *gin.Context) {
	var body registerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	key, err := services.ParsePullRequestURL(body.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if h.Gate.IsUsageExceeded(ctx, key.WorkspaceID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "usage limit exceeded"})
		return
	}

	pr, err := services.FetchPullRequest(ctx, h.Client, key)
	if err != nil {
		log.Printf("pull request fetch error: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch pull request"})
		return
	}
	if pr.GetState() != "open" {
		c.JSON(http.StatusConflict, gin.H{"error": "pull request is not open"})
		return
	}

	req, err := h.Engine.IngestOpened(ctx, key, services.PullRequestMetadata(pr))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": req.ID, "key": key.String()})
}
