package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"slack-review-assign/models"
	"slack-review-assign/services"
)

type reviewerRequest struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id" binding:"required"`
	TeamID      string   `json:"team_id"`
	Name        string   `json:"name"`
	SlackUserID string   `json:"slack_user_id"`
	Aliases     []string `json:"aliases"`
	Roles       []string `json:"roles"`
	Weight      float64  `json:"weight"`
	Active      *bool    `json:"active"`
	Unavailable bool     `json:"unavailable"`
}

type availabilityRequest struct {
	Unavailable *bool `json:"unavailable" binding:"required"`
}

// HandleListReviewers はワークスペース(とチーム)のレビュワー一覧を返す
func HandleListReviewers(store services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.Query("workspace_id")
		if workspaceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
			return
		}

		reviewers, err := store.ListReviewers(c.Request.Context(), workspaceID, c.Query("team_id"))
		if err != nil {
			respondEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reviewers": reviewers})
	}
}

// HandleUpsertReviewer はレビュワーを登録・更新する。次の選択から反映される
func HandleUpsertReviewer(store services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body reviewerRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reviewer"})
			return
		}
		for _, role := range body.Roles {
			switch role {
			case models.RoleFrontend, models.RoleBackend, models.RoleFullstack:
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role: " + role})
				return
			}
		}
		if body.Weight < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "weight must not be negative"})
			return
		}

		ctx := c.Request.Context()
		reviewer := models.Reviewer{ID: body.ID}
		if body.ID == "" {
			reviewer.ID = uuid.NewString()
		} else if existing, err := store.GetReviewer(ctx, body.ID); err == nil {
			if existing.WorkspaceID != body.WorkspaceID {
				c.JSON(http.StatusConflict, gin.H{"error": "reviewer belongs to another workspace"})
				return
			}
			reviewer = *existing
		} else if !errors.Is(err, services.ErrNotFound) {
			respondEngineError(c, err)
			return
		}

		reviewer.WorkspaceID = body.WorkspaceID
		reviewer.TeamID = body.TeamID
		reviewer.Name = body.Name
		reviewer.SlackUserID = body.SlackUserID
		reviewer.Aliases = body.Aliases
		reviewer.Roles = body.Roles
		reviewer.Weight = body.Weight
		reviewer.Active = body.Active == nil || *body.Active
		reviewer.Unavailable = body.Unavailable

		if err := store.SaveReviewer(ctx, &reviewer); err != nil {
			respondEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, reviewer)
	}
}

// HandleSetAvailability は休暇などの一時的な不在を切り替える
func HandleSetAvailability(store services.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body availabilityRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unavailable is required"})
			return
		}

		ctx := c.Request.Context()
		reviewer, err := store.GetReviewer(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "reviewer not found"})
				return
			}
			respondEngineError(c, err)
			return
		}

		reviewer.Unavailable = *body.Unavailable
		if err := store.SaveReviewer(ctx, reviewer); err != nil {
			respondEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, reviewer)
	}
}
