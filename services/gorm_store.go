package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"slack-review-assign/models"
)

// GormStore は gorm (sqlite / postgres) をバックエンドにした Store
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrAlreadyExists
	}
	return err
}

func (s *GormStore) GetRequest(ctx context.Context, id string) (*models.ReviewRequest, error) {
	var req models.ReviewRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, translateError(err)
	}
	return &req, nil
}

func (s *GormStore) FindRequest(ctx context.Context, key models.RequestKey) (*models.ReviewRequest, error) {
	var req models.ReviewRequest
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND repo = ? AND number = ?", key.WorkspaceID, key.Repo, key.Number).
		First(&req).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &req, nil
}

func (s *GormStore) FindRequestByMessage(ctx context.Context, channelRef, messageRef string) (*models.ReviewRequest, error) {
	// 未投稿のリクエストは message_ref が空なのでメッセージからは引けない
	if messageRef == "" {
		return nil, ErrNotFound
	}
	var req models.ReviewRequest
	err := s.db.WithContext(ctx).
		Where("channel_ref = ? AND message_ref = ?", channelRef, messageRef).
		First(&req).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &req, nil
}

func (s *GormStore) CreateRequest(ctx context.Context, req *models.ReviewRequest, assignments []models.Assignment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		if len(assignments) == 0 {
			return nil
		}
		return tx.Create(&assignments).Error
	})
	if err != nil {
		return fmt.Errorf("create review request %s: %w", req.Key(), translateError(err))
	}
	return nil
}

func (s *GormStore) UpdateRequest(ctx context.Context, id string, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).Model(&models.ReviewRequest{}).Where("id = ?", id).Updates(changes)
	if result.Error != nil {
		return fmt.Errorf("update review request %s: %w", id, translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetReviewer(ctx context.Context, id string) (*models.Reviewer, error) {
	var r models.Reviewer
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, translateError(err)
	}
	return &r, nil
}

// 選択の同点時は入力順が効くので、常に created_at, id 順で返す
func (s *GormStore) ListReviewers(ctx context.Context, workspaceID, teamID string) ([]models.Reviewer, error) {
	q := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID)
	if teamID != "" {
		q = q.Where("team_id = ?", teamID)
	}

	var reviewers []models.Reviewer
	if err := q.Order("created_at, id").Find(&reviewers).Error; err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	return reviewers, nil
}

func (s *GormStore) ListActiveReviewers(ctx context.Context, workspaceIDs []string) ([]models.Reviewer, error) {
	q := s.db.WithContext(ctx).Where("active = ?", true)
	if len(workspaceIDs) > 0 {
		q = q.Where("workspace_id IN ?", workspaceIDs)
	}

	var reviewers []models.Reviewer
	if err := q.Order("workspace_id, created_at, id").Find(&reviewers).Error; err != nil {
		return nil, fmt.Errorf("list active reviewers: %w", err)
	}
	return reviewers, nil
}

func (s *GormStore) SaveReviewer(ctx context.Context, r *models.Reviewer) error {
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return fmt.Errorf("save reviewer %s: %w", r.ID, translateError(err))
	}
	return nil
}

func (s *GormStore) CountOpenAssignments(ctx context.Context, reviewerIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(reviewerIDs))
	if len(reviewerIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		ReviewerID string
		Count      int
	}
	err := s.db.WithContext(ctx).Model(&models.Assignment{}).
		Select("reviewer_id, count(*) as count").
		Where("reviewer_id IN ? AND status <> ?", reviewerIDs, models.AssignmentDone).
		Group("reviewer_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count open assignments: %w", err)
	}

	for _, row := range rows {
		counts[row.ReviewerID] = row.Count
	}
	return counts, nil
}

func (s *GormStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	var a models.Assignment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translateError(err)
	}
	return &a, nil
}

func (s *GormStore) ListAssignmentsByRequest(ctx context.Context, requestID string) ([]models.Assignment, error) {
	var assignments []models.Assignment
	err := s.db.WithContext(ctx).Where("request_id = ?", requestID).Order("created_at, id").Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("list assignments by request: %w", err)
	}
	return assignments, nil
}

func (s *GormStore) ListOpenAssignmentsByReviewer(ctx context.Context, reviewerID string) ([]models.Assignment, error) {
	var assignments []models.Assignment
	err := s.db.WithContext(ctx).
		Where("reviewer_id = ? AND status <> ?", reviewerID, models.AssignmentDone).
		Order("created_at, id").
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("list open assignments by reviewer: %w", err)
	}
	return assignments, nil
}

func (s *GormStore) CreateAssignments(ctx context.Context, assignments []models.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&assignments).Error; err != nil {
		return fmt.Errorf("create assignments: %w", translateError(err))
	}
	return nil
}

func (s *GormStore) UpdateAssignmentStatus(ctx context.Context, id string, from, to models.AssignmentStatus, completedAt *time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Assignment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":       to,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("update assignment %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *GormStore) ReplaceAssignments(ctx context.Context, closeIDs []string, completedAt time.Time, replacement *models.Assignment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(closeIDs) > 0 {
			err := tx.Model(&models.Assignment{}).
				Where("id IN ? AND status <> ?", closeIDs, models.AssignmentDone).
				Updates(map[string]interface{}{
					"status":       models.AssignmentDone,
					"completed_at": completedAt,
				}).Error
			if err != nil {
				return err
			}
		}
		if replacement == nil {
			return nil
		}
		return tx.Create(replacement).Error
	})
	if err != nil {
		return fmt.Errorf("replace assignments: %w", translateError(err))
	}
	return nil
}

func (s *GormStore) ListChannelConfigs(ctx context.Context, workspaceID string) ([]models.ChannelConfig, error) {
	var configs []models.ChannelConfig
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND is_active = ?", workspaceID, true).
		Order("created_at, id").
		Find(&configs).Error
	if err != nil {
		return nil, fmt.Errorf("list channel configs: %w", err)
	}
	return configs, nil
}
