package services

import (
	"context"
	"errors"
	"time"

	"slack-review-assign/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store はレビュー依頼・レビュワー・アサインの永続化層
// エンジン(webhook側)とスケジューラの両方から並行に呼ばれる
type Store interface {
	GetRequest(ctx context.Context, id string) (*models.ReviewRequest, error)
	FindRequest(ctx context.Context, key models.RequestKey) (*models.ReviewRequest, error)
	// FindRequestByMessage はSlackメッセージ(channel, ts)からレビュー依頼を引く
	FindRequestByMessage(ctx context.Context, channelRef, messageRef string) (*models.ReviewRequest, error)
	// CreateRequest はレビュー依頼と初期アサインを1トランザクションで作成する
	// 同じキーが既にあれば ErrAlreadyExists を返す
	CreateRequest(ctx context.Context, req *models.ReviewRequest, assignments []models.Assignment) error
	// UpdateRequest はカラム名 -> 値で部分更新する
	UpdateRequest(ctx context.Context, id string, changes map[string]interface{}) error

	GetReviewer(ctx context.Context, id string) (*models.Reviewer, error)
	// ListReviewers は teamID が空ならワークスペース全体を返す
	ListReviewers(ctx context.Context, workspaceID, teamID string) ([]models.Reviewer, error)
	// ListActiveReviewers は workspaceIDs が空なら全ワークスペースを対象にする
	ListActiveReviewers(ctx context.Context, workspaceIDs []string) ([]models.Reviewer, error)
	SaveReviewer(ctx context.Context, r *models.Reviewer) error
	CountOpenAssignments(ctx context.Context, reviewerIDs []string) (map[string]int, error)

	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	ListAssignmentsByRequest(ctx context.Context, requestID string) ([]models.Assignment, error)
	ListOpenAssignmentsByReviewer(ctx context.Context, reviewerID string) ([]models.Assignment, error)
	CreateAssignments(ctx context.Context, assignments []models.Assignment) error
	// UpdateAssignmentStatus は現在の状態が from の場合のみ to に更新する (compare-and-swap)
	UpdateAssignmentStatus(ctx context.Context, id string, from, to models.AssignmentStatus, completedAt *time.Time) (bool, error)
	// ReplaceAssignments は closeIDs を DONE にし、replacement があれば作成する (1トランザクション)
	ReplaceAssignments(ctx context.Context, closeIDs []string, completedAt time.Time, replacement *models.Assignment) error

	ListChannelConfigs(ctx context.Context, workspaceID string) ([]models.ChannelConfig, error)
}
