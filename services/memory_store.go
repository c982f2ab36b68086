package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"slack-review-assign/models"
)

// MemoryStore はプロセス内で完結する Store 実装
// 全操作を1つの RWMutex で直列化するので、キー単位の原子性を満たす
type MemoryStore struct {
	mu          sync.RWMutex
	requests    map[string]models.ReviewRequest
	requestKeys map[models.RequestKey]string
	reviewers   map[string]models.Reviewer
	assignments map[string]models.Assignment
	configs     []models.ChannelConfig
	seq         int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:    make(map[string]models.ReviewRequest),
		requestKeys: make(map[models.RequestKey]string),
		reviewers:   make(map[string]models.Reviewer),
		assignments: make(map[string]models.Assignment),
	}
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (*models.ReviewRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(req), nil
}

func (s *MemoryStore) FindRequest(ctx context.Context, key models.RequestKey) (*models.ReviewRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.requestKeys[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(s.requests[id]), nil
}

func (s *MemoryStore) FindRequestByMessage(ctx context.Context, channelRef, messageRef string) (*models.ReviewRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if messageRef == "" {
		return nil, ErrNotFound
	}
	for _, req := range s.requests {
		if req.ChannelRef == channelRef && req.MessageRef == messageRef {
			return copyRequest(req), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateRequest(ctx context.Context, req *models.ReviewRequest, assignments []models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requestKeys[req.Key()]; exists {
		return ErrAlreadyExists
	}
	if _, exists := s.requests[req.ID]; exists {
		return ErrAlreadyExists
	}

	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	s.requests[req.ID] = *copyRequest(*req)
	s.requestKeys[req.Key()] = req.ID
	for _, a := range assignments {
		s.assignments[a.ID] = a
	}
	return nil
}

func (s *MemoryStore) UpdateRequest(ctx context.Context, id string, changes map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	for column, value := range changes {
		if err := applyRequestChange(&req, column, value); err != nil {
			return err
		}
	}
	req.UpdatedAt = time.Now()
	s.requests[id] = req
	return nil
}

func applyRequestChange(req *models.ReviewRequest, column string, value interface{}) error {
	switch column {
	case "title":
		req.Title = value.(string)
	case "url":
		req.URL = value.(string)
	case "status":
		req.Status = value.(models.RequestStatus)
	case "size":
		req.Size = value.(models.SizeClass)
	case "stack":
		req.Stack = value.(models.StackClass)
	case "ticket_key":
		req.TicketKey = value.(string)
	case "channel_ref":
		req.ChannelRef = value.(string)
	case "message_ref":
		req.MessageRef = value.(string)
	default:
		return fmt.Errorf("unsupported review request column %q", column)
	}
	return nil
}

func (s *MemoryStore) GetReviewer(ctx context.Context, id string) (*models.Reviewer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviewers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ListReviewers(ctx context.Context, workspaceID, teamID string) ([]models.Reviewer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Reviewer
	for _, r := range s.reviewers {
		if r.WorkspaceID != workspaceID {
			continue
		}
		if teamID != "" && r.TeamID != teamID {
			continue
		}
		out = append(out, r)
	}
	sortReviewers(out)
	return out, nil
}

func (s *MemoryStore) ListActiveReviewers(ctx context.Context, workspaceIDs []string) ([]models.Reviewer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := make(map[string]bool, len(workspaceIDs))
	for _, ws := range workspaceIDs {
		scope[ws] = true
	}

	var out []models.Reviewer
	for _, r := range s.reviewers {
		if !r.Active {
			continue
		}
		if len(scope) > 0 && !scope[r.WorkspaceID] {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WorkspaceID != out[j].WorkspaceID {
			return out[i].WorkspaceID < out[j].WorkspaceID
		}
		return reviewerLess(out[i], out[j])
	})
	return out, nil
}

func (s *MemoryStore) SaveReviewer(ctx context.Context, r *models.Reviewer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if old, ok := s.reviewers[r.ID]; ok {
		r.CreatedAt = old.CreatedAt
	} else if r.CreatedAt.IsZero() {
		// 同時刻でも登録順が保たれるように単調増加させる
		s.seq++
		r.CreatedAt = now.Add(time.Duration(s.seq))
	}
	r.UpdatedAt = now
	r.Weight = models.ClampWeight(r.Weight)

	s.reviewers[r.ID] = *r
	return nil
}

func (s *MemoryStore) CountOpenAssignments(ctx context.Context, reviewerIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(reviewerIDs))
	for _, id := range reviewerIDs {
		wanted[id] = true
	}

	counts := make(map[string]int, len(reviewerIDs))
	for _, a := range s.assignments {
		if wanted[a.ReviewerID] && a.IsOpen() {
			counts[a.ReviewerID]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListAssignmentsByRequest(ctx context.Context, requestID string) ([]models.Assignment, error) {
	return s.filterAssignments(func(a models.Assignment) bool {
		return a.RequestID == requestID
	}), nil
}

func (s *MemoryStore) ListOpenAssignmentsByReviewer(ctx context.Context, reviewerID string) ([]models.Assignment, error) {
	return s.filterAssignments(func(a models.Assignment) bool {
		return a.ReviewerID == reviewerID && a.IsOpen()
	}), nil
}

func (s *MemoryStore) CreateAssignments(ctx context.Context, assignments []models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range assignments {
		if _, exists := s.assignments[a.ID]; exists {
			return ErrAlreadyExists
		}
	}
	for _, a := range assignments {
		s.assignments[a.ID] = a
	}
	return nil
}

func (s *MemoryStore) UpdateAssignmentStatus(ctx context.Context, id string, from, to models.AssignmentStatus, completedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.CompletedAt = completedAt
	s.assignments[id] = a
	return true, nil
}

func (s *MemoryStore) ReplaceAssignments(ctx context.Context, closeIDs []string, completedAt time.Time, replacement *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if replacement != nil {
		if _, exists := s.assignments[replacement.ID]; exists {
			return ErrAlreadyExists
		}
	}
	for _, id := range closeIDs {
		a, ok := s.assignments[id]
		if !ok || !a.IsOpen() {
			continue
		}
		done := completedAt
		a.Status = models.AssignmentDone
		a.CompletedAt = &done
		s.assignments[id] = a
	}
	if replacement != nil {
		s.assignments[replacement.ID] = *replacement
	}
	return nil
}

func (s *MemoryStore) ListChannelConfigs(ctx context.Context, workspaceID string) ([]models.ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ChannelConfig
	for _, c := range s.configs {
		if c.WorkspaceID == workspaceID && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// SaveChannelConfig はテストや単一プロセス構成でチーム設定を登録する
func (s *MemoryStore) SaveChannelConfig(c models.ChannelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.configs {
		if s.configs[i].ID == c.ID {
			s.configs[i] = c
			return
		}
	}
	s.configs = append(s.configs, c)
}

func (s *MemoryStore) filterAssignments(keep func(models.Assignment) bool) []models.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Assignment
	for _, a := range s.assignments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortReviewers(reviewers []models.Reviewer) {
	sort.SliceStable(reviewers, func(i, j int) bool {
		return reviewerLess(reviewers[i], reviewers[j])
	})
}

func reviewerLess(a, b models.Reviewer) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func copyRequest(req models.ReviewRequest) *models.ReviewRequest {
	if req.Metadata != nil {
		meta := make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			meta[k] = v
		}
		req.Metadata = meta
	}
	return &req
}
