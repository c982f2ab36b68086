package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"slack-review-assign/models"
)

// EngineConfig はアサインエンジンの設定
type EngineConfig struct {
	// チーム設定が無いリポジトリに割り当てるレビュワー数
	DefaultReviewers int
	// 再アサイン時に、対象者だけでなく現在の担当者全員を候補から外す
	ExcludeAllHolders bool
	// チャンネル投稿の再試行間隔
	PostRetryDelay time.Duration
	Now            func() time.Time
}

// RequestMetadata はPRのopened/reopenedイベントから得る情報
type RequestMetadata struct {
	Title     string
	URL       string
	Author    string
	Size      models.SizeClass
	Stack     models.StackClass
	TicketKey string
	Reopened  bool
	Extra     map[string]string
}

// Engine はレビュー依頼の取り込み、レビュワー選択、アサインの状態遷移を担う
type Engine struct {
	store    Store
	notifier Notifier
	cfg      EngineConfig
	locks    *keyLock
}

func NewEngine(store Store, notifier Notifier, cfg EngineConfig) *Engine {
	if cfg.DefaultReviewers <= 0 {
		cfg.DefaultReviewers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		locks:    newKeyLock(),
	}
}

// IngestOpened はレビュー依頼を冪等に登録する
// 初回だけレビュワーを選んでアサインを作り、再送されたイベントではメタデータの更新のみ行う
func (e *Engine) IngestOpened(ctx context.Context, key models.RequestKey, meta RequestMetadata) (*models.ReviewRequest, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	req, reviewers, created, err := e.upsertRequest(ctx, key, meta)
	if err != nil {
		return nil, err
	}
	if !created {
		return req, nil
	}

	if len(reviewers) == 0 {
		log.Printf("no eligible reviewer for %s, request left unassigned", key)
	}
	for _, r := range reviewers {
		if err := e.notifier.NotifyReviewerAssigned(ctx, r.NotifyID(), SummarizeRequest(req)); err != nil {
			log.Printf("reviewer assigned notification error (request: %s, reviewer: %s): %v", key, r.ID, err)
		}
	}
	e.refreshMessage(ctx, req.ID)

	return req, nil
}

func (e *Engine) upsertRequest(ctx context.Context, key models.RequestKey, meta RequestMetadata) (*models.ReviewRequest, []models.Reviewer, bool, error) {
	unlock := e.locks.Lock(key.String())
	defer unlock()

	existing, err := e.store.FindRequest(ctx, key)
	if err == nil {
		req, err := e.refreshRequest(ctx, existing, meta)
		return req, nil, false, err
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, nil, false, fmt.Errorf("find review request %s: %w", key, err)
	}

	now := e.cfg.Now()
	req := &models.ReviewRequest{
		ID:          uuid.NewString(),
		WorkspaceID: key.WorkspaceID,
		Repo:        key.Repo,
		Number:      key.Number,
		Title:       meta.Title,
		URL:         meta.URL,
		Author:      meta.Author,
		Status:      models.RequestOpen,
		Size:        meta.Size,
		Stack:       meta.Stack,
		TicketKey:   meta.TicketKey,
		Metadata:    meta.Extra,
		CreatedAt:   now,
	}

	count := e.cfg.DefaultReviewers
	team, err := e.resolveTeam(ctx, key)
	if err != nil {
		return nil, nil, false, err
	}
	if team != nil {
		req.TeamID = team.TeamID
		req.ChannelRef = team.SlackChannelID
		count = team.ReviewerCount()
	}

	reviewers, err := e.selectFor(ctx, req, count, nil)
	if err != nil {
		return nil, nil, false, err
	}

	assignments := make([]models.Assignment, 0, len(reviewers))
	for _, r := range reviewers {
		assignments = append(assignments, newAssignment(req.ID, r.ID, now))
	}

	if err := e.store.CreateRequest(ctx, req, assignments); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, nil, false, err
		}
		// 別プロセスが先に登録した
		existing, ferr := e.store.FindRequest(ctx, key)
		if ferr != nil {
			return nil, nil, false, fmt.Errorf("find review request %s after conflict: %w", key, ferr)
		}
		req, err := e.refreshRequest(ctx, existing, meta)
		return req, nil, false, err
	}

	log.Printf("review request registered: %s (reviewers: %d)", key, len(assignments))
	return req, reviewers, true, nil
}

// refreshRequest は既存レコードの可変メタデータだけを更新する。レビュワー選択はやり直さない
func (e *Engine) refreshRequest(ctx context.Context, req *models.ReviewRequest, meta RequestMetadata) (*models.ReviewRequest, error) {
	changes := make(map[string]interface{})
	if meta.Title != "" && meta.Title != req.Title {
		changes["title"] = meta.Title
		req.Title = meta.Title
	}
	if meta.URL != "" && meta.URL != req.URL {
		changes["url"] = meta.URL
		req.URL = meta.URL
	}
	if meta.Size != "" && meta.Size != req.Size {
		changes["size"] = meta.Size
		req.Size = meta.Size
	}
	if meta.Stack != "" && meta.Stack != req.Stack {
		changes["stack"] = meta.Stack
		req.Stack = meta.Stack
	}
	if meta.TicketKey != "" && meta.TicketKey != req.TicketKey {
		changes["ticket_key"] = meta.TicketKey
		req.TicketKey = meta.TicketKey
	}
	if meta.Reopened && req.Status == models.RequestClosed {
		changes["status"] = models.RequestOpen
		req.Status = models.RequestOpen
	}

	if len(changes) == 0 {
		return req, nil
	}
	if err := e.store.UpdateRequest(ctx, req.ID, changes); err != nil {
		return nil, fmt.Errorf("refresh review request %s: %w", req.Key(), err)
	}
	return req, nil
}

// IngestClosed はPRのclose/mergeを反映する。アサインの状態は監査用にそのまま残す
// 未知のキーなら false を返す
func (e *Engine) IngestClosed(ctx context.Context, key models.RequestKey, merged bool) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	status := models.RequestClosed
	if merged {
		status = models.RequestMerged
	}

	unlock := e.locks.Lock(key.String())
	req, err := e.store.FindRequest(ctx, key)
	if err != nil {
		unlock()
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find review request %s: %w", key, err)
	}
	if req.Status == status {
		unlock()
		return true, nil
	}
	err = e.store.UpdateRequest(ctx, req.ID, map[string]interface{}{"status": status})
	unlock()
	if err != nil {
		return false, fmt.Errorf("close review request %s: %w", key, err)
	}

	log.Printf("review request %s: %s", strings.ToLower(string(status)), key)
	e.refreshMessage(ctx, req.ID)
	return true, nil
}

// AssignReviewers は指定レビュワーごとに ASSIGNED のアサインを作る
// 別ワークスペースのレビュワーと、既にオープンなアサインを持つレビュワーは黙ってスキップする
func (e *Engine) AssignReviewers(ctx context.Context, requestID string, reviewers []models.Reviewer) ([]models.Assignment, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get review request %s: %w", requestID, err)
	}
	if !req.IsOpen() {
		return nil, nil
	}

	unlock := e.locks.Lock(req.Key().String())
	created, assigned, err := e.assignLocked(ctx, req, reviewers)
	unlock()
	if err != nil {
		return nil, err
	}

	for _, r := range assigned {
		if err := e.notifier.NotifyReviewerAssigned(ctx, r.NotifyID(), SummarizeRequest(req)); err != nil {
			log.Printf("reviewer assigned notification error (request: %s, reviewer: %s): %v", req.Key(), r.ID, err)
		}
	}
	if len(created) > 0 {
		e.refreshMessage(ctx, req.ID)
	}
	return created, nil
}

func (e *Engine) assignLocked(ctx context.Context, req *models.ReviewRequest, reviewers []models.Reviewer) ([]models.Assignment, []models.Reviewer, error) {
	current, err := e.store.ListAssignmentsByRequest(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	holders := make(map[string]bool)
	for _, a := range current {
		if a.IsOpen() {
			holders[a.ReviewerID] = true
		}
	}

	now := e.cfg.Now()
	var created []models.Assignment
	var assigned []models.Reviewer
	for _, r := range reviewers {
		if r.WorkspaceID != req.WorkspaceID {
			log.Printf("skip cross-workspace reviewer %s for %s", r.ID, req.Key())
			continue
		}
		if holders[r.ID] {
			continue
		}
		holders[r.ID] = true
		created = append(created, newAssignment(req.ID, r.ID, now))
		assigned = append(assigned, r)
	}

	if err := e.store.CreateAssignments(ctx, created); err != nil {
		return nil, nil, err
	}
	return created, assigned, nil
}

// AdvanceAssignment は ASSIGNED -> IN_PROGRESS -> DONE の単調遷移を行う
// 存在しない、または遷移できない場合は false を返す
func (e *Engine) AdvanceAssignment(ctx context.Context, assignmentID string, to models.AssignmentStatus) (bool, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get assignment %s: %w", assignmentID, err)
	}
	if !models.CanTransition(a.Status, to) {
		return false, nil
	}

	var completedAt *time.Time
	if to == models.AssignmentDone {
		now := e.cfg.Now()
		completedAt = &now
	}

	ok, err := e.store.UpdateAssignmentStatus(ctx, a.ID, a.Status, to, completedAt)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("assignment %s: %s -> %s", a.ID, a.Status, to)
		if to == models.AssignmentDone {
			e.refreshMessage(ctx, a.RequestID)
		}
	}
	return ok, nil
}

// CompleteAssignmentByReviewer は外部ID(Slack ID / GitHub login)で指定されたレビュワーのアサインを完了にする
// 担当していない人からの完了操作は false を返すだけ
func (e *Engine) CompleteAssignmentByReviewer(ctx context.Context, requestID, identity string) (bool, error) {
	return e.advanceByReviewer(ctx, requestID, identity, models.AssignmentDone)
}

// StartAssignmentByReviewer は外部IDで指定されたレビュワーのアサインを IN_PROGRESS にする
func (e *Engine) StartAssignmentByReviewer(ctx context.Context, requestID, identity string) (bool, error) {
	return e.advanceByReviewer(ctx, requestID, identity, models.AssignmentInProgress)
}

// ReassignByReviewer は担当者本人が外部IDで担当を手放す場合の Reassign
// 担当していなければ nil を返す
func (e *Engine) ReassignByReviewer(ctx context.Context, requestID, identity string) (*models.Reviewer, error) {
	holders, err := e.openHolders(ctx, requestID, identity)
	if err != nil || len(holders) == 0 {
		return nil, err
	}
	return e.Reassign(ctx, requestID, holders[0].ReviewerID)
}

func (e *Engine) advanceByReviewer(ctx context.Context, requestID, identity string, to models.AssignmentStatus) (bool, error) {
	holders, err := e.openHolders(ctx, requestID, identity)
	if err != nil {
		return false, err
	}

	advanced := false
	for _, a := range holders {
		ok, err := e.AdvanceAssignment(ctx, a.ID, to)
		if err != nil {
			return advanced, err
		}
		advanced = advanced || ok
	}
	return advanced, nil
}

// openHolders は identity に一致するレビュワーのオープンなアサインを返す
func (e *Engine) openHolders(ctx context.Context, requestID, identity string) ([]models.Assignment, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get review request %s: %w", requestID, err)
	}

	assignments, err := e.store.ListAssignmentsByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	var holders []models.Assignment
	for _, a := range assignments {
		if !a.IsOpen() {
			continue
		}
		reviewer, err := e.store.GetReviewer(ctx, a.ReviewerID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if reviewer.WorkspaceID == req.WorkspaceID && reviewer.MatchesIdentity(identity) {
			holders = append(holders, a)
		}
	}
	return holders, nil
}

// Reassign は excludeReviewerID のオープンなアサインを DONE にし、代わりのレビュワーを1人割り当てる
// 代わりが見つからなくても古いアサインは閉じる（二重アサインを残さない）
func (e *Engine) Reassign(ctx context.Context, requestID, excludeReviewerID string) (*models.Reviewer, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get review request %s: %w", requestID, err)
	}

	unlock := e.locks.Lock(req.Key().String())
	replacement, err := e.reassignLocked(ctx, req, excludeReviewerID)
	unlock()
	if err != nil {
		return nil, err
	}

	if replacement != nil {
		if err := e.notifier.NotifyReviewerAssigned(ctx, replacement.NotifyID(), SummarizeRequest(req)); err != nil {
			log.Printf("reviewer assigned notification error (request: %s, reviewer: %s): %v", req.Key(), replacement.ID, err)
		}
	}
	e.refreshMessage(ctx, req.ID)
	return replacement, nil
}

func (e *Engine) reassignLocked(ctx context.Context, req *models.ReviewRequest, excludeReviewerID string) (*models.Reviewer, error) {
	assignments, err := e.store.ListAssignmentsByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	var closeIDs []string
	excludes := []string{excludeReviewerID}
	for _, a := range assignments {
		if !a.IsOpen() {
			continue
		}
		if a.ReviewerID == excludeReviewerID {
			closeIDs = append(closeIDs, a.ID)
		} else if e.cfg.ExcludeAllHolders {
			excludes = append(excludes, a.ReviewerID)
		}
	}
	if len(closeIDs) == 0 {
		return nil, nil
	}

	now := e.cfg.Now()
	var replacement *models.Assignment
	var selected *models.Reviewer
	// クローズ済みのPRには新しいアサインを作らない
	if req.IsOpen() {
		candidates, err := e.selectFor(ctx, req, 1, excludes)
		if err != nil {
			return nil, err
		}
		if len(candidates) > 0 {
			selected = &candidates[0]
			a := newAssignment(req.ID, selected.ID, now)
			replacement = &a
		}
	}

	if err := e.store.ReplaceAssignments(ctx, closeIDs, now, replacement); err != nil {
		return nil, err
	}

	if selected == nil {
		log.Printf("no replacement reviewer for %s, %s released", req.Key(), excludeReviewerID)
	} else {
		log.Printf("reassigned %s: %s -> %s", req.Key(), excludeReviewerID, selected.ID)
	}
	return selected, nil
}

func (e *Engine) resolveTeam(ctx context.Context, key models.RequestKey) (*models.ChannelConfig, error) {
	configs, err := e.store.ListChannelConfigs(ctx, key.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return ResolveTeam(configs, key.Repo), nil
}

func (e *Engine) selectFor(ctx context.Context, req *models.ReviewRequest, count int, excludes []string) ([]models.Reviewer, error) {
	pool, err := e.store.ListReviewers(ctx, req.WorkspaceID, req.TeamID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(pool))
	for _, r := range pool {
		ids = append(ids, r.ID)
	}
	openCounts, err := e.store.CountOpenAssignments(ctx, ids)
	if err != nil {
		return nil, err
	}

	return SelectReviewers(pool, openCounts, SelectionConstraints{
		Stack:              req.Stack,
		RequiredCount:      count,
		ExcludeIdentity:    req.Author,
		ExcludeReviewerIDs: excludes,
	}), nil
}

// refreshMessage はチャンネルのレビュー依頼メッセージを最新状態で投稿/更新する
// 失敗してもログに残すだけ
func (e *Engine) refreshMessage(ctx context.Context, requestID string) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		log.Printf("request message refresh error (request: %s): %v", requestID, err)
		return
	}
	if req.ChannelRef == "" {
		return
	}

	// 投稿と message_ref の書き戻しは同じリクエストキーで直列化する
	unlock := e.locks.Lock(req.Key().String())
	defer unlock()
	if req, err = e.store.GetRequest(ctx, requestID); err != nil {
		log.Printf("request message refresh error (request: %s): %v", requestID, err)
		return
	}

	assignments, err := e.store.ListAssignmentsByRequest(ctx, req.ID)
	if err != nil {
		log.Printf("request message refresh error (request: %s): %v", req.Key(), err)
		return
	}
	reviewers := make(map[string]models.Reviewer, len(assignments))
	for _, a := range assignments {
		if r, err := e.store.GetReviewer(ctx, a.ReviewerID); err == nil {
			reviewers[r.ID] = *r
		}
	}
	content := RenderRequestMessage(req, assignments, reviewers)

	var ref string
	err = retryWithBackoff(ctx, "post request message", e.cfg.PostRetryDelay, func() error {
		var perr error
		ref, perr = e.notifier.PostOrUpdateRequestMessage(ctx, req.ChannelRef, req.MessageRef, content)
		return perr
	})
	if err != nil {
		log.Printf("request message post error (request: %s, channel: %s): %v", req.Key(), req.ChannelRef, err)
		return
	}

	if ref != "" && ref != req.MessageRef {
		if err := e.store.UpdateRequest(ctx, req.ID, map[string]interface{}{"message_ref": ref}); err != nil {
			log.Printf("message ref update error (request: %s): %v", req.Key(), err)
		}
	}
}

func newAssignment(requestID, reviewerID string, now time.Time) models.Assignment {
	return models.Assignment{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		ReviewerID: reviewerID,
		Status:     models.AssignmentAssigned,
		CreatedAt:  now,
	}
}
