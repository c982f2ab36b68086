package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"slack-review-assign/models"
)

// SchedulerConfig はリマインド/エスカレーションの設定
type SchedulerConfig struct {
	Enabled            bool
	Interval           time.Duration
	FirstReminderAfter time.Duration
	EscalateAfter      time.Duration
	Cooldown           time.Duration
	// 対象ワークスペース。空なら全ワークスペース
	WorkspaceIDs []string
	// レビュー依頼にチャンネルが無い場合のエスカレーション先
	FallbackChannel string
	Now             func() time.Time
}

// SweepResult は1回のスイープの集計
type SweepResult struct {
	Reminders   int
	Escalations int
	Failures    int
	Skipped     int
}

type escalationAction int

const (
	actionNone escalationAction = iota
	actionRemind
	actionEscalate
)

// Scheduler は定期的にオープンなアサインを走査し、リマインドとエスカレーションを送る
// 送信は at-most-once: 送信に失敗しても状態は進める
type Scheduler struct {
	store    Store
	notifier Notifier
	gate     UsageGate
	cfg      SchedulerConfig

	mu     sync.Mutex
	states map[string]*models.EscalationState

	// スイープの実行と Stop を直列化する
	sweepMu  sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	started  bool
	stopped  bool
}

func NewScheduler(store Store, notifier Notifier, gate UsageGate, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.FirstReminderAfter <= 0 {
		cfg.FirstReminderAfter = 24 * time.Hour
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = 48 * time.Hour
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 12 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if gate == nil {
		gate = AllowAllGate{}
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		gate:     gate,
		cfg:      cfg,
		states:   make(map[string]*models.EscalationState),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start はスケジューラを開始する。無効化されている場合は何もしない
// 起動直後に1回スイープし、以降 Interval ごとに実行する
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("reminder scheduler is disabled")
		return
	}

	s.sweepMu.Lock()
	if s.started || s.stopped {
		s.sweepMu.Unlock()
		return
	}
	s.started = true
	s.sweepMu.Unlock()

	// 処理中のスイープはキャンセルで中断させない
	sweepCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(s.done)

		s.runSweep(sweepCtx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runSweep(sweepCtx)
			}
		}
	}()

	log.Printf("reminder scheduler started (interval: %s)", s.cfg.Interval)
}

// Stop は実行中のスイープの完了を待ってから停止する。複数回呼んでもよい
// Stop が戻った後に新しいスイープは始まらない
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.sweepMu.Lock()
		started := s.started
		s.stopped = true
		s.sweepMu.Unlock()

		if started {
			<-s.done
		}
		log.Println("reminder scheduler stopped")
	})
}

func (s *Scheduler) runSweep(ctx context.Context) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.stopped {
		return
	}

	result := s.sweep(ctx)
	if result.Reminders+result.Escalations+result.Failures > 0 {
		log.Printf("reminder sweep finished (reminders: %d, escalations: %d, failures: %d, skipped: %d)",
			result.Reminders, result.Escalations, result.Failures, result.Skipped)
	}
}

// Sweep は1回分の走査を同期的に実行する
func (s *Scheduler) Sweep(ctx context.Context) SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	return s.sweep(ctx)
}

// State はアサインのエスカレーション状態のコピーを返す
func (s *Scheduler) State(assignmentID string) (models.EscalationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[assignmentID]
	if !ok {
		return models.EscalationState{}, false
	}
	return *st, true
}

// sweepCache はスイープ1回分のメモ
type sweepCache struct {
	requests map[string]*models.ReviewRequest
	configs  map[string][]models.ChannelConfig
}

func (s *Scheduler) sweep(ctx context.Context) SweepResult {
	var result SweepResult
	now := s.cfg.Now()

	reviewers, err := s.store.ListActiveReviewers(ctx, s.cfg.WorkspaceIDs)
	if err != nil {
		log.Printf("reminder sweep: failed to list reviewers: %v", err)
		return result
	}

	byWorkspace := make(map[string][]models.Reviewer)
	var workspaces []string
	for _, r := range reviewers {
		if _, ok := byWorkspace[r.WorkspaceID]; !ok {
			workspaces = append(workspaces, r.WorkspaceID)
		}
		byWorkspace[r.WorkspaceID] = append(byWorkspace[r.WorkspaceID], r)
	}

	cache := &sweepCache{
		requests: make(map[string]*models.ReviewRequest),
		configs:  make(map[string][]models.ChannelConfig),
	}
	seen := make(map[string]bool)

	for _, ws := range workspaces {
		if !s.gate.IsFeatureEnabled(ctx, ws, FeatureReminders) {
			log.Printf("reminders disabled for workspace: %s", ws)
			result.Skipped += len(byWorkspace[ws])
			continue
		}

		for _, reviewer := range byWorkspace[ws] {
			assignments, err := s.store.ListOpenAssignmentsByReviewer(ctx, reviewer.ID)
			if err != nil {
				log.Printf("reminder sweep: failed to list assignments (reviewer: %s): %v", reviewer.ID, err)
				continue
			}
			for i := range assignments {
				seen[assignments[i].ID] = true
				s.processAssignment(ctx, &reviewer, &assignments[i], now, cache, &result)
			}
		}
	}

	s.prune(ctx, seen)
	return result
}

func (s *Scheduler) processAssignment(ctx context.Context, reviewer *models.Reviewer, a *models.Assignment, now time.Time, cache *sweepCache, result *SweepResult) {
	req, err := s.loadRequest(ctx, a.RequestID, cache)
	if err != nil {
		log.Printf("reminder sweep: failed to load request (assignment: %s): %v", a.ID, err)
		return
	}
	if req == nil || !req.IsOpen() {
		result.Skipped++
		return
	}

	if !IsWithinBusinessHours(s.teamConfig(ctx, req, cache), now) {
		result.Skipped++
		return
	}

	s.mu.Lock()
	st, ok := s.states[a.ID]
	if !ok {
		st = &models.EscalationState{AssignmentID: a.ID}
		s.states[a.ID] = st
	}
	snapshot := *st
	s.mu.Unlock()

	elapsed := now.Sub(a.CreatedAt)
	action := evaluate(snapshot, elapsed, now, s.cfg)
	if action == actionNone {
		return
	}

	summary := SummarizeRequest(req)
	var sendErr error
	switch action {
	case actionEscalate:
		channel := req.ChannelRef
		if channel == "" {
			channel = s.cfg.FallbackChannel
		}
		sendErr = s.notifier.SendEscalation(ctx, channel, reviewer.NotifyID(), summary, elapsed)
		result.Escalations++
	case actionRemind:
		sendErr = s.notifier.SendReminder(ctx, reviewer.NotifyID(), summary, elapsed)
		result.Reminders++
	}
	if sendErr != nil {
		result.Failures++
		log.Printf("reminder send error (assignment: %s, reviewer: %s, request: %s): %v", a.ID, reviewer.ID, summary, sendErr)
	}

	s.mu.Lock()
	sentAt := now
	st.LastReminderAt = &sentAt
	st.ReminderCount++
	if action == actionEscalate {
		st.Escalated = true
	}
	s.mu.Unlock()
}

// evaluate は経過時間と状態から送る通知を決める
func evaluate(st models.EscalationState, elapsed time.Duration, now time.Time, cfg SchedulerConfig) escalationAction {
	if st.Escalated {
		return actionNone
	}
	if st.LastReminderAt != nil && now.Sub(*st.LastReminderAt) < cfg.Cooldown {
		return actionNone
	}
	if elapsed >= cfg.EscalateAfter {
		return actionEscalate
	}
	if elapsed >= cfg.FirstReminderAfter {
		return actionRemind
	}
	return actionNone
}

func (s *Scheduler) loadRequest(ctx context.Context, requestID string, cache *sweepCache) (*models.ReviewRequest, error) {
	if req, ok := cache.requests[requestID]; ok {
		return req, nil
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			cache.requests[requestID] = nil
			return nil, nil
		}
		return nil, err
	}
	cache.requests[requestID] = req
	return req, nil
}

// teamConfig はレビュー依頼のチームの設定を返す。チーム未設定なら nil
func (s *Scheduler) teamConfig(ctx context.Context, req *models.ReviewRequest, cache *sweepCache) *models.ChannelConfig {
	if req.TeamID == "" {
		return nil
	}
	configs, ok := cache.configs[req.WorkspaceID]
	if !ok {
		var err error
		configs, err = s.store.ListChannelConfigs(ctx, req.WorkspaceID)
		if err != nil {
			log.Printf("reminder sweep: failed to load channel configs (workspace: %s): %v", req.WorkspaceID, err)
		}
		cache.configs[req.WorkspaceID] = configs
	}
	for i := range configs {
		if configs[i].TeamID == req.TeamID {
			return &configs[i]
		}
	}
	return nil
}

// prune は完了・削除されたアサインの状態を捨てる
func (s *Scheduler) prune(ctx context.Context, seen map[string]bool) {
	s.mu.Lock()
	var candidates []string
	for id := range s.states {
		if !seen[id] {
			candidates = append(candidates, id)
		}
	}
	s.mu.Unlock()

	for _, id := range candidates {
		a, err := s.store.GetAssignment(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			continue
		}
		if err == nil && a.IsOpen() {
			continue
		}
		s.mu.Lock()
		delete(s.states, id)
		s.mu.Unlock()
	}
}
