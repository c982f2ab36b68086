package services

import (
	"sort"

	"slack-review-assign/models"
)

// SelectionConstraints はレビュワー選択の条件
type SelectionConstraints struct {
	Stack              models.StackClass
	RequiredCount      int
	ExcludeIdentity    string // PR作成者。セルフレビューを防ぐ
	ExcludeReviewerIDs []string
}

// SelectReviewers は負荷の低い順にレビュワーを選ぶ
// スコア = オープンなアサイン数 / max(MinWeight, weight)。同点は入力順を保つ
// 候補が足りなければ見つかった分だけ返し、エラーにはしない
func SelectReviewers(pool []models.Reviewer, openCounts map[string]int, c SelectionConstraints) []models.Reviewer {
	if c.RequiredCount <= 0 {
		return []models.Reviewer{}
	}

	excluded := make(map[string]bool, len(c.ExcludeReviewerIDs))
	for _, id := range c.ExcludeReviewerIDs {
		excluded[id] = true
	}

	type candidate struct {
		reviewer models.Reviewer
		score    float64
	}
	candidates := make([]candidate, 0, len(pool))
	for _, r := range pool {
		if !r.Active || r.Unavailable {
			continue
		}
		if excluded[r.ID] || r.MatchesIdentity(c.ExcludeIdentity) {
			continue
		}
		if !qualifiesForStack(r, c.Stack) {
			continue
		}
		candidates = append(candidates, candidate{
			reviewer: r,
			score:    float64(openCounts[r.ID]) / maxWeight(r.Weight),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score < candidates[j].score
	})

	n := c.RequiredCount
	if n > len(candidates) {
		n = len(candidates)
	}
	selected := make([]models.Reviewer, 0, n)
	for _, cand := range candidates[:n] {
		selected = append(selected, cand.reviewer)
	}
	return selected
}

func qualifiesForStack(r models.Reviewer, stack models.StackClass) bool {
	switch stack {
	case models.StackFrontend:
		return r.HasRole(models.RoleFrontend) || r.HasRole(models.RoleFullstack)
	case models.StackBackend:
		return r.HasRole(models.RoleBackend) || r.HasRole(models.RoleFullstack)
	}
	return true
}

func maxWeight(w float64) float64 {
	if w < models.MinWeight {
		return models.MinWeight
	}
	return w
}
