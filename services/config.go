package services

import (
	"log"
	"regexp"
	"strings"

	"github.com/google/go-github/v71/github"

	"slack-review-assign/models"
)

// IsRepositoryWatched はリポジトリがチーム設定の対象かをチェックする
func IsRepositoryWatched(config *models.ChannelConfig, repoFullName string) bool {
	if config == nil {
		return false
	}
	if config.RepositoryList == "" {
		return false
	}

	for _, repo := range strings.Split(config.RepositoryList, ",") {
		if strings.EqualFold(strings.TrimSpace(repo), repoFullName) {
			return true
		}
	}
	return false
}

// ResolveTeam はリポジトリを担当する最初の有効なチーム設定を返す
// 見つからなければ nil (ワークスペース全体のプールを使う)
func ResolveTeam(configs []models.ChannelConfig, repoFullName string) *models.ChannelConfig {
	for i := range configs {
		if !configs[i].IsActive {
			continue
		}
		if IsRepositoryWatched(&configs[i], repoFullName) {
			return &configs[i]
		}
	}
	log.Printf("no team watches repository %s, using workspace pool", repoFullName)
	return nil
}

// ラベル名 -> スタック分類
var stackLabels = map[string]models.StackClass{
	"frontend": models.StackFrontend,
	"fe":       models.StackFrontend,
	"backend":  models.StackBackend,
	"be":       models.StackBackend,
}

// ClassifyStack はPRのラベルから FE / BE / MIXED を判定する
// 両方付いている、またはどちらも無い場合は MIXED
func ClassifyStack(labels []*github.Label) models.StackClass {
	found := make(map[models.StackClass]bool)
	for _, label := range labels {
		if stack, ok := stackLabels[strings.ToLower(label.GetName())]; ok {
			found[stack] = true
		}
	}

	if len(found) != 1 {
		return models.StackMixed
	}
	for stack := range found {
		return stack
	}
	return models.StackMixed
}

// ClassifySize は追加行数+削除行数からサイズを判定する
func ClassifySize(additions, deletions int) models.SizeClass {
	changed := additions + deletions
	switch {
	case changed < 10:
		return models.SizeXS
	case changed < 100:
		return models.SizeS
	case changed < 400:
		return models.SizeM
	case changed < 1000:
		return models.SizeL
	}
	return models.SizeXL
}

var ticketKeyPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)

// ExtractTicketKey はタイトルやブランチ名から "ABC-123" 形式のチケットキーを探す
func ExtractTicketKey(texts ...string) string {
	for _, text := range texts {
		if m := ticketKeyPattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
