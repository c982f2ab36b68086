package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/go-github/v71/github"

	"slack-review-assign/models"
)

var pullRequestURLPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/pull/(\d+)`)

// NewGitHubClient は GitHub API クライアントを作成する
// トークンが空なら認証なしのクライアントを返す
func NewGitHubClient(token string, baseURL string) (*github.Client, error) {
	client := github.NewClient(nil)
	if token == "" {
		log.Println("GITHUB_TOKEN is not set, using unauthenticated client")
	} else {
		client = client.WithAuthToken(token)
	}

	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url %q: %w", baseURL, err)
		}
	}
	return client, nil
}

// ParsePullRequestURL はPRのURLからレビュー依頼のキーを作る
// ワークスペースはリポジトリのオーナー
func ParsePullRequestURL(prURL string) (models.RequestKey, error) {
	matches := pullRequestURLPattern.FindStringSubmatch(prURL)
	if len(matches) != 4 {
		return models.RequestKey{}, fmt.Errorf("invalid PR URL format: %s", prURL)
	}

	number, err := strconv.Atoi(matches[3])
	if err != nil {
		return models.RequestKey{}, fmt.Errorf("failed to parse PR number: %w", err)
	}

	return models.RequestKey{
		WorkspaceID: matches[1],
		Repo:        matches[1] + "/" + matches[2],
		Number:      number,
	}, nil
}

// PullRequestMetadata はPRの情報からエンジンに渡すメタデータを作る
func PullRequestMetadata(pr *github.PullRequest) RequestMetadata {
	meta := RequestMetadata{
		Title:     pr.GetTitle(),
		URL:       pr.GetHTMLURL(),
		Author:    pr.GetUser().GetLogin(),
		Size:      ClassifySize(pr.GetAdditions(), pr.GetDeletions()),
		Stack:     ClassifyStack(pr.Labels),
		TicketKey: ExtractTicketKey(pr.GetTitle(), pr.GetHead().GetRef()),
		Extra:     map[string]string{},
	}
	if name := authorDisplayName(pr.GetUser()); name != "" {
		meta.Extra["author_name"] = name
	}
	if ref := pr.GetHead().GetRef(); ref != "" {
		meta.Extra["branch"] = ref
	}
	return meta
}

// authorDisplayName は Name があれば Name を、なければ Login を返す
func authorDisplayName(user *github.User) string {
	if name := strings.TrimSpace(user.GetName()); name != "" {
		return name
	}
	return user.GetLogin()
}

// FetchPullRequest はGitHub APIからPRを取得する (webhookを通らない手動登録用)
func FetchPullRequest(ctx context.Context, client *github.Client, key models.RequestKey) (*github.PullRequest, error) {
	owner, repo, ok := strings.Cut(key.Repo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repository name: %s", key.Repo)
	}

	pr, _, err := client.PullRequests.Get(ctx, owner, repo, key.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PR %s: %w", key, err)
	}
	return pr, nil
}
