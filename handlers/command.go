package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"slack-review-assign/models"
	"slack-review-assign/services"
)

const commandName = "/review-assign"

// HandleSlackCommand はチーム設定とレビュワー登録のスラッシュコマンドを処理する
// チーム設定はコマンドを実行したチャンネルに紐づく
func HandleSlackCommand(db *gorm.DB, signingSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := verifySlackRequest(c, signingSecret); !ok {
			return
		}

		command := c.PostForm("command")
		text := c.PostForm("text")
		channelID := c.PostForm("channel_id")
		userID := c.PostForm("user_id")

		log.Printf("slack command received: command=%s, text=%s, channel=%s, user=%s",
			command, text, channelID, userID)

		if command != commandName {
			c.String(http.StatusOK, "不明なコマンドです。")
			return
		}

		parts := parseCommand(text)
		if len(parts) == 0 || parts[0] == "help" {
			showHelp(c)
			return
		}
		subCommand := parts[0]
		params := parts[1:]

		if subCommand == "init" {
			if len(params) != 2 {
				c.String(http.StatusOK, "ワークスペースとチームを指定してください。例: "+commandName+" init acme web")
				return
			}
			initChannel(c, db, channelID, params[0], params[1])
			return
		}

		var config models.ChannelConfig
		if err := db.Where("slack_channel_id = ?", channelID).First(&config).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.String(http.StatusOK, "このチャンネルにはチーム設定がありません。先に "+commandName+" init <workspace> <team> を実行してください。")
				return
			}
			log.Printf("channel config load error (channel: %s): %v", channelID, err)
			c.String(http.StatusOK, "設定の読み込みに失敗しました。")
			return
		}

		switch subCommand {
		case "show":
			showConfig(c, db, &config)

		case "add-repo":
			if len(params) == 0 {
				c.String(http.StatusOK, "リポジトリ名をカンマ区切りで指定してください。例: "+commandName+" add-repo owner/repo1,owner/repo2")
				return
			}
			addRepository(c, db, &config, strings.Join(params, ","))

		case "remove-repo":
			if len(params) == 0 {
				c.String(http.StatusOK, "リポジトリ名を指定してください。例: "+commandName+" remove-repo owner/repo")
				return
			}
			removeRepository(c, db, &config, params[0])

		case "set-reviewers":
			if len(params) == 0 {
				c.String(http.StatusOK, "1PRあたりのレビュワー数を指定してください。例: "+commandName+" set-reviewers 2")
				return
			}
			setRequiredReviewers(c, db, &config, params[0])

		case "set-business-hours-start":
			if len(params) == 0 || !services.IsValidClock(params[0]) {
				c.String(http.StatusOK, "時間形式が無効です。HH:MM形式で指定してください（例: 09:00）")
				return
			}
			updateConfig(c, db, &config, map[string]interface{}{"business_hours_start": params[0]},
				fmt.Sprintf("営業開始時間を %s に更新しました。", params[0]))

		case "set-business-hours-end":
			if len(params) == 0 || !services.IsValidClock(params[0]) {
				c.String(http.StatusOK, "時間形式が無効です。HH:MM形式で指定してください（例: 18:00）")
				return
			}
			updateConfig(c, db, &config, map[string]interface{}{"business_hours_end": params[0]},
				fmt.Sprintf("営業終了時間を %s に更新しました。", params[0]))

		case "set-timezone":
			if len(params) == 0 || !isValidTimezone(params[0]) {
				c.String(http.StatusOK, "無効なタイムゾーンです。例: Asia/Tokyo, UTC, America/New_York")
				return
			}
			updateConfig(c, db, &config, map[string]interface{}{"timezone": params[0]},
				fmt.Sprintf("タイムゾーンを %s に更新しました。", params[0]))

		case "activate":
			updateConfig(c, db, &config, map[string]interface{}{"is_active": true}, "このチャンネルのチーム設定を有効化しました。")

		case "deactivate":
			updateConfig(c, db, &config, map[string]interface{}{"is_active": false}, "このチャンネルのチーム設定を無効化しました。")

		case "join":
			joinTeam(c, db, &config, userID, params)

		case "leave":
			setReviewerFlags(c, db, &config, userID, map[string]interface{}{"active": false}, "レビュワーから外れました。")

		case "away":
			setReviewerFlags(c, db, &config, userID, map[string]interface{}{"unavailable": true}, "不在にしました。新しいレビューは割り当てられません。")

		case "back":
			setReviewerFlags(c, db, &config, userID, map[string]interface{}{"unavailable": false, "active": true}, "復帰しました。")

		case "set-weight":
			if len(params) == 0 {
				c.String(http.StatusOK, "重みを指定してください。例: "+commandName+" set-weight 0.5")
				return
			}
			weight, err := strconv.ParseFloat(params[0], 64)
			if err != nil || weight < 0 {
				c.String(http.StatusOK, "重みは0以上の数値で指定してください。")
				return
			}
			setReviewerFlags(c, db, &config, userID, map[string]interface{}{"weight": models.ClampWeight(weight)},
				fmt.Sprintf("重みを %.2f に更新しました。", models.ClampWeight(weight)))

		default:
			c.String(http.StatusOK, "不明なコマンドです。"+commandName+" help で使い方を確認してください。")
		}
	}
}

// parseCommand はコマンドテキストをクォート対応で解析する
func parseCommand(text string) []string {
	var parts []string
	var current strings.Builder
	var quote rune

	for _, r := range strings.TrimSpace(text) {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
		case quote == 0 && (r == ' ' || r == '\t'):
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func showHelp(c *gin.Context) {
	help := `*レビュワー自動アサインBot設定コマンド*
コマンド形式: /review-assign サブコマンド [引数]

*初期設定（必須）*
:point_right: *1. チャンネルをチームに紐づける*
   /review-assign init <workspace> <team>
:point_right: *2. 対象リポジトリの追加*
   /review-assign add-repo owner/repo

*チーム設定:*
• /review-assign show - このチャンネルの設定を表示
• /review-assign remove-repo owner/repo - リポジトリを削除
• /review-assign set-reviewers 2 - 1PRあたりのレビュワー数
• /review-assign set-business-hours-start 09:00 - 営業開始時間を設定
• /review-assign set-business-hours-end 18:00 - 営業終了時間を設定
• /review-assign set-timezone Asia/Tokyo - タイムゾーンを設定
• /review-assign activate | deactivate - 自動アサインの有効化/無効化

*レビュワー:*
• /review-assign join [frontend|backend|fullstack] [github-login] - レビュワーとして登録
• /review-assign leave - レビュワーから外れる
• /review-assign away | back - 一時的な不在/復帰
• /review-assign set-weight 0.5 - 割り当ての重み（小さいほど割り当てが減る）`

	c.String(http.StatusOK, help)
}

func initChannel(c *gin.Context, db *gorm.DB, channelID, workspaceID, teamID string) {
	var config models.ChannelConfig
	err := db.Where("workspace_id = ? AND team_id = ?", workspaceID, teamID).First(&config).Error
	if err == nil {
		err = db.Model(&config).Updates(map[string]interface{}{
			"slack_channel_id": channelID,
			"is_active":        true,
		}).Error
		if err != nil {
			log.Printf("channel config update error: %v", err)
			c.String(http.StatusOK, "設定の更新に失敗しました。")
			return
		}
		c.String(http.StatusOK, fmt.Sprintf("チーム「%s/%s」の通知先をこのチャンネルに変更しました。", workspaceID, teamID))
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("channel config load error: %v", err)
		c.String(http.StatusOK, "設定の読み込みに失敗しました。")
		return
	}

	config = models.ChannelConfig{
		ID:                 uuid.NewString(),
		WorkspaceID:        workspaceID,
		TeamID:             teamID,
		SlackChannelID:     channelID,
		RequiredReviewers:  1,
		BusinessHoursStart: "09:00",
		BusinessHoursEnd:   "18:00",
		Timezone:           "Asia/Tokyo",
		IsActive:           true,
	}
	if err := db.Create(&config).Error; err != nil {
		log.Printf("channel config create error: %v", err)
		c.String(http.StatusOK, "設定の作成に失敗しました。")
		return
	}
	log.Printf("channel config created: %s -> %s/%s", channelID, workspaceID, teamID)
	c.String(http.StatusOK, fmt.Sprintf("このチャンネルをチーム「%s/%s」に設定しました。", workspaceID, teamID))
}

func showConfig(c *gin.Context, db *gorm.DB, config *models.ChannelConfig) {
	var reviewers []models.Reviewer
	db.Where("workspace_id = ? AND team_id = ?", config.WorkspaceID, config.TeamID).
		Order("created_at, id").Find(&reviewers)

	status := "有効"
	if !config.IsActive {
		status = "無効"
	}
	repos := config.RepositoryList
	if repos == "" {
		repos = "(未設定)"
	}

	var names []string
	for _, r := range reviewers {
		name := fmt.Sprintf("<@%s>", r.NotifyID())
		switch {
		case !r.Active:
			name += " (停止中)"
		case r.Unavailable:
			name += " (不在)"
		}
		names = append(names, name)
	}
	reviewerList := "(未登録)"
	if len(names) > 0 {
		reviewerList = strings.Join(names, ", ")
	}

	response := fmt.Sprintf(`*このチャンネルのチーム設定*
- ワークスペース: %s
- チーム: %s
- ステータス: %s
- 対象リポジトリ: %s
- 1PRあたりのレビュワー数: %d
- 営業時間: %s - %s (%s)
- レビュワー: %s`,
		config.WorkspaceID, config.TeamID, status, repos, config.ReviewerCount(),
		config.BusinessHoursStart, config.BusinessHoursEnd, config.Timezone, reviewerList)

	c.String(http.StatusOK, response)
}

func addRepository(c *gin.Context, db *gorm.DB, config *models.ChannelConfig, repoNames string) {
	var added, skipped []string
	repos := splitList(config.RepositoryList)
	for _, name := range splitList(repoNames) {
		if !strings.Contains(name, "/") {
			skipped = append(skipped, name)
			continue
		}
		if services.IsRepositoryWatched(config, name) {
			skipped = append(skipped, name)
			continue
		}
		repos = append(repos, name)
		added = append(added, name)
	}

	if len(added) == 0 {
		c.String(http.StatusOK, fmt.Sprintf("追加できるリポジトリがありません: %s", strings.Join(skipped, ", ")))
		return
	}
	updateConfig(c, db, config, map[string]interface{}{"repository_list": strings.Join(repos, ",")},
		fmt.Sprintf("リポジトリを追加しました: %s", strings.Join(added, ", ")))
}

func removeRepository(c *gin.Context, db *gorm.DB, config *models.ChannelConfig, repoName string) {
	var kept []string
	removed := false
	for _, name := range splitList(config.RepositoryList) {
		if strings.EqualFold(name, repoName) {
			removed = true
			continue
		}
		kept = append(kept, name)
	}

	if !removed {
		c.String(http.StatusOK, fmt.Sprintf("リポジトリ %s は登録されていません。", repoName))
		return
	}
	updateConfig(c, db, config, map[string]interface{}{"repository_list": strings.Join(kept, ",")},
		fmt.Sprintf("リポジトリ %s を削除しました。", repoName))
}

func setRequiredReviewers(c *gin.Context, db *gorm.DB, config *models.ChannelConfig, value string) {
	count, err := strconv.Atoi(value)
	if err != nil || count < 1 || count > 10 {
		c.String(http.StatusOK, "レビュワー数は1から10の整数で指定してください。")
		return
	}
	updateConfig(c, db, config, map[string]interface{}{"required_reviewers": count},
		fmt.Sprintf("1PRあたりのレビュワー数を %d に更新しました。", count))
}

func updateConfig(c *gin.Context, db *gorm.DB, config *models.ChannelConfig, changes map[string]interface{}, message string) {
	if err := db.Model(config).Updates(changes).Error; err != nil {
		log.Printf("channel config update error (channel: %s): %v", config.SlackChannelID, err)
		c.String(http.StatusOK, "設定の更新に失敗しました。")
		return
	}
	c.String(http.StatusOK, message)
}

// joinTeam はコマンドの実行者をチャンネルのチームのレビュワーとして登録する
func joinTeam(c *gin.Context, db *gorm.DB, config *models.ChannelConfig, userID string, params []string) {
	role := models.RoleFullstack
	var alias string
	for _, p := range params {
		switch p {
		case models.RoleFrontend, models.RoleBackend, models.RoleFullstack:
			role = p
		default:
			alias = strings.TrimPrefix(p, "@")
		}
	}

	var reviewer models.Reviewer
	err := db.Where("workspace_id = ? AND slack_user_id = ?", config.WorkspaceID, userID).First(&reviewer).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("reviewer load error: %v", err)
		c.String(http.StatusOK, "レビュワーの読み込みに失敗しました。")
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		reviewer = models.Reviewer{
			ID:          uuid.NewString(),
			WorkspaceID: config.WorkspaceID,
			SlackUserID: userID,
			Weight:      models.DefaultWeight,
			CreatedAt:   time.Now(),
		}
	}

	reviewer.TeamID = config.TeamID
	reviewer.Roles = []string{role}
	reviewer.Active = true
	if alias != "" && !reviewer.MatchesIdentity(alias) {
		reviewer.Aliases = append(reviewer.Aliases, alias)
	}

	if err := db.Save(&reviewer).Error; err != nil {
		log.Printf("reviewer save error: %v", err)
		c.String(http.StatusOK, "レビュワーの登録に失敗しました。")
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("<@%s> をチーム「%s」のレビュワー (%s) に登録しました。", userID, config.TeamID, role))
}

func setReviewerFlags(c *gin.Context, db *gorm.DB, config *models.ChannelConfig, userID string, changes map[string]interface{}, message string) {
	result := db.Model(&models.Reviewer{}).
		Where("workspace_id = ? AND slack_user_id = ?", config.WorkspaceID, userID).
		Updates(changes)
	if result.Error != nil {
		log.Printf("reviewer update error: %v", result.Error)
		c.String(http.StatusOK, "レビュワーの更新に失敗しました。")
		return
	}
	if result.RowsAffected == 0 {
		c.String(http.StatusOK, "レビュワーとして登録されていません。"+commandName+" join で登録してください。")
		return
	}
	c.String(http.StatusOK, message)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// タイムゾーンをバリデート
func isValidTimezone(timezone string) bool {
	_, err := time.LoadLocation(timezone)
	return err == nil
}
