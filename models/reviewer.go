package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// レビュワーのロール
const (
	RoleFrontend  = "frontend"
	RoleBackend   = "backend"
	RoleFullstack = "fullstack"
)

const (
	// MinWeight はスコア計算でゼロ除算を避けるための重みの下限
	MinWeight     = 0.1
	DefaultWeight = 1.0
)

type Reviewer struct {
	ID          string   `gorm:"primaryKey"`
	WorkspaceID string   `gorm:"index;not null"`
	TeamID      string   `gorm:"index"`
	Name        string
	SlackUserID string   `gorm:"index"`
	Aliases     []string `gorm:"serializer:json"` // GitHub login など外部ID
	Roles       []string `gorm:"serializer:json"`
	Weight      float64  `gorm:"not null;default:1"`
	Active      bool     `gorm:"index"`
	Unavailable bool     // 休暇などの一時的な不在
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ClampWeight は未設定(0)をデフォルトに、下限未満をMinWeightに丸める
func ClampWeight(w float64) float64 {
	if w == 0 {
		return DefaultWeight
	}
	if w < MinWeight {
		return MinWeight
	}
	return w
}

// BeforeSave は保存時に重みの不変条件を強制する
func (r *Reviewer) BeforeSave(tx *gorm.DB) error {
	r.Weight = ClampWeight(r.Weight)
	return nil
}

// MatchesIdentity は内部ID・Slack ID・エイリアスのいずれかに一致するかを返す
func (r Reviewer) MatchesIdentity(identity string) bool {
	if identity == "" {
		return false
	}
	if r.ID == identity || r.SlackUserID == identity {
		return true
	}
	for _, alias := range r.Aliases {
		if strings.EqualFold(alias, identity) {
			return true
		}
	}
	return false
}

func (r Reviewer) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// NotifyID はSlack通知に使うIDを返す
func (r Reviewer) NotifyID() string {
	if r.SlackUserID != "" {
		return r.SlackUserID
	}
	return r.ID
}
