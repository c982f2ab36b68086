package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RequestStatus はレビュー依頼(PR)のライフサイクル状態
type RequestStatus string

const (
	RequestOpen   RequestStatus = "OPEN"
	RequestClosed RequestStatus = "CLOSED"
	RequestMerged RequestStatus = "MERGED"
)

// SizeClass はPRの変更量の分類
type SizeClass string

const (
	SizeXS SizeClass = "XS"
	SizeS  SizeClass = "S"
	SizeM  SizeClass = "M"
	SizeL  SizeClass = "L"
	SizeXL SizeClass = "XL"
)

// StackClass はPRが触る領域の分類
type StackClass string

const (
	StackFrontend StackClass = "FE"
	StackBackend  StackClass = "BE"
	StackMixed    StackClass = "MIXED"
)

var ErrInvalidKey = errors.New("invalid review request key")

// RequestKey はワークスペース・リポジトリ・PR番号の組で、レビュー依頼の冪等キー
type RequestKey struct {
	WorkspaceID string
	Repo        string
	Number      int
}

func (k RequestKey) Validate() error {
	if strings.TrimSpace(k.WorkspaceID) == "" || strings.TrimSpace(k.Repo) == "" || k.Number <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidKey, k)
	}
	return nil
}

func (k RequestKey) String() string {
	return fmt.Sprintf("%s:%s#%d", k.WorkspaceID, k.Repo, k.Number)
}

type ReviewRequest struct {
	ID          string            `gorm:"primaryKey"`
	WorkspaceID string            `gorm:"not null;uniqueIndex:idx_request_key"`
	Repo        string            `gorm:"not null;uniqueIndex:idx_request_key"`
	Number      int               `gorm:"not null;uniqueIndex:idx_request_key"`
	Title       string
	URL         string
	Author      string            // PR作成者の外部ID (GitHub login)
	Status      RequestStatus     `gorm:"index;not null;default:'OPEN'"`
	Size        SizeClass
	Stack       StackClass
	TicketKey   string
	TeamID      string
	ChannelRef  string            // 通知先のSlackチャンネル
	MessageRef  string            // 更新用のSlackメッセージts
	Metadata    map[string]string `gorm:"serializer:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r ReviewRequest) Key() RequestKey {
	return RequestKey{WorkspaceID: r.WorkspaceID, Repo: r.Repo, Number: r.Number}
}

func (r ReviewRequest) IsOpen() bool {
	return r.Status == RequestOpen
}
