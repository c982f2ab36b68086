package models

import "time"

type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "ASSIGNED"
	AssignmentInProgress AssignmentStatus = "IN_PROGRESS"
	AssignmentDone       AssignmentStatus = "DONE"
)

// CompletedAt は Status が DONE のときだけ設定される
type Assignment struct {
	ID          string           `gorm:"primaryKey"`
	RequestID   string           `gorm:"index;not null"`
	ReviewerID  string           `gorm:"index;not null"`
	Status      AssignmentStatus `gorm:"index;not null"`
	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (a Assignment) IsOpen() bool {
	return a.Status != AssignmentDone
}

// CanTransition は ASSIGNED -> IN_PROGRESS -> DONE の単調遷移(ASSIGNED -> DONE も可)を判定する
func CanTransition(from, to AssignmentStatus) bool {
	switch from {
	case AssignmentAssigned:
		return to == AssignmentInProgress || to == AssignmentDone
	case AssignmentInProgress:
		return to == AssignmentDone
	}
	return false
}

// EscalationState はスケジューラが保持するアサインごとのリマインド状態
type EscalationState struct {
	AssignmentID   string
	LastReminderAt *time.Time
	ReminderCount  int
	Escalated      bool
}
