package models

import "time"

// ActionRecord stores one accepted score-earning action per row, as an audit trail.
type ActionRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	ActionType   string    `gorm:"size:32;not null" json:"action_type"`
	TokenID      string    `gorm:"size:36;index" json:"token_id"`
	CompletionMs int64     `json:"completion_ms"`
	PointsEarned int       `json:"points_earned"`
	NewScore     int64     `json:"new_score"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}
