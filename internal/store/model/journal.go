package model

import "gorm.io/datatypes"

// ActionRecord maps to 'action_journal'. Times are unix milliseconds.
type ActionRecord struct {
	ID              string         `gorm:"column:id;primaryKey;size:36"`
	Kind            string         `gorm:"column:kind;index:idx_action_kind_finished,priority:1"`
	Target          string         `gorm:"column:target"`
	Success         bool           `gorm:"column:success"`
	Message         string         `gorm:"column:message"`
	ErrorKind       string         `gorm:"column:error_kind"`
	Reason          string         `gorm:"column:reason"`
	PositionsClosed int            `gorm:"column:positions_closed"`
	BotActive       *bool          `gorm:"column:bot_active"`
	Details         datatypes.JSON `gorm:"column:details"`
	StartedAt       int64          `gorm:"column:started_at"`
	FinishedAt      int64          `gorm:"column:finished_at;index;index:idx_action_kind_finished,priority:2"`
}

func (ActionRecord) TableName() string { return "action_journal" }
