package model

import (
	"time"

	"legal-qa-be/pkg/dispatch"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ChatTurn struct {
	Id            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ChatSessionId uuid.UUID `gorm:"type:uuid;not null;index"`
	Role          string    `gorm:"type:varchar(50);not null"`
	Content       string    `gorm:"type:text;not null"`
	Mode          string    `gorm:"type:varchar(50)"`
	Errored       bool      `gorm:"not null;default:false"`
	VerifiedCases datatypes.JSONType[[]dispatch.VerifiedCase] `gorm:"column:verified_cases"`
	VerifiedNpa   datatypes.JSONType[[]dispatch.VerifiedNpa]  `gorm:"column:verified_npa"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (ChatTurn) TableName() string {
	return "chat_turns"
}
