package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Direction is the side of a binary market being asserted
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// Valid reports whether the direction is one of the two known sides
func (d Direction) Valid() bool {
	return d == DirectionYes || d == DirectionNo
}

// PredictionRecord is the database side of a forecast. The ledger refs are
// append-only: once set they are never changed, mirroring the chain itself.
type PredictionRecord struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID          uuid.UUID        `gorm:"type:uuid;not null;index" json:"owner_id"`
	Question         string           `gorm:"size:1000" json:"question"`
	MarketID         string           `gorm:"size:255;not null;index" json:"market_id"`
	Platform         string           `gorm:"size:100" json:"platform"`
	Probability      decimal.Decimal  `gorm:"type:decimal(6,4);not null" json:"probability"`
	Direction        Direction        `gorm:"size:10;not null" json:"direction"`
	LedgerCommitRef  *string          `gorm:"size:255;index" json:"ledger_commit_ref,omitempty"`
	Committed        bool             `gorm:"default:false;index" json:"committed"`
	Outcome          *bool            `json:"outcome,omitempty"`
	Score            *decimal.Decimal `gorm:"type:decimal(6,4)" json:"score,omitempty"`
	LedgerResolveRef *string          `gorm:"size:255" json:"ledger_resolve_ref,omitempty"`
	Divergent        bool             `gorm:"default:false" json:"divergent"`
	CreatedAt        time.Time        `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	UpdatedAt        time.Time        `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PredictionRecord) TableName() string {
	return "prediction_records"
}

func (p *PredictionRecord) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Resolved reports whether an outcome has been recorded
func (p *PredictionRecord) Resolved() bool {
	return p.Outcome != nil
}
