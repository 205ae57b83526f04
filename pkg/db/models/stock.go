package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStock is the stock ledger row for a catalog game.
type GameStock struct {
	GameID    uuid.UUID `gorm:"column:game_id;type:uuid;primaryKey"`
	Quantity  int       `gorm:"column:quantity;not null;default:0"`
	Reserved  int       `gorm:"column:reserved;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (GameStock) TableName() string { return "game_stock" }

// MerchStock is the stock ledger row for a merch item and size. Unsized
// items use the empty size.
type MerchStock struct {
	MerchItemID uuid.UUID `gorm:"column:merch_item_id;type:uuid;primaryKey"`
	Size        string    `gorm:"column:size;primaryKey"`
	Quantity    int       `gorm:"column:quantity;not null;default:0"`
	Reserved    int       `gorm:"column:reserved;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (MerchStock) TableName() string { return "merch_stock" }
