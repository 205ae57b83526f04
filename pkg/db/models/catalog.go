package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/pkg/types"
)

// Game is a catalog item. Stock is the legacy denormalized counter kept in
// sync with game_stock (quantity - reserved) and never written independently.
type Game struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SKU        string    `gorm:"column:sku;not null;uniqueIndex"`
	Name       string    `gorm:"column:name;not null"`
	PriceCents int       `gorm:"column:price_cents;not null"`
	Stock      int       `gorm:"column:stock;not null;default:0"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (g *Game) BeforeCreate(*gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// MerchItem is a merchandise item; sized items keep one stock row per size.
type MerchItem struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SKU        string           `gorm:"column:sku;not null;uniqueIndex"`
	Name       string           `gorm:"column:name;not null"`
	PriceCents int              `gorm:"column:price_cents;not null"`
	Stock      int              `gorm:"column:stock;not null;default:0"`
	Sizes      types.StringList `gorm:"column:sizes;type:jsonb;serializer:json"`
	// SizeStock is the opening stock per size. When empty, Stock is split
	// across Sizes.
	SizeStock     map[string]int `gorm:"column:size_stock;type:jsonb;serializer:json"`
	PrintOnDemand bool           `gorm:"column:print_on_demand;not null;default:false"`
	Active        bool           `gorm:"column:active;not null;default:true"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (MerchItem) TableName() string { return "merch_items" }

func (m *MerchItem) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
