package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"github.com/tabletopforge/storefront-backend/pkg/types"
)

// Item is the priced view of a sellable catalog or merch item.
type Item struct {
	Kind          enums.ItemKind
	ID            uuid.UUID
	Name          string
	PriceCents    int
	NominalStock  int
	Sizes         types.StringList
	SizeStock     map[string]int
	PrintOnDemand bool
}

// NominalFor returns the opening stock of one ledger row. Sized merch uses its
// per-size count when configured. Otherwise the item stock is split across
// the sizes in listed order, earlier sizes taking the remainder, so the sizes
// together never exceed the item total.
func (i *Item) NominalFor(variant string) int {
	if len(i.Sizes) == 0 {
		return i.NominalStock
	}
	if len(i.SizeStock) > 0 {
		return max(i.SizeStock[variant], 0)
	}
	idx := slices.Index(i.Sizes, variant)
	if idx < 0 {
		return 0
	}
	share := i.NominalStock / len(i.Sizes)
	if idx < i.NominalStock%len(i.Sizes) {
		share++
	}
	return share
}

// Reader loads items for pricing and lazy stock initialization.
type Reader interface {
	WithTx(tx *gorm.DB) Reader
	Find(ctx context.Context, kind enums.ItemKind, id uuid.UUID) (*Item, error)
}

// Repository reads games and merch items through gorm.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) Reader {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Find returns the active item or a NOT_FOUND error.
func (r *Repository) Find(ctx context.Context, kind enums.ItemKind, id uuid.UUID) (*Item, error) {
	switch kind {
	case enums.ItemKindGame:
		var game models.Game
		err := r.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&game).Error
		if err != nil {
			return nil, notFound(err, kind, id)
		}
		return &Item{
			Kind:         kind,
			ID:           game.ID,
			Name:         game.Name,
			PriceCents:   game.PriceCents,
			NominalStock: game.Stock,
		}, nil
	case enums.ItemKindMerch:
		var merch models.MerchItem
		err := r.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&merch).Error
		if err != nil {
			return nil, notFound(err, kind, id)
		}
		return &Item{
			Kind:          kind,
			ID:            merch.ID,
			Name:          merch.Name,
			PriceCents:    merch.PriceCents,
			NominalStock:  merch.Stock,
			Sizes:         merch.Sizes,
			SizeStock:     merch.SizeStock,
			PrintOnDemand: merch.PrintOnDemand,
		}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown item kind %q", kind))
	}
}

func notFound(err error, kind enums.ItemKind, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %s not found", kind, id)).
			WithDetails(map[string]any{"kind": kind, "id": id})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load catalog item")
}
