package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tabletopforge/storefront-backend/internal/catalog"
	"github.com/tabletopforge/storefront-backend/pkg/db/models"
	"github.com/tabletopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"github.com/tabletopforge/storefront-backend/pkg/metrics"
)

// StockKey identifies one ledger row. Variant is the merch size and is empty
// for games and unsized merch.
type StockKey struct {
	Kind    enums.ItemKind
	ItemID  uuid.UUID
	Variant string
}

func (k StockKey) String() string {
	if k.Variant == "" {
		return fmt.Sprintf("%s:%s", k.Kind, k.ItemID)
	}
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.ItemID, k.Variant)
}

// StockLevel is a point-in-time read of a ledger row.
type StockLevel struct {
	Key      StockKey
	Quantity int
	Reserved int
}

func (s StockLevel) Available() int {
	return s.Quantity - s.Reserved
}

// Ledger is the only writer of stock rows. All methods must run inside the
// caller's transaction (see WithTx) so reservations for one order commit or
// roll back together.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	Reserve(ctx context.Context, key StockKey, qty int) (StockLevel, error)
	Release(ctx context.Context, key StockKey, qty int) error
	Commit(ctx context.Context, key StockKey, qty int) error
	Get(ctx context.Context, key StockKey) (StockLevel, error)
}

type GormLedger struct {
	db      *gorm.DB
	catalog catalog.Reader
	logg    *logger.Logger
	metrics *metrics.OrderMetrics
	// afterRead runs between the availability read and the conditional write.
	afterRead func(StockKey)
}

// NewLedger builds a ledger over db. The catalog reader supplies nominal stock
// for rows created on first use and the names used in error details.
func NewLedger(db *gorm.DB, cat catalog.Reader, logg *logger.Logger, m *metrics.OrderMetrics) *GormLedger {
	if logg == nil {
		logg = logger.Nop()
	}
	return &GormLedger{db: db, catalog: cat, logg: logg, metrics: m}
}

func (l *GormLedger) WithTx(tx *gorm.DB) Ledger {
	if tx == nil {
		return l
	}
	bound := *l
	bound.db = tx
	if l.catalog != nil {
		bound.catalog = l.catalog.WithTx(tx)
	}
	return &bound
}

// Reserve holds qty units. It fails with INSUFFICIENT_STOCK when the fresh
// read shows too little stock and with CONFLICT when the conditional write
// loses to a concurrent reserver.
func (l *GormLedger) Reserve(ctx context.Context, key StockKey, qty int) (StockLevel, error) {
	if qty <= 0 {
		return StockLevel{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	level, err := l.ensure(ctx, key)
	if err != nil {
		return StockLevel{}, err
	}

	if level.Available() < qty {
		l.metrics.ObserveReservation(key.Kind.String(), metrics.OutcomeInsufficient)
		return level, pkgerrors.InsufficientStock(l.displayName(ctx, key), level.Available(), qty)
	}

	if l.afterRead != nil {
		l.afterRead(key)
	}
	if err := l.reserveCAS(ctx, key, qty); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			l.metrics.ObserveReservation(key.Kind.String(), metrics.OutcomeConflict)
		}
		return level, err
	}
	l.metrics.ObserveReservation(key.Kind.String(), metrics.OutcomeReserved)

	level.Reserved += qty
	if err := l.syncLegacyCounter(ctx, key); err != nil {
		return level, err
	}
	return level, nil
}

// reserveCAS increments reserved only while quantity still covers it.
func (l *GormLedger) reserveCAS(ctx context.Context, key StockKey, qty int) error {
	res := l.scope(ctx, key).
		Where("quantity >= reserved + ?", qty).
		Updates(map[string]any{"reserved": gorm.Expr("reserved + ?", qty)})
	if res.Error != nil {
		return fmt.Errorf("reserve %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "another buyer took this stock").
			WithDetails(map[string]any{"item": key.String()})
	}
	return nil
}

// Release returns qty held units to the pool, clamping at zero.
func (l *GormLedger) Release(ctx context.Context, key StockKey, qty int) error {
	if qty <= 0 {
		return nil
	}
	level, found, err := l.load(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		l.logg.Warn(l.logg.WithField(ctx, "stock_key", key.String()), "release on missing stock row ignored")
		return nil
	}

	amount := qty
	if level.Reserved < qty {
		warnCtx := l.logg.WithFields(ctx, map[string]any{
			"stock_key": key.String(),
			"reserved":  level.Reserved,
			"requested": qty,
		})
		l.logg.Warn(warnCtx, "release exceeds reserved stock; clamping at zero")
		amount = level.Reserved
	}
	if amount == 0 {
		return nil
	}

	res := l.scope(ctx, key).
		Where("reserved >= ?", amount).
		Updates(map[string]any{"reserved": gorm.Expr("reserved - ?", amount)})
	if res.Error != nil {
		return fmt.Errorf("release %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "stock changed during release")
	}
	return l.syncLegacyCounter(ctx, key)
}

// Commit permanently consumes qty held units: quantity and reserved drop
// together.
func (l *GormLedger) Commit(ctx context.Context, key StockKey, qty int) error {
	if qty <= 0 {
		return nil
	}
	res := l.scope(ctx, key).
		Where("reserved >= ? AND quantity >= ?", qty, qty).
		Updates(map[string]any{
			"quantity": gorm.Expr("quantity - ?", qty),
			"reserved": gorm.Expr("reserved - ?", qty),
		})
	if res.Error != nil {
		return fmt.Errorf("commit %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		level, found, err := l.load(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("no stock row for %s", key))
		}
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("cannot commit %d of %s: %d reserved", qty, key, level.Reserved))
	}
	return l.syncLegacyCounter(ctx, key)
}

// Get reads a stock row, creating it from nominal stock when absent.
func (l *GormLedger) Get(ctx context.Context, key StockKey) (StockLevel, error) {
	return l.ensure(ctx, key)
}

func (l *GormLedger) scope(ctx context.Context, key StockKey) *gorm.DB {
	switch key.Kind {
	case enums.ItemKindMerch:
		return l.db.WithContext(ctx).Model(&models.MerchStock{}).
			Where("merch_item_id = ? AND size = ?", key.ItemID, key.Variant)
	default:
		return l.db.WithContext(ctx).Model(&models.GameStock{}).
			Where("game_id = ?", key.ItemID)
	}
}

func (l *GormLedger) load(ctx context.Context, key StockKey) (StockLevel, bool, error) {
	if !key.Kind.IsValid() {
		return StockLevel{}, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown item kind %q", key.Kind))
	}
	var row struct {
		Quantity int
		Reserved int
	}
	res := l.scope(ctx, key).Select("quantity", "reserved").Limit(1).Find(&row)
	if res.Error != nil {
		return StockLevel{}, false, fmt.Errorf("load stock %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return StockLevel{Key: key}, false, nil
	}
	return StockLevel{Key: key, Quantity: row.Quantity, Reserved: row.Reserved}, true, nil
}

// ensure returns the row, lazily creating it from the catalog's nominal
// stock. A concurrent creator wins silently via ON CONFLICT DO NOTHING.
func (l *GormLedger) ensure(ctx context.Context, key StockKey) (StockLevel, error) {
	level, found, err := l.load(ctx, key)
	if err != nil || found {
		return level, err
	}

	if l.catalog == nil {
		return StockLevel{}, pkgerrors.New(pkgerrors.CodeInternal, "stock ledger has no catalog reader")
	}
	item, err := l.catalog.Find(ctx, key.Kind, key.ItemID)
	if err != nil {
		return StockLevel{}, err
	}

	var row any
	switch key.Kind {
	case enums.ItemKindMerch:
		if len(item.Sizes) > 0 && !item.Sizes.Contains(key.Variant) {
			return StockLevel{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("size %q is not offered for %s", key.Variant, item.Name))
		}
		row = &models.MerchStock{MerchItemID: key.ItemID, Size: key.Variant, Quantity: item.NominalFor(key.Variant)}
	default:
		row = &models.GameStock{GameID: key.ItemID, Quantity: item.NominalFor(key.Variant)}
	}

	if err := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return StockLevel{}, fmt.Errorf("create stock %s: %w", key, err)
	}

	level, found, err = l.load(ctx, key)
	if err != nil {
		return StockLevel{}, err
	}
	if !found {
		return StockLevel{}, pkgerrors.New(pkgerrors.CodeConflict, "stock row vanished during initialization")
	}
	return level, nil
}

// syncLegacyCounter keeps games.stock equal to the ledger's available units
// for older read paths. The ledger stays the only source of truth.
func (l *GormLedger) syncLegacyCounter(ctx context.Context, key StockKey) error {
	if key.Kind != enums.ItemKindGame {
		return nil
	}
	err := l.db.WithContext(ctx).Exec(
		"UPDATE games SET stock = (SELECT quantity - reserved FROM game_stock WHERE game_id = ?) WHERE id = ?",
		key.ItemID, key.ItemID,
	).Error
	if err != nil {
		return fmt.Errorf("sync legacy stock %s: %w", key, err)
	}
	return nil
}

func (l *GormLedger) displayName(ctx context.Context, key StockKey) string {
	if l.catalog == nil {
		return key.String()
	}
	item, err := l.catalog.Find(ctx, key.Kind, key.ItemID)
	if err != nil {
		return key.String()
	}
	if key.Variant != "" {
		return fmt.Sprintf("%s (%s)", item.Name, key.Variant)
	}
	return item.Name
}
