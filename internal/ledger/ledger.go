package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shelfwise/services/ledger/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger is the sole authority for mutating an item's available stock and the
// reservation quantities held against it. Units only move between the two
// sides: for every item, stock_quantity plus the sum of reservation
// quantities stays equal to the item's original total (item deletion, a
// terminal write-off, is the one exception).
type Ledger struct {
	db  *db.DB
	log *zap.Logger
}

// New creates a new inventory ledger
func New(database *db.DB, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:  database,
		log: logger,
	}
}

// Reserve acquires stock of an item for a user. On first acquisition the
// quantity is the amount taken from stock and a reservation is created. When
// the user already holds the item, quantity is the new absolute target: the
// reservation is set to it and stock moves by the signed delta, so lowering
// the target credits stock back. The target is bounded by
// [1, held + available].
func (l *Ledger) Reserve(ctx context.Context, userID, itemID uint, quantity int) (*db.Reservation, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var out db.Reservation
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := userExists(tx, userID); err != nil {
			return err
		}

		item, err := lockItem(tx, itemID)
		if err != nil {
			return err
		}

		var res db.Reservation
		err = lockForUpdate(tx).Where("user_id = ? AND item_id = ?", userID, itemID).First(&res).Error

		var stockDelta int
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if quantity > item.StockQuantity {
				return ErrOutOfStock
			}
			res = db.Reservation{UserID: userID, ItemID: itemID, Quantity: quantity}
			if err := tx.Create(&res).Error; err != nil {
				// A racing Reserve may have created the row first; the
				// unique (user_id, item_id) index turns that into a
				// retryable conflict.
				return classify(err)
			}
			stockDelta = quantity

		case err != nil:
			return err

		default:
			stockDelta = quantity - res.Quantity
			if stockDelta > item.StockQuantity {
				return ErrOutOfStock
			}
			if err := tx.Model(&res).Update("quantity", quantity).Error; err != nil {
				return err
			}
			res.Quantity = quantity
		}

		if err := adjustStock(tx, itemID, -stockDelta); err != nil {
			return err
		}

		out = res
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	l.log.Info("Stock reserved",
		zap.Uint("user_id", userID),
		zap.Uint("item_id", itemID),
		zap.Int("quantity", out.Quantity))
	return &out, nil
}

// AssignToUser is the admin acquisition path. Unlike Reserve, the quantity is
// always an incremental add: repeat assignments accumulate on the existing
// reservation instead of replacing it.
func (l *Ledger) AssignToUser(ctx context.Context, userID, itemID uint, quantityToAdd int) (*db.Reservation, error) {
	if quantityToAdd < 1 {
		return nil, ErrInvalidQuantity
	}

	var out db.Reservation
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := userExists(tx, userID); err != nil {
			return err
		}

		item, err := lockItem(tx, itemID)
		if err != nil {
			return err
		}
		if quantityToAdd > item.StockQuantity {
			return ErrOutOfStock
		}

		var res db.Reservation
		err = lockForUpdate(tx).Where("user_id = ? AND item_id = ?", userID, itemID).First(&res).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			res = db.Reservation{UserID: userID, ItemID: itemID, Quantity: quantityToAdd}
			if err := tx.Create(&res).Error; err != nil {
				return classify(err)
			}

		case err != nil:
			return err

		default:
			res.Quantity += quantityToAdd
			if err := tx.Model(&res).Update("quantity", res.Quantity).Error; err != nil {
				return err
			}
		}

		if err := adjustStock(tx, itemID, -quantityToAdd); err != nil {
			return err
		}

		out = res
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	l.log.Info("Stock assigned",
		zap.Uint("user_id", userID),
		zap.Uint("item_id", itemID),
		zap.Int("added", quantityToAdd),
		zap.Int("quantity", out.Quantity))
	return &out, nil
}

// SetReservationQuantity sets a reservation to an absolute quantity, bounded
// by [1, current + available]. Stock moves by the negative delta.
func (l *Ledger) SetReservationQuantity(ctx context.Context, reservationID uint, newQuantity int) (*db.Reservation, error) {
	if newQuantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var out db.Reservation
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := lockReservation(tx, reservationID)
		if err != nil {
			return err
		}

		item, err := lockItem(tx, res.ItemID)
		if err != nil {
			return err
		}

		stockDelta := newQuantity - res.Quantity
		if stockDelta > item.StockQuantity {
			return ErrInvalidQuantity
		}

		if err := tx.Model(res).Update("quantity", newQuantity).Error; err != nil {
			return err
		}
		if err := adjustStock(tx, res.ItemID, -stockDelta); err != nil {
			return err
		}

		res.Quantity = newQuantity
		out = *res
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	l.log.Info("Reservation quantity set",
		zap.Uint("reservation_id", reservationID),
		zap.Int("quantity", newQuantity))
	return &out, nil
}

// Release deletes a reservation and credits its held quantity back to the
// item's available stock. The released reservation is returned so the caller
// can report what was credited.
func (l *Ledger) Release(ctx context.Context, reservationID uint) (*db.Reservation, error) {
	var out db.Reservation
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := lockReservation(tx, reservationID)
		if err != nil {
			return err
		}
		if err := releaseLocked(tx, res); err != nil {
			return err
		}
		out = *res
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	l.log.Info("Reservation released",
		zap.Uint("reservation_id", reservationID),
		zap.Int("quantity", out.Quantity))
	return &out, nil
}

// PurgeUser removes a user account. Every reservation the user holds is
// released first, restoring the held quantities to stock, and the account row
// goes away in the same transaction so a failure cannot leave the user alive
// with holdings already credited back. The released reservations are
// returned.
func (l *Ledger) PurgeUser(ctx context.Context, userID uint) ([]db.Reservation, error) {
	var released []db.Reservation
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := userExists(tx, userID); err != nil {
			return err
		}

		var reservations []db.Reservation
		if err := lockForUpdate(tx).Where("user_id = ?", userID).Find(&reservations).Error; err != nil {
			return err
		}

		for i := range reservations {
			if err := releaseLocked(tx, &reservations[i]); err != nil {
				return err
			}
		}

		if err := tx.Delete(&db.User{}, userID).Error; err != nil {
			return err
		}
		released = reservations
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	l.log.Info("User purged",
		zap.Uint("user_id", userID),
		zap.Int("released", len(released)))
	return released, nil
}

// DeleteItem removes an item and every reservation referencing it. The held
// quantities are written off, not restored: the item ceases to exist, so
// there is no stock to credit.
func (l *Ledger) DeleteItem(ctx context.Context, itemID uint) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockItem(tx, itemID); err != nil {
			return err
		}
		if err := tx.Where("item_id = ?", itemID).Delete(&db.Reservation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&db.Item{}, itemID).Error
	})
	if err != nil {
		return classify(err)
	}

	l.log.Info("Item deleted", zap.Uint("item_id", itemID))
	return nil
}

// ReservationsForUser lists the reservations a user currently holds.
func (l *Ledger) ReservationsForUser(ctx context.Context, userID uint) ([]db.Reservation, error) {
	var reservations []db.Reservation
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date_added").
		Find(&reservations).Error
	if err != nil {
		l.log.Error("Failed to list reservations", zap.Uint("user_id", userID), zap.Error(err))
		return nil, err
	}
	return reservations, nil
}

// releaseLocked restores a locked reservation's quantity to stock and deletes
// the row. Must run inside the caller's transaction.
func releaseLocked(tx *gorm.DB, res *db.Reservation) error {
	if err := adjustStock(tx, res.ItemID, res.Quantity); err != nil {
		return err
	}
	return tx.Delete(&db.Reservation{}, res.ReservationID).Error
}

func adjustStock(tx *gorm.DB, itemID uint, delta int) error {
	if delta == 0 {
		return nil
	}
	return tx.Model(&db.Item{}).Where("item_id = ?", itemID).
		Update("stock_quantity", gorm.Expr("stock_quantity + ?", delta)).Error
}

func userExists(tx *gorm.DB, userID uint) error {
	var user db.User
	err := tx.Select("user_id").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}

func lockItem(tx *gorm.DB, itemID uint) (*db.Item, error) {
	var item db.Item
	err := lockForUpdate(tx).First(&item, itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func lockReservation(tx *gorm.DB, reservationID uint) (*db.Reservation, error) {
	var res db.Reservation
	err := lockForUpdate(tx).First(&res, reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// lockForUpdate requests a row lock on PostgreSQL. SQLite has no FOR UPDATE
// and serializes writers on its own, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// classify maps store-level failures that a retry with fresh reads can
// resolve onto ErrConflict. Everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization failure, deadlock, lock not available
			return ErrConflict
		}
	}
	return err
}
