package ledger

import (
	"context"
	"testing"

	"github.com/shelfwise/services/ledger/internal/db"
	"github.com/shelfwise/services/ledger/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)

	err = gormDB.AutoMigrate(&db.User{}, &db.Collection{}, &db.Item{}, &db.Reservation{})
	require.NoError(t, err)

	return &db.DB{DB: gormDB}
}

func setupLedger(t *testing.T) (*Ledger, *db.DB) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "info")
	return New(database, log), database
}

func createUser(t *testing.T, database *db.DB, username string) uint {
	user := &db.User{Username: username, Password: "x"}
	require.NoError(t, database.Create(user).Error)
	return user.UserID
}

func createItem(t *testing.T, database *db.DB, name string, stock int) uint {
	collection := &db.Collection{Name: "col-" + name}
	require.NoError(t, database.Create(collection).Error)

	item := &db.Item{
		CollectionID:  collection.CollectionID,
		Name:          name,
		Price:         1999,
		StockQuantity: stock,
	}
	require.NoError(t, database.Create(item).Error)
	return item.ItemID
}

func itemStock(t *testing.T, database *db.DB, itemID uint) int {
	var item db.Item
	require.NoError(t, database.First(&item, itemID).Error)
	return item.StockQuantity
}

// assertConserved checks that available stock plus all held quantities still
// add up to the item's original total.
func assertConserved(t *testing.T, database *db.DB, itemID uint, initialStock int) {
	t.Helper()

	var held int64
	err := database.Model(&db.Reservation{}).
		Where("item_id = ?", itemID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&held).Error
	require.NoError(t, err)

	assert.Equal(t, initialStock, itemStock(t, database, itemID)+int(held))
}

func TestReserveCreatesReservation(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	res, err := l.Reserve(ctx, userID, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Quantity)
	assert.False(t, res.DateAdded.IsZero())

	assert.Equal(t, 6, itemStock(t, database, itemID))
	assertConserved(t, database, itemID, 10)
}

func TestReserveValidation(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	_, err := l.Reserve(ctx, userID, itemID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = l.Reserve(ctx, userID, itemID, -3)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = l.Reserve(ctx, userID, 999, 1)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = l.Reserve(ctx, 999, itemID, 1)
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Nothing above may have touched the stock
	assert.Equal(t, 10, itemStock(t, database, itemID))
}

func TestReserveBoundary(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 5)

	// Taking exactly the available stock succeeds and empties it
	res, err := l.Reserve(ctx, userID, itemID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Quantity)
	assert.Equal(t, 0, itemStock(t, database, itemID))

	// One more than available fails and changes nothing
	other := createUser(t, database, "bob")
	itemID2 := createItem(t, database, "poster", 5)
	_, err = l.Reserve(ctx, other, itemID2, 6)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 5, itemStock(t, database, itemID2))
}

func TestReserveTargetSet(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	_, err := l.Reserve(ctx, userID, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, itemStock(t, database, itemID))

	// Lowering the target credits the difference back to stock
	res, err := l.Reserve(ctx, userID, itemID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Quantity)
	assert.Equal(t, 8, itemStock(t, database, itemID))

	// Raising it takes the difference out again
	res, err = l.Reserve(ctx, userID, itemID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Quantity)
	assert.Equal(t, 3, itemStock(t, database, itemID))

	// Target above held + available is rejected
	_, err = l.Reserve(ctx, userID, itemID, 11)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 3, itemStock(t, database, itemID))

	assertConserved(t, database, itemID, 10)
}

func TestReserveTargetSetIdempotent(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	_, err := l.Reserve(ctx, userID, itemID, 4)
	require.NoError(t, err)

	// Same target again: zero delta, nothing moves
	res, err := l.Reserve(ctx, userID, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Quantity)
	assert.Equal(t, 6, itemStock(t, database, itemID))
}

func TestAssignIsAdditive(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	res, err := l.AssignToUser(ctx, userID, itemID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Quantity)

	// Admin adds accumulate, they never replace
	res, err = l.AssignToUser(ctx, userID, itemID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Quantity)
	assert.Equal(t, 5, itemStock(t, database, itemID))

	// Reserve on the same pair stays an absolute target
	res, err = l.Reserve(ctx, userID, itemID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Quantity)
	assert.Equal(t, 8, itemStock(t, database, itemID))

	assertConserved(t, database, itemID, 10)
}

func TestAssignValidation(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 3)

	_, err := l.AssignToUser(ctx, userID, itemID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = l.AssignToUser(ctx, userID, itemID, 4)
	assert.ErrorIs(t, err, ErrOutOfStock)

	_, err = l.AssignToUser(ctx, 999, itemID, 1)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = l.AssignToUser(ctx, userID, 999, 1)
	assert.ErrorIs(t, err, ErrItemNotFound)

	assert.Equal(t, 3, itemStock(t, database, itemID))
}

func TestSetReservationQuantity(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	res, err := l.Reserve(ctx, userID, itemID, 4)
	require.NoError(t, err)

	// Raise: stock shrinks by the delta
	updated, err := l.SetReservationQuantity(ctx, res.ReservationID, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Quantity)
	assert.Equal(t, 1, itemStock(t, database, itemID))

	// Lower: stock grows by the delta
	updated, err = l.SetReservationQuantity(ctx, res.ReservationID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Quantity)
	assert.Equal(t, 9, itemStock(t, database, itemID))

	// Below one and above held + available are both invalid
	_, err = l.SetReservationQuantity(ctx, res.ReservationID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = l.SetReservationQuantity(ctx, res.ReservationID, 11)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Equal(t, 9, itemStock(t, database, itemID))

	_, err = l.SetReservationQuantity(ctx, 999, 1)
	assert.ErrorIs(t, err, ErrReservationNotFound)

	assertConserved(t, database, itemID, 10)
}

func TestReleaseRestoresStock(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	res, err := l.Reserve(ctx, userID, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, itemStock(t, database, itemID))

	released, err := l.Release(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, 10, itemStock(t, database, itemID))

	// The returned reservation reports what was credited back
	assert.Equal(t, userID, released.UserID)
	assert.Equal(t, itemID, released.ItemID)
	assert.Equal(t, 4, released.Quantity)

	var count int64
	require.NoError(t, database.Model(&db.Reservation{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	_, err = l.Release(ctx, res.ReservationID)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestPurgeUser(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	other := createUser(t, database, "bob")
	novel := createItem(t, database, "novel", 10)
	poster := createItem(t, database, "poster", 5)

	_, err := l.Reserve(ctx, userID, novel, 4)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, userID, poster, 2)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, other, novel, 3)
	require.NoError(t, err)

	released, err := l.PurgeUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, released, 2)

	// Alice's holdings went back to stock, Bob's are untouched
	assert.Equal(t, 7, itemStock(t, database, novel))
	assert.Equal(t, 5, itemStock(t, database, poster))

	var count int64
	require.NoError(t, database.Model(&db.Reservation{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	require.NoError(t, database.Model(&db.Reservation{}).Where("user_id = ?", other).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The user row is gone in the same transaction
	require.NoError(t, database.Model(&db.User{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	_, err = l.PurgeUser(ctx, userID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPurgeUserWithoutReservations(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")

	released, err := l.PurgeUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, released)

	var count int64
	require.NoError(t, database.Model(&db.User{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDeleteItemWritesOff(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	_, err := l.Reserve(ctx, userID, itemID, 4)
	require.NoError(t, err)

	require.NoError(t, l.DeleteItem(ctx, itemID))

	var count int64
	require.NoError(t, database.Model(&db.Reservation{}).Where("item_id = ?", itemID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	require.NoError(t, database.Model(&db.Item{}).Where("item_id = ?", itemID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	assert.ErrorIs(t, l.DeleteItem(ctx, itemID), ErrItemNotFound)
}

func TestReservationUniquePerPair(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 20)

	_, err := l.Reserve(ctx, userID, itemID, 2)
	require.NoError(t, err)
	_, err = l.AssignToUser(ctx, userID, itemID, 3)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, userID, itemID, 4)
	require.NoError(t, err)

	var count int64
	err = database.Model(&db.Reservation{}).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Count(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assertConserved(t, database, itemID, 20)
}

func TestDuplicateReservationRowIsConflict(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	itemID := createItem(t, database, "novel", 10)

	_, err := l.Reserve(ctx, userID, itemID, 2)
	require.NoError(t, err)

	// Simulate the losing side of a create race: inserting a second row for
	// the pair hits the unique index and must classify as a conflict.
	dup := &db.Reservation{UserID: userID, ItemID: itemID, Quantity: 1}
	err = classify(database.Create(dup).Error)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestReservationsForUser(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	userID := createUser(t, database, "alice")
	novel := createItem(t, database, "novel", 10)
	poster := createItem(t, database, "poster", 5)

	_, err := l.Reserve(ctx, userID, novel, 4)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, userID, poster, 1)
	require.NoError(t, err)

	reservations, err := l.ReservationsForUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, reservations, 2)
}

// The end-to-end sequence the application runs: user acquisitions, a target
// change, an admin assignment, then a second user hitting the stock floor.
func TestStockScenario(t *testing.T) {
	l, database := setupLedger(t)
	ctx := context.Background()

	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")
	novel := createItem(t, database, "novel", 10)

	res, err := l.Reserve(ctx, alice, novel, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Quantity)
	assert.Equal(t, 6, itemStock(t, database, novel))

	res, err = l.Reserve(ctx, alice, novel, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Quantity)
	assert.Equal(t, 8, itemStock(t, database, novel))

	res, err = l.AssignToUser(ctx, alice, novel, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Quantity)
	assert.Equal(t, 3, itemStock(t, database, novel))

	_, err = l.Reserve(ctx, bob, novel, 5)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 3, itemStock(t, database, novel))

	assertConserved(t, database, novel, 10)
}
