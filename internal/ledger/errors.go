package ledger

import "errors"

var (
	// ErrItemNotFound is returned when the referenced item does not exist
	ErrItemNotFound = errors.New("item not found")

	// ErrUserNotFound is returned when the referenced user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrReservationNotFound is returned when the referenced reservation does not exist
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidQuantity is returned when a quantity is not positive or
	// exceeds the allowed bound for the operation
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrOutOfStock is returned when the requested quantity exceeds the
	// item's currently available stock
	ErrOutOfStock = errors.New("not enough stock")

	// ErrConflict is returned when a concurrent mutation prevented the
	// operation from being serialized. The caller should retry with fresh
	// reads.
	ErrConflict = errors.New("conflicting concurrent update")
)
