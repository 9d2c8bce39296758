package db

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account in the collector application
type User struct {
	UserID     uint      `gorm:"primaryKey" json:"user_id"`
	FirstName  string    `gorm:"type:varchar(100)" json:"first_name,omitempty"`
	LastName   string    `gorm:"type:varchar(100)" json:"last_name,omitempty"`
	Username   string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_users_username" json:"username"`
	Password   string    `gorm:"type:varchar(255);not null" json:"-"` // bcrypt hash
	Email      string    `gorm:"type:varchar(255)" json:"email,omitempty"`
	DateJoined time.Time `gorm:"not null" json:"date_joined"`
	IsAdmin    bool      `gorm:"not null;default:false" json:"is_admin"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// BeforeCreate hook to default the join date
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.DateJoined.IsZero() {
		u.DateJoined = time.Now()
	}
	return nil
}

// Collection groups catalog items
type Collection struct {
	CollectionID uint   `gorm:"primaryKey" json:"collection_id"`
	Name         string `gorm:"type:varchar(255);not null;uniqueIndex:idx_collections_name" json:"name"`
	Description  string `gorm:"type:text" json:"description,omitempty"`
}

// TableName specifies the table name for Collection model
func (Collection) TableName() string {
	return "collections"
}

// Item represents a catalog item with its available stock
type Item struct {
	ItemID       uint   `gorm:"primaryKey" json:"item_id"`
	CollectionID uint   `gorm:"not null;index:idx_items_collection" json:"collection_id"`
	Name         string `gorm:"type:varchar(255);not null;index:idx_items_name" json:"name"`
	Description  string `gorm:"type:text" json:"description,omitempty"`
	Price        int64  `gorm:"not null;default:0" json:"price"` // Price in smallest currency unit (cents)
	// StockQuantity counts the units not currently held by any reservation
	StockQuantity int `gorm:"not null;default:0" json:"stock_quantity"`
}

// TableName specifies the table name for Item model
func (Item) TableName() string {
	return "items"
}

// Reservation links a user to an item with the quantity the user holds.
// The (user_id, item_id) pair is unique: repeat acquisitions merge into the
// existing row instead of creating a second one.
type Reservation struct {
	ReservationID uint      `gorm:"primaryKey" json:"reservation_id"`
	UserID        uint      `gorm:"not null;uniqueIndex:idx_reservations_user_item" json:"user_id"`
	ItemID        uint      `gorm:"not null;uniqueIndex:idx_reservations_user_item" json:"item_id"`
	Quantity      int       `gorm:"not null;default:1" json:"quantity"`
	DateAdded     time.Time `gorm:"not null" json:"date_added"`
}

// TableName specifies the table name for Reservation model
func (Reservation) TableName() string {
	return "reservations"
}

// BeforeCreate hook to default the acquisition date
func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.DateAdded.IsZero() {
		r.DateAdded = time.Now()
	}
	return nil
}
