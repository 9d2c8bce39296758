package db

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RunMigrations runs all database migrations and seeds the baseline rows the
// application expects on first start.
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(&User{}, &Collection{}, &Item{}, &Reservation{}); err != nil {
		return err
	}

	return seedDefaults(db.DB)
}

// seedDefaults inserts the built-in admin account and the starter collections
// when they are absent. Safe to run on every start.
func seedDefaults(db *gorm.DB) error {
	var admin User
	err := db.Where("username = ?", "admin").First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
		if hashErr != nil {
			return hashErr
		}
		if err := db.Create(&User{
			Username: "admin",
			Password: string(hash),
			IsAdmin:  true,
		}).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	defaults := []Collection{
		{Name: "Books", Description: "Book collection"},
		{Name: "Toys", Description: "Toy collection"},
	}
	for _, c := range defaults {
		var existing Collection
		err := db.Where("name = ?", c.Name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&c).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}

	return nil
}
