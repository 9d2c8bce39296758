package repo

import (
	"context"
	"errors"

	"github.com/shelfwise/services/ledger/internal/db"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken is returned when creating a user with a username that already exists
	ErrUsernameTaken = errors.New("username already exists")

	// ErrInvalidCredentials is returned when authentication fails
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// AccountsRepository handles user accounts. It never touches reservations:
// account removal goes through the ledger's purge, which releases the user's
// holdings and deletes the row in one transaction.
type AccountsRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewAccountsRepository creates a new accounts repository
func NewAccountsRepository(database *db.DB, logger *zap.Logger) *AccountsRepository {
	return &AccountsRepository{
		db:  database,
		log: logger,
	}
}

// ListUsers returns all users ordered by username
func (r *AccountsRepository) ListUsers(ctx context.Context) ([]db.User, error) {
	var users []db.User
	if err := r.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		r.log.Error("Failed to list users", zap.Error(err))
		return nil, err
	}
	return users, nil
}

// GetUser retrieves a user by ID
func (r *AccountsRepository) GetUser(ctx context.Context, userID uint) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.log.Error("Failed to get user", zap.Uint("user_id", userID), zap.Error(err))
		return nil, err
	}
	return &user, nil
}

// CreateUser creates a new user, hashing the supplied plaintext password
func (r *AccountsRepository) CreateUser(ctx context.Context, user *db.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Password = string(hash)

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUsernameTaken
		}
		r.log.Error("Failed to create user", zap.String("username", user.Username), zap.Error(err))
		return err
	}

	r.log.Info("User created", zap.Uint("user_id", user.UserID), zap.String("username", user.Username))
	return nil
}

// UpdateUser updates a user's profile fields. The password is rehashed only
// when a new one is supplied.
func (r *AccountsRepository) UpdateUser(ctx context.Context, user *db.User, newPassword string) error {
	updates := map[string]interface{}{
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"username":   user.Username,
		"email":      user.Email,
		"is_admin":   user.IsAdmin,
	}
	if newPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		updates["password"] = string(hash)
	}

	result := r.db.WithContext(ctx).Model(&db.User{}).
		Where("user_id = ?", user.UserID).
		Updates(updates)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrUsernameTaken
		}
		r.log.Error("Failed to update user", zap.Uint("user_id", user.UserID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	r.log.Info("User updated", zap.Uint("user_id", user.UserID))
	return nil
}

// Authenticate checks a username and plaintext password against the stored
// bcrypt hash
func (r *AccountsRepository) Authenticate(ctx context.Context, username, password string) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		r.log.Error("Failed to look up user", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}
