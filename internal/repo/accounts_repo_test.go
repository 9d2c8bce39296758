package repo

import (
	"context"
	"testing"

	"github.com/shelfwise/services/ledger/internal/db"
	"github.com/shelfwise/services/ledger/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndAuthenticateUser(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "info")
	repo := NewAccountsRepository(database, log)

	ctx := context.Background()

	user := &db.User{
		FirstName: "Alice",
		Username:  "alice",
		Email:     "alice@example.com",
	}
	err := repo.CreateUser(ctx, user, "s3cret")
	assert.NoError(t, err)
	assert.NotZero(t, user.UserID)
	assert.NotEqual(t, "s3cret", user.Password) // stored hashed
	assert.False(t, user.DateJoined.IsZero())

	authed, err := repo.Authenticate(ctx, "alice", "s3cret")
	assert.NoError(t, err)
	assert.Equal(t, user.UserID, authed.UserID)

	_, err = repo.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = repo.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "info")
	repo := NewAccountsRepository(database, log)

	ctx := context.Background()

	err := repo.CreateUser(ctx, &db.User{Username: "alice"}, "pw")
	assert.NoError(t, err)

	err = repo.CreateUser(ctx, &db.User{Username: "alice"}, "pw")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestUpdateUser(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "info")
	repo := NewAccountsRepository(database, log)

	ctx := context.Background()

	user := &db.User{Username: "alice"}
	require.NoError(t, repo.CreateUser(ctx, user, "pw"))
	oldHash := user.Password

	user.FirstName = "Alice"
	user.Email = "alice@example.com"
	assert.NoError(t, repo.UpdateUser(ctx, user, ""))

	updated, err := repo.GetUser(ctx, user.UserID)
	assert.NoError(t, err)
	assert.Equal(t, "Alice", updated.FirstName)
	assert.Equal(t, oldHash, updated.Password) // unchanged without a new password

	// Supplying a new password rehashes it
	assert.NoError(t, repo.UpdateUser(ctx, user, "newpw"))
	_, err = repo.Authenticate(ctx, "alice", "newpw")
	assert.NoError(t, err)

	err = repo.UpdateUser(ctx, &db.User{UserID: 999, Username: "ghost"}, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestListUsers(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "info")
	repo := NewAccountsRepository(database, log)

	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, &db.User{Username: "bob"}, "pw"))
	require.NoError(t, repo.CreateUser(ctx, &db.User{Username: "alice"}, "pw"))

	users, err := repo.ListUsers(ctx)
	assert.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}
