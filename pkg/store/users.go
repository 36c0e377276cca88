package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/secret"
)

const minPasswordLen = 8

const usersLock = "users"

// CreateUser stores a new account with an argon2id password hash.
func (s *Store) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	u, err := newUser(username, password)
	if err != nil {
		return nil, err
	}
	unlock := s.writes.Lock(usersLock)
	defer unlock()
	if err := s.insertUser(s.db.WithContext(ctx), u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateFirstUser stores the bootstrap account. Once any account exists it
// fails with an unauthenticated error, so only one of several concurrent
// bootstrap attempts succeeds.
func (s *Store) CreateFirstUser(ctx context.Context, username, password string) (*models.User, error) {
	u, err := newUser(username, password)
	if err != nil {
		return nil, err
	}
	unlock := s.writes.Lock(usersLock)
	defer unlock()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errs.Unauthenticated("an account already exists, authentication required")
		}
		return s.insertUser(tx, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func newUser(username, password string) (*models.User, error) {
	u := &models.User{Username: username}
	if err := models.Validate(u); err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, errs.Validation("password must be at least %d characters", minPasswordLen)
	}
	hash, err := secret.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	return u, nil
}

func (s *Store) insertUser(db *gorm.DB, u *models.User) error {
	var n int64
	if err := db.Model(&models.User{}).Where("username = ?", u.Username).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return errs.Conflict("user %q already exists", u.Username)
	}
	if err := db.Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errs.Conflict("user %q already exists", u.Username)
		}
		return err
	}
	return nil
}

// Authenticate checks username and password.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Unauthenticated("invalid username or password")
	}
	if err != nil {
		return nil, err
	}
	ok, err := secret.VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Unauthenticated("invalid username or password")
	}
	return &u, nil
}

// CountUsers returns the number of accounts.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error
	return n, err
}
