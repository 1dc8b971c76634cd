package db

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"operandi.gwdg.de/broker/common"
)

// Account types distinguishing the default service accounts from regular
// registered users.
const (
	AccountTypeAdmin     = "administrator"
	AccountTypeHarvester = "harvester"
	AccountTypeUser      = "user"
)

// GetUser loads a user by email. Returns ErrNotFound when no user document
// exists for the address.
func (s *Store) GetUser(ctx context.Context, email string) (*User, error) {
	var user User
	if err := s.getOne(ctx, common.CollectionUsers, "email", email, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser applies a field map to a user document and returns the updated
// entity.
func (s *Store) UpdateUser(ctx context.Context, email string, fields map[string]interface{}) (*User, error) {
	var user User
	if err := s.updateOne(ctx, common.CollectionUsers, "email", email, userFields, fields, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new, already approved user with a salted password
// hash.
func (s *Store) CreateUser(ctx context.Context, email, username, password, accountType string) (*User, error) {
	salt := uuid.NewString()
	user := User{
		Email:         email,
		Username:      username,
		EncryptedPass: HashPassword(password, salt),
		Salt:          salt,
		AccountType:   accountType,
		Approved:      true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.insertOne(ctx, common.CollectionUsers, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureDefaultUsers creates the default server and harvester accounts if
// they do not exist yet. Existing accounts are left untouched so password
// rotations done through the REST layer survive broker restarts.
func (s *Store) EnsureDefaultUsers(ctx context.Context, cfg common.Config) error {
	defaults := []struct {
		username    string
		password    string
		accountType string
	}{
		{cfg.ServerDefaultUsername, cfg.ServerDefaultPassword, AccountTypeAdmin},
		{cfg.HarvesterDefaultUsername, cfg.HarvesterDefaultPassword, AccountTypeHarvester},
	}

	for _, account := range defaults {
		if account.username == "" {
			continue
		}
		_, err := s.GetUser(ctx, account.username)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := s.CreateUser(ctx, account.username, account.username, account.password, account.accountType); err != nil {
			return err
		}
	}
	return nil
}

// HashPassword derives the stored password hash from a plaintext password
// and a salt.
func HashPassword(password, salt string) string {
	digest := sha512.Sum512([]byte(salt + password))
	return hex.EncodeToString(digest[:])
}
