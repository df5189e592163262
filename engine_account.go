package authcore

import (
	"context"
	"errors"
	"fmt"
)

func (e *Engine) getUser(ctx context.Context, userID string) (UserRecord, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return user, nil
}

// User returns a single account record.
func (e *Engine) User(ctx context.Context, userID string) (UserRecord, error) {
	return e.getUser(ctx, userID)
}

// Users pages through the account list.
func (e *Engine) Users(ctx context.Context, skip, limit int) ([]UserRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	if skip < 0 {
		skip = 0
	}
	users, err := e.users.ListUsers(ctx, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return users, nil
}

// CreateUser is the admin path for provisioning accounts. Unlike Register it
// ignores the registration setting and takes an explicit permission.
func (e *Engine) CreateUser(ctx context.Context, email, plaintext string, permission Permission) (UserRecord, error) {
	email = normalizeEmail(email)
	if email == "" || len(plaintext) < 8 {
		return UserRecord{}, fmt.Errorf("%w: email and a password of at least 8 characters required", ErrBadRequest)
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return UserRecord{}, err
	}
	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Permission:   permission,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return UserRecord{}, ErrEmailTaken
		}
		return UserRecord{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emit("user_create", true, user.UserID, "", SourceCookie, nil)
	return user, nil
}

// AccountUpdate carries the admin-editable account fields; nil means keep.
type AccountUpdate struct {
	Email      *string
	Password   *string
	Permission *Permission
}

// UpdateUser applies an account update. A permission change is the one write
// that reaches already-issued tokens: every live token of the user is
// rewritten with the new snapshot. A password change revokes all sessions.
func (e *Engine) UpdateUser(ctx context.Context, userID string, update AccountUpdate) (UserRecord, error) {
	var stored UserUpdate
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email == "" {
			return UserRecord{}, fmt.Errorf("%w: invalid email", ErrBadRequest)
		}
		stored.Email = &email
	}
	if update.Password != nil {
		if len(*update.Password) < 8 {
			return UserRecord{}, fmt.Errorf("%w: password too short", ErrBadRequest)
		}
		hash, err := e.hasher.Hash(*update.Password)
		if err != nil {
			return UserRecord{}, err
		}
		stored.PasswordHash = &hash
	}
	stored.Permission = update.Permission

	user, err := e.users.UpdateUser(ctx, userID, stored)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			return UserRecord{}, ErrUserNotFound
		case errors.Is(err, ErrEmailTaken):
			return UserRecord{}, ErrEmailTaken
		default:
			return UserRecord{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	if update.Permission != nil {
		if err := e.tokens.UpdatePermissionForUser(ctx, userID, uint8(*update.Permission)); err != nil {
			return UserRecord{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	if update.Password != nil {
		if _, err := e.tokens.DeleteAllForUser(ctx, userID); err != nil {
			return UserRecord{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	e.emit("user_update", true, userID, "", SourceCookie, nil)
	return user, nil
}

// DeleteUser removes the account and revokes everything it could still
// authenticate with.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if err := e.users.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if _, err := e.tokens.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emit("user_delete", true, userID, "", SourceCookie, nil)
	return nil
}

// RevokeUserTokens is logout-everywhere: it deletes every access token of
// the user across both issuance paths and reports how many were live.
func (e *Engine) RevokeUserTokens(ctx context.Context, userID string) (int, error) {
	deleted, err := e.tokens.DeleteAllForUser(ctx, userID)
	if err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emit("tokens_revoke", true, userID, "", SourceCookie, nil)
	return deleted, nil
}
