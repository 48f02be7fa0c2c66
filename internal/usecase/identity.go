package usecase

import (
	"context"
	"errors"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/ports"
)

// IdentityResolver maps a UserRef to the canonical internal user id
type IdentityResolver struct {
	users  ports.UserDirectory
	hasher ports.EmailHasher
}

// NewIdentityResolver creates a resolver. hasher may be nil, in which case
// only the literal email match is attempted.
func NewIdentityResolver(users ports.UserDirectory, hasher ports.EmailHasher) *IdentityResolver {
	return &IdentityResolver{users: users, hasher: hasher}
}

// Resolve returns the user id for ref or domain.ErrUserNotFound
func (r *IdentityResolver) Resolve(ctx context.Context, ref domain.UserRef) (int64, error) {
	if ref.IsEmail() {
		hash := ""
		if r.hasher != nil {
			hash = r.hasher.Hash(ref.Email())
		}
		id, err := r.users.FindIDByEmail(ctx, hash, ref.Email())
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				return 0, domain.ErrUserNotFound.WithDetail("email %s", ref.Email())
			}
			return 0, wrapPersistence("look up user by email", err)
		}
		return id, nil
	}

	if ref.ID() <= 0 {
		return 0, domain.ErrInvalidArgument.WithDetail("user id must be positive")
	}
	ok, err := r.users.Exists(ctx, ref.ID())
	if err != nil {
		return 0, wrapPersistence("look up user by id", err)
	}
	if !ok {
		return 0, domain.ErrUserNotFound.WithDetail("id %d", ref.ID())
	}
	return ref.ID(), nil
}

// wrapPersistence tags infrastructure errors as persistence failures and
// passes domain errors through untouched.
func wrapPersistence(op string, err error) error {
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.ErrPersistence.WithDetail("%s", op).WithCause(err)
}
