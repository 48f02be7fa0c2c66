package domain

import (
	"strconv"
	"strings"
)

// UserRef identifies a user either by numeric id or by email. Exactly one of
// the two is set; callers resolve it once at the boundary and pass only the
// canonical id inward.
type UserRef struct {
	id    int64
	email string
}

// ByID references a user by internal id
func ByID(id int64) UserRef {
	return UserRef{id: id}
}

// ByEmail references a user by email address
func ByEmail(email string) UserRef {
	return UserRef{email: NormalizeEmail(email)}
}

// ParseUserRef interprets raw input: anything containing "@" is an email,
// everything else must be a positive integer id.
func ParseUserRef(raw string) (UserRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UserRef{}, ErrMissingField.WithDetail("user identifier")
	}
	if strings.Contains(raw, "@") {
		return ByEmail(raw), nil
	}
	id, err := ParseID("user id", raw)
	if err != nil {
		return UserRef{}, err
	}
	return ByID(id), nil
}

// IsEmail reports whether the reference is by email
func (r UserRef) IsEmail() bool {
	return r.email != ""
}

// ID returns the numeric id, valid only when !IsEmail()
func (r UserRef) ID() int64 {
	return r.id
}

// Email returns the normalized email, valid only when IsEmail()
func (r UserRef) Email() string {
	return r.email
}

func (r UserRef) String() string {
	if r.IsEmail() {
		return r.email
	}
	return "#" + strconv.FormatInt(r.id, 10)
}

// NormalizeEmail lowercases and trims an address before hashing or lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserSummary is the directory view of an active user
type UserSummary struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
