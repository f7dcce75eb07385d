// Package model defines domain entities shared by the client core, services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects an issued access token and its metadata.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry
	AuthTime    time.Time // last time the password was verified
}

// Account is an identity stored by the identity service. The password is never stored in plaintext.
type Account struct {
	ID           uuid.UUID // PK, the subject id
	Email        string    // unique
	PwdHash      []byte    // Argon2id(password, SaltAuth)
	SaltAuth     []byte    // per-account salt
	DisplayName  string
	PhotoURL     string
	PendingEmail string // requested, not yet verified
	CreatedAt    time.Time
}

// Identity is the public shape of an account as seen by clients.
func (a Account) Identity() Identity {
	return Identity{
		SubjectID:   a.ID.String(),
		Email:       a.Email,
		DisplayName: a.DisplayName,
		PhotoURL:    a.PhotoURL,
	}
}

// Identity is what the identity provider reports about a signed-in subject.
type Identity struct {
	SubjectID   string `json:"subjectId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
}

// AccountPatch carries optional account attribute changes. Nil means untouched.
type AccountPatch struct {
	DisplayName *string `json:"displayName,omitempty"`
	PhotoURL    *string `json:"photoUrl,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p AccountPatch) Empty() bool { return p.DisplayName == nil && p.PhotoURL == nil }

// Session records that a subject is authenticated right now. Values are never mutated after creation.
type Session struct {
	Identity
	StartedAt time.Time
}

// Authenticated reports whether s represents a live subject.
func (s *Session) Authenticated() bool { return s != nil && s.SubjectID != "" }

// Subject returns the subject id or "" for a nil session.
func (s *Session) Subject() string {
	if s == nil {
		return ""
	}
	return s.SubjectID
}

// Registration is the input of a sign-up.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}
