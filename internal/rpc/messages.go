package rpc

import (
	"time"

	"github.com/and161185/fitsync/internal/model"
)

// Empty is used where a call carries no payload.
type Empty struct{}

// SignUpRequest creates an account.
type SignUpRequest struct {
	model.Registration
}

// SignInRequest authenticates with email and password.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries an access token and the account it belongs to.
type AuthResponse struct {
	AccessToken string         `json:"accessToken"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	AuthTime    time.Time      `json:"authTime"`
	Account     model.Identity `json:"account"`
}

// ReauthenticateRequest re-verifies the password of the calling subject.
type ReauthenticateRequest struct {
	Password string `json:"password"`
}

// RequestEmailChangeRequest asks to move the account to a new address.
type RequestEmailChangeRequest struct {
	NewEmail string `json:"newEmail"`
}

// UpdateAccountRequest changes display name and photo URL.
type UpdateAccountRequest struct {
	Patch model.AccountPatch `json:"patch"`
}

// AccountResponse describes the calling subject's account.
type AccountResponse struct {
	Account      model.Identity `json:"account"`
	PendingEmail string         `json:"pendingEmail,omitempty"`
}

// GetDocumentRequest addresses one document.
type GetDocumentRequest struct {
	Path string `json:"path"`
}

// SetDocumentRequest writes one document.
type SetDocumentRequest struct {
	Path  string         `json:"path"`
	Data  model.Document `json:"data"`
	Merge bool           `json:"merge"`
}

// DeleteDocumentRequest removes one document.
type DeleteDocumentRequest struct {
	Path string `json:"path"`
}

// DocumentResponse carries one snapshot.
type DocumentResponse struct {
	Snapshot model.Snapshot `json:"snapshot"`
}

// QueryDocumentsRequest lists a collection.
type QueryDocumentsRequest struct {
	Collection string         `json:"collection"`
	Filters    []model.Filter `json:"filters,omitempty"`
	Order      model.OrderBy  `json:"order"`
}

// QueryDocumentsResponse carries the matching documents.
type QueryDocumentsResponse struct {
	Documents []model.Snapshot `json:"documents"`
}

// WatchDocumentRequest opens a snapshot stream for one document.
type WatchDocumentRequest struct {
	Path string `json:"path"`
}
