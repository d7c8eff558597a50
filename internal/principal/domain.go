package principal

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Kind identifies one of the authenticated actor types.
type Kind string

const (
	KindAdmin         Kind = "admin"
	KindSchool        Kind = "school"
	KindDonor         Kind = "donor"
	KindGoverningBody Kind = "governing_body"
)

var (
	// ErrNotFound indicates no principal matched the lookup.
	ErrNotFound = errors.New("principal not found")
	// ErrDuplicateEmail indicates the email is already registered for the kind.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUnknownKind indicates an unsupported principal kind.
	ErrUnknownKind = errors.New("unknown principal kind")
)

// Principal is a credential record for any actor type.
type Principal struct {
	ID            int64     `json:"id"`
	Kind          Kind      `json:"role"`
	DisplayID     string    `json:"displayId"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	PasswordHash  string    `json:"-"`
	Verified      bool      `json:"verified"`
	AdminVerified bool      `json:"adminVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Profile is the public subset of a principal returned to clients.
type Profile struct {
	ID        int64  `json:"id"`
	DisplayID string `json:"displayId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// Profile returns the public view of the principal.
func (p *Principal) Profile() Profile {
	return Profile{ID: p.ID, DisplayID: p.DisplayID, Name: p.Name, Email: p.Email}
}

// NewPrincipal holds the attributes required to create a principal.
type NewPrincipal struct {
	DisplayID     string
	Name          string
	Email         string
	Phone         string
	PasswordHash  string
	Verified      bool
	AdminVerified bool
}

var folder = cases.Fold()

// NormalizeEmail trims and case-folds an email address for lookup and storage.
func NormalizeEmail(email string) string {
	return folder.String(strings.TrimSpace(email))
}
