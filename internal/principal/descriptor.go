package principal

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Descriptor captures everything that differs between principal kinds:
// cookie naming, pages, gating prefixes and the checks required at login.
type Descriptor struct {
	Kind Kind
	// Segment is the URL path segment used by the API routes.
	Segment string
	// ResponseKey names the profile object in JSON responses.
	ResponseKey string
	// Cookie is the name of the session cookie.
	Cookie    string
	LoginPath string
	HomePath  string
	Protected []string
	// DisplayPrefix prefixes generated display ids.
	DisplayPrefix string

	RequireEmailVerified bool
	RequireAdminApproval bool
	SelfRegister         bool
	Title                string
}

var descriptors = []Descriptor{
	{
		Kind:          KindAdmin,
		Segment:       "admin",
		ResponseKey:   "admin",
		Cookie:        "adminToken",
		LoginPath:     "/admin/login",
		HomePath:      "/admin",
		Protected:     []string{"/admin"},
		DisplayPrefix: "ADM",
		// Admins are seeded, never self-registered, but an unverified
		// seed row still gets no session.
		RequireEmailVerified: true,
		Title:                "Administrator",
	},
	{
		Kind:                 KindSchool,
		Segment:              "schools",
		ResponseKey:          "school",
		Cookie:               "auth_token",
		LoginPath:            "/login",
		HomePath:             "/schools",
		Protected:            []string{"/schools"},
		DisplayPrefix:        "SCH",
		RequireEmailVerified: true,
		RequireAdminApproval: true,
		SelfRegister:         true,
		Title:                "School",
	},
	{
		Kind:                 KindDonor,
		Segment:              "donors",
		ResponseKey:          "donor",
		Cookie:               "donor_token",
		LoginPath:            "/donors/login",
		HomePath:             "/donors",
		Protected:            []string{"/donors"},
		DisplayPrefix:        "DNR",
		RequireEmailVerified: true,
		SelfRegister:         true,
		Title:                "Donor",
	},
	{
		Kind:                 KindGoverningBody,
		Segment:              "governing-body",
		ResponseKey:          "governingBody",
		Cookie:               "govern_token",
		LoginPath:            "/governing-body/login",
		HomePath:             "/governing-body",
		Protected:            []string{"/governing-body"},
		DisplayPrefix:        "GOV",
		RequireEmailVerified: true,
		RequireAdminApproval: true,
		SelfRegister:         true,
		Title:                "Governing Body",
	},
}

// Descriptors returns the descriptor table in a stable order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Describe returns the descriptor for kind.
func Describe(kind Kind) (Descriptor, error) {
	for _, d := range descriptors {
		if d.Kind == kind {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// MustDescribe is Describe for kinds known at compile time.
func MustDescribe(kind Kind) Descriptor {
	d, err := Describe(kind)
	if err != nil {
		panic(err)
	}
	return d
}

// BySegment resolves the descriptor addressed by an API path segment.
func BySegment(segment string) (Descriptor, bool) {
	segment = strings.ToLower(strings.TrimSpace(segment))
	for _, d := range descriptors {
		if d.Segment == segment {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ParseKind converts a raw string into a known Kind.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if _, err := Describe(kind); err != nil {
		return "", err
	}
	return kind, nil
}

// NewDisplayID generates a role-specific secondary identifier.
func (d Descriptor) NewDisplayID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return d.DisplayPrefix + "-" + strings.ToUpper(raw[:8])
}

// Admits reports whether an account in the given state may receive a session.
func (d Descriptor) Admits(p *Principal) bool {
	if d.RequireEmailVerified && !p.Verified {
		return false
	}
	if d.RequireAdminApproval && !p.AdminVerified {
		return false
	}
	return true
}
