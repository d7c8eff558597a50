package gate

import (
	"sort"
	"strings"

	"github.com/kitbridge/kitbridge/internal/principal"
)

// Access describes what a route prefix requires.
type Access int

const (
	// Protected prefixes require a valid token of the rule's kind.
	Protected Access = iota + 1
	// LoginPage prefixes bounce already-authenticated principals home.
	LoginPage
)

func (a Access) String() string {
	switch a {
	case Protected:
		return "protected"
	case LoginPage:
		return "login"
	default:
		return "unknown"
	}
}

// Rule maps a path prefix to the principal kind it belongs to.
type Rule struct {
	Prefix string
	Kind   principal.Kind
	Access Access
}

// DefaultRules derives the route table from the principal descriptors.
func DefaultRules() []Rule {
	var rules []Rule
	for _, d := range principal.Descriptors() {
		rules = append(rules, Rule{Prefix: d.LoginPath, Kind: d.Kind, Access: LoginPage})
		for _, p := range d.Protected {
			rules = append(rules, Rule{Prefix: p, Kind: d.Kind, Access: Protected})
		}
	}
	return rules
}

type table []Rule

func newTable(rules []Rule) table {
	t := make(table, 0, len(rules))
	for _, r := range rules {
		r.Prefix = "/" + strings.Trim(r.Prefix, "/")
		t = append(t, r)
	}
	sort.SliceStable(t, func(i, j int) bool {
		return len(t[i].Prefix) > len(t[j].Prefix)
	})
	return t
}

// match returns the longest rule whose prefix covers path on a segment
// boundary.
func (t table) match(path string) (Rule, bool) {
	for _, r := range t {
		if hasSegmentPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return Rule{}, false
}

func hasSegmentPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
