package cache

import (
	"net/url"
	"strconv"
	"strings"
)

// Key identifies a cached query: a scope plus optional parameters.
// A key without parameters addresses every query of its scope when used for
// cancellation, invalidation or snapshots.
type Key struct {
	Scope  string
	Params map[string]string
}

// NewKey builds a key from a scope and alternating param names and values
func NewKey(scope string, kv ...string) Key {
	k := Key{Scope: scope}
	if len(kv) == 0 {
		return k
	}
	k.Params = make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k.Params[kv[i]] = kv[i+1]
	}
	return k
}

// Well-known scopes
const (
	ScopeDeals          = "deals"
	ScopeFeaturedDeals  = "featured-deals"
	ScopeCompanies      = "companies"
	ScopeCategories     = "categories"
	ScopeCompanyRatings = "company-ratings"
	ScopeUserRatings    = "user-ratings"
	ScopeUserRating     = "user-rating"
)

func Deals() Key         { return NewKey(ScopeDeals) }
func FeaturedDeals() Key { return NewKey(ScopeFeaturedDeals) }
func Companies() Key     { return NewKey(ScopeCompanies) }
func Categories() Key    { return NewKey(ScopeCategories) }

// DealsPage keys a paginated query under the deals scope so invalidating
// deals also drops every cached page
func DealsPage(page, limit int, category, search, sort string) Key {
	return NewKey(ScopeDeals,
		"view", "page",
		"page", strconv.Itoa(page),
		"limit", strconv.Itoa(limit),
		"category", category,
		"search", search,
		"sort", sort,
	)
}

func CompanyRatings(companyID string) Key {
	return NewKey(ScopeCompanyRatings + "/" + companyID)
}

func UserRatings(userID string) Key {
	return NewKey(ScopeUserRatings + "/" + userID)
}

func UserRating(userID, companyID string) Key {
	return NewKey(ScopeUserRating + "/" + userID + "/" + companyID)
}

// String renders the key as scope|k=v&... with sorted params
func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Prefix()
	}
	values := make(url.Values, len(k.Params))
	for name, v := range k.Params {
		values.Set(name, v)
	}
	return k.Prefix() + values.Encode()
}

// Prefix is the string every key of the scope starts with
func (k Key) Prefix() string {
	return k.Scope + "|"
}

// Exact returns true if the key names one query rather than a whole scope
func (k Key) Exact() bool {
	return len(k.Params) > 0
}

// Matches returns true if the rendered key s is addressed by k
func (k Key) Matches(s string) bool {
	if k.Exact() {
		return s == k.String()
	}
	return strings.HasPrefix(s, k.Prefix())
}

func scopeOf(s string) string {
	scope, _, _ := strings.Cut(s, "|")
	return scope
}

// OwnerOf returns the user a rendered key belongs to, or false for keys
// shared by every user
func OwnerOf(s string) (string, bool) {
	scope := scopeOf(s)
	for _, base := range []string{ScopeUserRatings, ScopeUserRating} {
		rest, ok := strings.CutPrefix(scope, base+"/")
		if !ok {
			continue
		}
		user, _, _ := strings.Cut(rest, "/")
		return user, user != ""
	}
	return "", false
}
