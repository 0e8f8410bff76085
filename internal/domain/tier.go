package domain

const DefaultTier = "basic"

// Entitlements describe what a tier unlocks in the client application.
type Entitlements struct {
	Tier        string   `json:"tier"`
	MaxProducts int      `json:"max_products"`
	MaxUsers    int      `json:"max_users"`
	Features    []string `json:"features"`
}

var tierCatalog = map[string]Entitlements{
	"basic": {
		Tier:        "basic",
		MaxProducts: 100,
		MaxUsers:    1,
		Features:    []string{"basic_pos", "reports"},
	},
	"professional": {
		Tier:        "professional",
		MaxProducts: 1000,
		MaxUsers:    5,
		Features:    []string{"basic_pos", "reports", "inventory", "multi_user"},
	},
	"enterprise": {
		Tier:        "enterprise",
		MaxProducts: 100000,
		MaxUsers:    100,
		Features:    []string{"basic_pos", "reports", "inventory", "multi_user", "multi_branch", "api_access"},
	},
}

// LookupTier returns the entitlements of tier, falling back to basic for
// unknown or empty tiers.
func LookupTier(tier string) Entitlements {
	e, ok := tierCatalog[tier]
	if !ok {
		e = tierCatalog[DefaultTier]
	}
	e.Features = append([]string(nil), e.Features...)
	return e
}

// NoEntitlements is what a client falls back to when it cannot trust any
// verification result.
func NoEntitlements() Entitlements {
	return Entitlements{Tier: DefaultTier, Features: []string{}}
}
