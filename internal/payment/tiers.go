package payment

import "strings"

// DefaultCurrency is the currency subscription tiers are priced in.
const DefaultCurrency = "SAR"

// Tier is a purchasable subscription level.
type Tier struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    string   `json:"price"`
	Currency string   `json:"currency"`
	Features []string `json:"features"`
}

var tiers = []Tier{
	{
		ID: "basic", Name: "الأساسية", Price: "99.00", Currency: DefaultCurrency,
		Features: []string{"مدير ذكي واحد", "تقارير أسبوعية", "حساب تواصل اجتماعي واحد"},
	},
	{
		ID: "pro", Name: "الاحترافية", Price: "299.00", Currency: DefaultCurrency,
		Features: []string{"خمسة مدراء أذكياء", "تقارير يومية", "خمسة حسابات تواصل اجتماعي", "إدارة الحملات"},
	},
	{
		ID: "enterprise", Name: "المؤسسات", Price: "999.00", Currency: DefaultCurrency,
		Features: []string{"مدراء بلا حدود", "تحليلات فورية", "حسابات بلا حدود", "دعم مخصص"},
	},
}

// Tiers returns the subscription catalog.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	for i, t := range tiers {
		t.Features = append([]string(nil), t.Features...)
		out[i] = t
	}
	return out
}

// LookupTier finds a tier by id, case-insensitively.
func LookupTier(id string) (Tier, bool) {
	for _, t := range tiers {
		if strings.EqualFold(t.ID, strings.TrimSpace(id)) {
			return t, true
		}
	}
	return Tier{}, false
}
