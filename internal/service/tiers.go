package service

import "github.com/boddenberg/plastic-rewards-go/internal/domain"

// Tier names.
const (
	TierChangeMaker        = "Change Maker"
	TierImpactPartner      = "Impact Partner"
	TierHealthChampion     = "Health Champion"
	TierCommunitySupporter = "Community Supporter"
	TierCustom             = "Custom"
)

type tierBracket struct {
	name   string
	floor  domain.Money
	impact []string
}

// Checked top-down; the first floor the amount reaches wins.
var tierBrackets = []tierBracket{
	{TierChangeMaker, domain.MustMoney("500"), []string{
		"Supports 4 collectors for a month",
		"Funds 100kg of plastic collection",
		"Enrolls 6 people in NHIS",
		"Reaches 5 communities with health screening",
	}},
	{TierImpactPartner, domain.MustMoney("250"), []string{
		"Supports 2 collectors for a month",
		"Funds 50kg of plastic collection",
		"Enrolls 3 people in NHIS",
	}},
	{TierHealthChampion, domain.MustMoney("100"), []string{
		"Funds 20kg of plastic collection",
		"Enrolls 1 person in NHIS",
		"Provides 2 health screenings",
	}},
	{TierCommunitySupporter, domain.MustMoney("50"), []string{
		"Funds 10kg of plastic collection",
		"Provides 1 health screening",
	}},
}

// ClassifyTier maps an amount to its named bracket. Boundaries are
// inclusive on the lower side; anything under the lowest floor is Custom.
func ClassifyTier(amount domain.Money) domain.Tier {
	for _, b := range tierBrackets {
		if amount >= b.floor {
			return domain.Tier{Name: b.name, Amount: amount, Impact: append([]string(nil), b.impact...)}
		}
	}
	return domain.Tier{Name: TierCustom, Amount: amount, Impact: []string{"Contributes to collection and healthcare programmes"}}
}
