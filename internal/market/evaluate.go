package market

import "github.com/albionforge/itemgraph/internal/domain"

// ReasonNoActivePrices is the reason attached to items no city is trading.
const ReasonNoActivePrices = "No active prices found"

// Evaluate derives one ValidationResult per record from the raw price
// observations. A city is active when it reports a nonzero sell or buy
// price; one active city anywhere validates the item. Deliberately
// permissive: this mirrors the documented rule, not a statistical
// threshold.
func Evaluate(records []domain.ItemRecord, observations []PriceObservation) []domain.ValidationResult {
	byItem := make(map[string][]PriceObservation, len(records))
	for _, obs := range observations {
		byItem[obs.ItemID] = append(byItem[obs.ItemID], obs)
	}

	results := make([]domain.ValidationResult, len(records))
	for i, rec := range records {
		// One tuple arrives per (city, quality); a city trading several
		// qualities is still one active city.
		activeCities := make(map[string]struct{})
		var maxPrice int64
		for _, obs := range byItem[rec.Identifier] {
			if obs.SellPriceMin <= 0 && obs.BuyPriceMax <= 0 {
				continue
			}
			activeCities[obs.City] = struct{}{}
			if obs.SellPriceMin > maxPrice {
				maxPrice = obs.SellPriceMin
			}
			if obs.BuyPriceMax > maxPrice {
				maxPrice = obs.BuyPriceMax
			}
		}
		result := domain.ValidationResult{
			Identifier:       rec.Identifier,
			IsValid:          len(activeCities) > 0,
			ActiveCityCount:  len(activeCities),
			MaxObservedPrice: maxPrice,
		}
		if !result.IsValid {
			result.Reason = ReasonNoActivePrices
		}
		results[i] = result
	}
	return results
}
