package service

import (
	"context"
	"strings"

	"github.com/cardgate/cardgate/internal/model"
	"github.com/cardgate/cardgate/internal/provider"
)

// RefreshBulk downloads the aggregation source's full price guide for a
// category and upserts entries that match tracked cards. The download is
// one guarded call: budget first, then a limiter token, then the request,
// whose 429/5xx retries live in the adapter. Returns the match count.
func (in *Ingestor) RefreshBulk(ctx context.Context, pc *provider.PriceCharting, category string, budget *Budget) (int, error) {
	if !budget.Spend() {
		return 0, nil
	}
	if err := in.limiter.Acquire(ctx); err != nil {
		return 0, err
	}
	if err := in.sleepFn(ctx, in.limiter.Jitter()); err != nil {
		return 0, err
	}

	prices, err := pc.FetchPriceList(ctx, category)
	if err != nil {
		return 0, err
	}

	cards, err := in.store.TrackedCards(ctx)
	if err != nil {
		return 0, err
	}

	matched := 0
	for i := range prices {
		mp := &prices[i]
		card, ok := matchTracked(cards, mp.Notes)
		if !ok {
			continue
		}
		mp.Card = card.Key
		if err := in.store.UpsertMarketPrice(ctx, mp); err != nil {
			return matched, err
		}
		matched++
	}
	in.log.Info("bulk price guide refreshed", "category", category, "products", len(prices), "matched", matched)
	return matched, nil
}

// matchTracked pairs a price-guide product name with a tracked card. The
// guide has no set/number keys, so matching is by name plus card number.
func matchTracked(cards []model.TrackedCard, productName string) (model.TrackedCard, bool) {
	name := strings.ToLower(productName)
	for _, card := range cards {
		if card.Key.Name == "" {
			continue
		}
		if strings.Contains(name, strings.ToLower(card.Key.Name)) &&
			strings.Contains(name, "#"+card.Key.Number) {
			return card, true
		}
	}
	return model.TrackedCard{}, false
}
