package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/model"
)

// Ebay is the auction completed-listings source. Sold listings for a card
// are split into raw and top-grade buckets by title, and each bucket is
// collapsed to its median sale price.
type Ebay struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewEbay(cfg config.ProviderConfig) *Ebay {
	return &Ebay{cfg: cfg, client: newHTTPClient(cfg)}
}

func (e *Ebay) Name() model.PriceSource { return model.SourceEbay }
func (e *Ebay) Kind() Kind              { return KindSoldListings }

func (e *Ebay) Fetch(ctx context.Context, card model.CardKey) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("%s %s pokemon card", card.Name, card.Number))
	q.Set("filter", "lastSoldDate:[2000-01-01T00:00:00Z..]")
	q.Set("limit", "50")
	headers := map[string]string{"Authorization": "Bearer " + e.cfg.APIKey}
	return get(ctx, e.client, e.Name(), e.cfg.BaseURL+"/item_sales/search?"+q.Encode(), headers)
}

type ebaySale struct {
	Title         string `json:"title"`
	LastSoldPrice struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"lastSoldPrice"`
	LastSoldDate time.Time `json:"lastSoldDate"`
}

func (e *Ebay) Normalize(card model.CardKey, payload json.RawMessage) (*model.MarketPrice, error) {
	var search struct {
		ItemSales []ebaySale `json:"itemSales"`
	}
	if err := json.Unmarshal(payload, &search); err != nil {
		return nil, &Error{Provider: e.Name(), Err: fmt.Errorf("decode item sales: %w", err)}
	}

	var rawSales, gradedSales []decimal.Decimal
	for _, sale := range search.ItemSales {
		price, err := decimal.NewFromString(sale.LastSoldPrice.Value)
		if err != nil || !price.IsPositive() {
			continue
		}
		if isTopGradeTitle(sale.Title) {
			gradedSales = append(gradedSales, price)
		} else if !isGradedTitle(sale.Title) {
			rawSales = append(rawSales, price)
		}
		// Listings graded below the top tier are skipped entirely.
	}

	mp := &model.MarketPrice{
		Source:    e.Name(),
		Card:      card,
		Timestamp: time.Now().UTC(),
		Currency:  "USD",
		Raw:       medianOf(rawSales),
		Graded:    medianOf(gradedSales),
		Notes:     fmt.Sprintf("%d raw / %d graded sales", len(rawSales), len(gradedSales)),
	}
	return mp, nil
}

func isTopGradeTitle(title string) bool {
	t := strings.ToUpper(title)
	return strings.Contains(t, "PSA 10") || strings.Contains(t, "PSA10")
}

func isGradedTitle(title string) bool {
	t := strings.ToUpper(title)
	for _, marker := range []string{"PSA", "BGS", "CGC", "SGC"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

func medianOf(vals []decimal.Decimal) decimal.NullDecimal {
	if len(vals) == 0 {
		return decimal.NullDecimal{}
	}
	sorted := make([]decimal.Decimal, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	m := sorted[mid]
	if len(sorted)%2 == 0 {
		m = sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
	}
	return decimal.NullDecimal{Decimal: m.Round(2), Valid: true}
}
