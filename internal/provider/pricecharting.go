package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/model"
)

// PriceCharting is the price-aggregation source. Per-card lookups go
// through the gateway; the full price-guide download is the bulk path
// gated by the reservoir limiter.
type PriceCharting struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewPriceCharting(cfg config.ProviderConfig) *PriceCharting {
	return &PriceCharting{cfg: cfg, client: newHTTPClient(cfg)}
}

func (p *PriceCharting) Name() model.PriceSource { return model.SourcePriceCharting }
func (p *PriceCharting) Kind() Kind              { return KindAggregate }

func (p *PriceCharting) Fetch(ctx context.Context, card model.CardKey) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("t", p.cfg.APIKey)
	q.Set("q", fmt.Sprintf("pokemon %s %s %s", card.SetID, card.Name, card.Number))
	return get(ctx, p.client, p.Name(), p.cfg.BaseURL+"/product?"+q.Encode(), nil)
}

// pcProduct is the subset of the product response we consume. Prices are
// in pennies.
type pcProduct struct {
	ID          string `json:"id"`
	ProductName string `json:"product-name"`
	LoosePrice  int64  `json:"loose-price"`
	GradedPrice int64  `json:"graded-price"`
	ManualPrice int64  `json:"manual-only-price"`
	BoxPrice    int64  `json:"new-price"`
}

func (p *PriceCharting) Normalize(card model.CardKey, payload json.RawMessage) (*model.MarketPrice, error) {
	var prod pcProduct
	if err := json.Unmarshal(payload, &prod); err != nil {
		return nil, &Error{Provider: p.Name(), Err: fmt.Errorf("decode product: %w", err)}
	}
	mp := &model.MarketPrice{
		Source:    p.Name(),
		Card:      card,
		Timestamp: time.Now().UTC(),
		Currency:  "USD",
		Raw:       pennies(prod.LoosePrice),
		Graded:    pennies(prod.GradedPrice),
		Notes:     prod.ProductName,
	}
	return mp, nil
}

// FetchPriceList downloads the whole price guide for one console/category.
// Callers must hold a reservoir token; 429/5xx responses are retried with
// backoff up to the attempt ceiling before surfacing.
func (p *PriceCharting) FetchPriceList(ctx context.Context, category string) ([]model.MarketPrice, error) {
	q := url.Values{}
	q.Set("t", p.cfg.APIKey)
	q.Set("console", category)
	body, err := getWithRetry(ctx, p.client, p.Name(), p.cfg.BaseURL+"/products?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Products []pcProduct `json:"products"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, &Error{Provider: p.Name(), Err: fmt.Errorf("decode price list: %w", err)}
	}

	now := time.Now().UTC()
	out := make([]model.MarketPrice, 0, len(listing.Products))
	for _, prod := range listing.Products {
		out = append(out, model.MarketPrice{
			Source:    p.Name(),
			Timestamp: now,
			Currency:  "USD",
			Raw:       pennies(prod.LoosePrice),
			Graded:    pennies(prod.GradedPrice),
			Notes:     prod.ProductName,
		})
	}
	return out, nil
}

func pennies(v int64) decimal.NullDecimal {
	if v <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.New(v, -2), Valid: true}
}
