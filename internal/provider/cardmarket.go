package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/model"
)

// Cardmarket is the European market API. Price guide values are EUR and
// ungraded; the trend price stands in as the raw observation, with the
// low/average bounds carried through.
type Cardmarket struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewCardmarket(cfg config.ProviderConfig) *Cardmarket {
	return &Cardmarket{cfg: cfg, client: newHTTPClient(cfg)}
}

func (c *Cardmarket) Name() model.PriceSource { return model.SourceCardmarket }
func (c *Cardmarket) Kind() Kind              { return KindMarket }

func (c *Cardmarket) Fetch(ctx context.Context, card model.CardKey) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("search", fmt.Sprintf("%s %s", card.Name, card.Number))
	q.Set("exact", "false")
	q.Set("maxResults", "1")
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	return get(ctx, c.client, c.Name(), c.cfg.BaseURL+"/products/find?"+q.Encode(), headers)
}

func (c *Cardmarket) Normalize(card model.CardKey, payload json.RawMessage) (*model.MarketPrice, error) {
	var resp struct {
		Product []struct {
			EnName     string `json:"enName"`
			PriceGuide struct {
				Trend float64 `json:"TREND"`
				Low   float64 `json:"LOW"`
				Avg   float64 `json:"AVG"`
			} `json:"priceGuide"`
		} `json:"product"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &Error{Provider: c.Name(), Err: fmt.Errorf("decode products: %w", err)}
	}
	if len(resp.Product) == 0 {
		return nil, &Error{Provider: c.Name(), Err: fmt.Errorf("card %s not found", card)}
	}

	guide := resp.Product[0].PriceGuide
	mp := &model.MarketPrice{
		Source:    c.Name(),
		Card:      card,
		Timestamp: time.Now().UTC(),
		Currency:  "EUR",
		Raw:       positiveDecimal(guide.Trend),
		Low:       positiveDecimal(guide.Low),
		High:      positiveDecimal(guide.Avg),
		Notes:     resp.Product[0].EnName,
	}
	return mp, nil
}
