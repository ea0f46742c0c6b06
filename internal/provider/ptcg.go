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

// PokemonTCG is the catalog API. Its TCGplayer block carries ungraded
// market prices only, so it contributes the raw side of the pair.
type PokemonTCG struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewPokemonTCG(cfg config.ProviderConfig) *PokemonTCG {
	return &PokemonTCG{cfg: cfg, client: newHTTPClient(cfg)}
}

func (p *PokemonTCG) Name() model.PriceSource { return model.SourcePokemonTCG }
func (p *PokemonTCG) Kind() Kind              { return KindCatalog }

func (p *PokemonTCG) Fetch(ctx context.Context, card model.CardKey) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("set.id:%s number:%s", card.SetID, card.Number))
	q.Set("pageSize", "1")
	headers := map[string]string{"X-Api-Key": p.cfg.APIKey}
	return get(ctx, p.client, p.Name(), p.cfg.BaseURL+"/cards?"+q.Encode(), headers)
}

type ptcgVariant struct {
	Low    float64 `json:"low"`
	Mid    float64 `json:"mid"`
	High   float64 `json:"high"`
	Market float64 `json:"market"`
}

func (p *PokemonTCG) Normalize(card model.CardKey, payload json.RawMessage) (*model.MarketPrice, error) {
	var resp struct {
		Data []struct {
			Name      string `json:"name"`
			TCGPlayer struct {
				UpdatedAt string                 `json:"updatedAt"`
				Prices    map[string]ptcgVariant `json:"prices"`
			} `json:"tcgplayer"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &Error{Provider: p.Name(), Err: fmt.Errorf("decode cards: %w", err)}
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Provider: p.Name(), Err: fmt.Errorf("card %s not in catalog", card)}
	}

	// Prefer the holofoil variant; fall back to whichever variant has a
	// market price.
	variants := resp.Data[0].TCGPlayer.Prices
	best, ok := variants["holofoil"]
	if !ok || best.Market <= 0 {
		for _, v := range variants {
			if v.Market > 0 {
				best = v
				break
			}
		}
	}

	mp := &model.MarketPrice{
		Source:    p.Name(),
		Card:      card,
		Timestamp: time.Now().UTC(),
		Currency:  "USD",
		Raw:       positiveDecimal(best.Market),
		Low:       positiveDecimal(best.Low),
		High:      positiveDecimal(best.High),
		Notes:     resp.Data[0].Name,
	}
	return mp, nil
}

func positiveDecimal(v float64) decimal.NullDecimal {
	if v <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v).Round(2), Valid: true}
}
