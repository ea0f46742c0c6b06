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

// PSA serves grading population reports. GradeTop is PSA 10, GradeNext
// PSA 9, GradeThird PSA 8; Total covers every recorded grade including
// qualifiers.
type PSA struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewPSA(cfg config.ProviderConfig) *PSA {
	return &PSA{cfg: cfg, client: newHTTPClient(cfg)}
}

func (p *PSA) Name() model.PriceSource { return model.SourcePSA }
func (p *PSA) Kind() Kind              { return KindPopulation }

func (p *PSA) Fetch(ctx context.Context, card model.CardKey) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("setName", card.SetID)
	q.Set("cardNumber", card.Number)
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	return get(ctx, p.client, p.Name(), p.cfg.BaseURL+"/pop/spec?"+q.Encode(), headers)
}

func (p *PSA) Normalize(card model.CardKey, payload json.RawMessage) (*model.PopulationSnapshot, error) {
	var resp struct {
		Pop10      int64 `json:"popGrade10"`
		Pop9       int64 `json:"popGrade9"`
		Pop8       int64 `json:"popGrade8"`
		TotalCount int64 `json:"totalCount"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &Error{Provider: p.Name(), Err: fmt.Errorf("decode pop report: %w", err)}
	}

	total := resp.TotalCount
	if total < resp.Pop10+resp.Pop9+resp.Pop8 {
		total = resp.Pop10 + resp.Pop9 + resp.Pop8
	}
	return &model.PopulationSnapshot{
		Date:       time.Now().UTC(),
		GradeTop:   resp.Pop10,
		GradeNext:  resp.Pop9,
		GradeThird: resp.Pop8,
		Total:      total,
	}, nil
}
