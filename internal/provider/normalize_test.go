package provider

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/model"
)

var card = model.CardKey{SetID: "base1", Number: "4", Name: "Charizard"}

func TestPriceChartingNormalize(t *testing.T) {
	p := NewPriceCharting(config.ProviderConfig{})
	payload := json.RawMessage(`{"id":"12345","product-name":"Charizard #4","loose-price":32050,"graded-price":145000}`)

	mp, err := p.Normalize(card, payload)
	require.NoError(t, err)
	require.True(t, mp.Raw.Valid)
	require.True(t, mp.Graded.Valid)
	assert.True(t, mp.Raw.Decimal.Equal(decimal.NewFromFloat(320.50)), "got %s", mp.Raw.Decimal)
	assert.True(t, mp.Graded.Decimal.Equal(decimal.NewFromFloat(1450.00)), "got %s", mp.Graded.Decimal)
	assert.Equal(t, "USD", mp.Currency)
}

func TestPriceChartingNormalizeMissingPrices(t *testing.T) {
	p := NewPriceCharting(config.ProviderConfig{})
	mp, err := p.Normalize(card, json.RawMessage(`{"product-name":"Charizard #4"}`))
	require.NoError(t, err)
	assert.False(t, mp.Raw.Valid)
	assert.False(t, mp.Graded.Valid)
}

func TestEbayNormalizeSplitsRawAndGraded(t *testing.T) {
	e := NewEbay(config.ProviderConfig{})
	payload := json.RawMessage(`{"itemSales":[
		{"title":"Charizard Base Set holo","lastSoldPrice":{"value":"300.00","currency":"USD"}},
		{"title":"Charizard Base Set near mint","lastSoldPrice":{"value":"320.00","currency":"USD"}},
		{"title":"Charizard Base Set","lastSoldPrice":{"value":"340.00","currency":"USD"}},
		{"title":"Charizard PSA 10 GEM MINT","lastSoldPrice":{"value":"1400.00","currency":"USD"}},
		{"title":"Charizard PSA10","lastSoldPrice":{"value":"1500.00","currency":"USD"}},
		{"title":"Charizard PSA 9 MINT","lastSoldPrice":{"value":"700.00","currency":"USD"}},
		{"title":"Charizard BGS 9.5","lastSoldPrice":{"value":"900.00","currency":"USD"}},
		{"title":"Charizard junk listing","lastSoldPrice":{"value":"0","currency":"USD"}}
	]}`)

	mp, err := e.Normalize(card, payload)
	require.NoError(t, err)
	// Raw bucket: 300, 320, 340 -> median 320. Mid-grade listings dropped.
	require.True(t, mp.Raw.Valid)
	assert.True(t, mp.Raw.Decimal.Equal(decimal.NewFromInt(320)), "got %s", mp.Raw.Decimal)
	// Graded bucket: 1400, 1500 -> median 1450.
	require.True(t, mp.Graded.Valid)
	assert.True(t, mp.Graded.Decimal.Equal(decimal.NewFromInt(1450)), "got %s", mp.Graded.Decimal)
}

func TestPokemonTCGNormalizePrefersHolofoil(t *testing.T) {
	p := NewPokemonTCG(config.ProviderConfig{})
	payload := json.RawMessage(`{"data":[{"name":"Charizard","tcgplayer":{"updatedAt":"2026/03/01","prices":{
		"normal":{"low":1,"market":2},
		"holofoil":{"low":250.0,"high":400.0,"market":320.0}
	}}}]}`)

	mp, err := p.Normalize(card, payload)
	require.NoError(t, err)
	require.True(t, mp.Raw.Valid)
	assert.True(t, mp.Raw.Decimal.Equal(decimal.NewFromInt(320)), "got %s", mp.Raw.Decimal)
}

func TestPokemonTCGNormalizeUnknownCard(t *testing.T) {
	p := NewPokemonTCG(config.ProviderConfig{})
	_, err := p.Normalize(card, json.RawMessage(`{"data":[]}`))
	assert.Error(t, err)
}

func TestCardmarketNormalize(t *testing.T) {
	c := NewCardmarket(config.ProviderConfig{})
	payload := json.RawMessage(`{"product":[{"enName":"Charizard","priceGuide":{"TREND":290.5,"LOW":210.0,"AVG":305.0}}]}`)

	mp, err := c.Normalize(card, payload)
	require.NoError(t, err)
	assert.Equal(t, "EUR", mp.Currency)
	require.True(t, mp.Raw.Valid)
	assert.True(t, mp.Raw.Decimal.Equal(decimal.NewFromFloat(290.5)), "got %s", mp.Raw.Decimal)
}

func TestPSANormalize(t *testing.T) {
	p := NewPSA(config.ProviderConfig{})
	payload := json.RawMessage(`{"popGrade10":150,"popGrade9":300,"popGrade8":250,"totalCount":850}`)

	pop, err := p.Normalize(card, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(150), pop.GradeTop)
	assert.Equal(t, int64(300), pop.GradeNext)
	assert.Equal(t, int64(850), pop.Total)
}

func TestPSANormalizeTotalNeverBelowGrades(t *testing.T) {
	p := NewPSA(config.ProviderConfig{})
	payload := json.RawMessage(`{"popGrade10":100,"popGrade9":100,"popGrade8":100,"totalCount":0}`)

	pop, err := p.Normalize(card, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(300), pop.Total)
}
