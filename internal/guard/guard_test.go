package guard

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuspiciousRatio(t *testing.T) {
	cases := []struct {
		name        string
		raw, graded float64
		want        bool
	}{
		{"typical gap", 10, 45, false},
		{"lower bound inclusive", 10, 12, false},
		{"upper bound inclusive", 10, 150, false},
		{"below lower bound", 10, 11, true},
		{"above upper bound", 10, 151, true},
		{"graded under raw", 50, 20, true},
		{"zero raw", 0, 45, false},
		{"negative graded", 10, -5, false},
		{"nan", math.NaN(), 45, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SuspiciousRatio(tc.raw, tc.graded))
		})
	}
}

func TestValidPrice(t *testing.T) {
	assert.True(t, ValidPrice(0.01))
	assert.True(t, ValidPrice(99999.99))
	assert.False(t, ValidPrice(0))
	assert.False(t, ValidPrice(-3))
	assert.False(t, ValidPrice(100000))
	assert.False(t, ValidPrice(math.Inf(1)))
}

func TestValidPopulation(t *testing.T) {
	assert.True(t, ValidPopulation(0))
	assert.True(t, ValidPopulation(999999))
	assert.False(t, ValidPopulation(-1))
	assert.False(t, ValidPopulation(1000000))
	assert.False(t, ValidPopulation(math.NaN()))
}

func TestValidateCardData(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	t.Run("clean card", func(t *testing.T) {
		rep := ValidateCardData(CardData{RawPrice: f(10), GradedPrice: f(45), Population: f(850)})
		assert.True(t, rep.Valid)
		assert.Empty(t, rep.Issues)
	})

	t.Run("missing fields are not issues", func(t *testing.T) {
		rep := ValidateCardData(CardData{})
		assert.True(t, rep.Valid)
	})

	t.Run("collects all issues", func(t *testing.T) {
		rep := ValidateCardData(CardData{RawPrice: f(-1), GradedPrice: f(200000), Population: f(-5)})
		assert.False(t, rep.Valid)
		assert.Len(t, rep.Issues, 3)
	})

	t.Run("suspicious ratio flagged", func(t *testing.T) {
		rep := ValidateCardData(CardData{RawPrice: f(100), GradedPrice: f(101)})
		assert.False(t, rep.Valid)
		assert.Contains(t, rep.Issues, "Suspicious price ratio")
	})
}
