package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardgate/cardgate/internal/model"
)

// HistoryStore owns the relational side: market price observations, the
// append-only price and population time series, tracked cards and value
// snapshots. All writes are upserts.
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) (*HistoryStore, error) {
	if err := db.AutoMigrate(
		&marketPriceRow{},
		&pricePointRow{},
		&populationRow{},
		&trackedCardRow{},
		&model.ValueSnapshot{},
	); err != nil {
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

type marketPriceRow struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	Source   string    `gorm:"uniqueIndex:idx_market_source_card_day;not null"`
	SetID    string    `gorm:"uniqueIndex:idx_market_source_card_day;not null"`
	Number   string    `gorm:"uniqueIndex:idx_market_source_card_day;not null"`
	Day      time.Time `gorm:"uniqueIndex:idx_market_source_card_day;not null"`
	Currency string
	Raw      decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	Graded   decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	Low      decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	High     decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	Notes    string
	SeenAt   time.Time
}

func (marketPriceRow) TableName() string { return "market_prices" }

type pricePointRow struct {
	ID     uint      `gorm:"primaryKey;autoIncrement"`
	SetID  string    `gorm:"uniqueIndex:idx_price_card_date;not null"`
	Number string    `gorm:"uniqueIndex:idx_price_card_date;not null"`
	Date   time.Time `gorm:"uniqueIndex:idx_price_card_date;not null"`
	Raw    decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	Graded decimal.NullDecimal `gorm:"type:numeric(12,2)"`
}

func (pricePointRow) TableName() string { return "price_points" }

type populationRow struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	SetID      string    `gorm:"uniqueIndex:idx_pop_card_date;not null"`
	Number     string    `gorm:"uniqueIndex:idx_pop_card_date;not null"`
	Date       time.Time `gorm:"uniqueIndex:idx_pop_card_date;not null"`
	GradeTop   int64
	GradeNext  int64
	GradeThird int64
	Total      int64
}

func (populationRow) TableName() string { return "population_snapshots" }

type trackedCardRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SetID     string `gorm:"uniqueIndex:idx_tracked_card;not null"`
	Number    string `gorm:"uniqueIndex:idx_tracked_card;not null"`
	Name      string
	Segment   string
	CreatedAt time.Time
}

func (trackedCardRow) TableName() string { return "tracked_cards" }

func (s *HistoryStore) UpsertMarketPrice(ctx context.Context, mp *model.MarketPrice) error {
	row := marketPriceRow{
		Source:   string(mp.Source),
		SetID:    mp.Card.SetID,
		Number:   mp.Card.Number,
		Day:      mp.Timestamp.UTC().Truncate(24 * time.Hour),
		Currency: mp.Currency,
		Raw:      mp.Raw,
		Graded:   mp.Graded,
		Low:      mp.Low,
		High:     mp.High,
		Notes:    mp.Notes,
		SeenAt:   mp.Timestamp,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "set_id"}, {Name: "number"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"currency", "raw", "graded", "low", "high", "notes", "seen_at"}),
	}).Create(&row).Error
}

func (s *HistoryStore) AppendPricePoint(ctx context.Context, card model.CardKey, p model.PricePoint) error {
	row := pricePointRow{
		SetID:  card.SetID,
		Number: card.Number,
		Date:   p.Date.UTC().Truncate(24 * time.Hour),
		Raw:    p.Raw,
		Graded: p.Graded,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "set_id"}, {Name: "number"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw", "graded"}),
	}).Create(&row).Error
}

// PriceHistory returns the card's series ordered oldest-first, at most
// limit most recent points.
func (s *HistoryStore) PriceHistory(ctx context.Context, card model.CardKey, limit int) (model.PriceHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []pricePointRow
	err := s.db.WithContext(ctx).
		Where("set_id = ? AND number = ?", card.SetID, card.Number).
		Order("date DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	history := make(model.PriceHistory, len(rows))
	for i, row := range rows {
		// Reverse back to oldest-first.
		history[len(rows)-1-i] = model.PricePoint{Date: row.Date, Raw: row.Raw, Graded: row.Graded}
	}
	return history, nil
}

func (s *HistoryStore) AppendPopulation(ctx context.Context, card model.CardKey, pop model.PopulationSnapshot) error {
	row := populationRow{
		SetID:      card.SetID,
		Number:     card.Number,
		Date:       pop.Date.UTC().Truncate(24 * time.Hour),
		GradeTop:   pop.GradeTop,
		GradeNext:  pop.GradeNext,
		GradeThird: pop.GradeThird,
		Total:      pop.Total,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "set_id"}, {Name: "number"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"grade_top", "grade_next", "grade_third", "total"}),
	}).Create(&row).Error
}

func (s *HistoryStore) LatestPopulation(ctx context.Context, card model.CardKey) (*model.PopulationSnapshot, error) {
	var row populationRow
	err := s.db.WithContext(ctx).
		Where("set_id = ? AND number = ?", card.SetID, card.Number).
		Order("date DESC").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &model.PopulationSnapshot{
		Date:       row.Date,
		GradeTop:   row.GradeTop,
		GradeNext:  row.GradeNext,
		GradeThird: row.GradeThird,
		Total:      row.Total,
	}, nil
}

// Peers returns the most recent raw/graded pair of every other card in
// the set, taken from the aggregation source.
func (s *HistoryStore) Peers(ctx context.Context, setID, excludeNumber string) ([]model.PeerPrice, error) {
	var rows []marketPriceRow
	err := s.db.WithContext(ctx).
		Where("set_id = ? AND number <> ? AND source = ?", setID, excludeNumber, string(model.SourcePriceCharting)).
		Order("day DESC").
		Limit(500).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	peers := make([]model.PeerPrice, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.Number]; ok {
			continue
		}
		seen[row.Number] = struct{}{}
		peers = append(peers, model.PeerPrice{
			Card:   model.CardKey{SetID: row.SetID, Number: row.Number},
			Raw:    row.Raw,
			Graded: row.Graded,
		})
	}
	return peers, nil
}

func (s *HistoryStore) SaveSnapshot(ctx context.Context, snap *model.ValueSnapshot) error {
	snap.SnapshotDay = snap.SnapshotDay.UTC().Truncate(24 * time.Hour)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "set_id"}, {Name: "number"}, {Name: "snapshot_day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"estimate", "method", "confidence", "gem_rate", "net_roi", "flagged", "issues",
		}),
	}).Create(snap).Error
}

func (s *HistoryStore) TrackCard(ctx context.Context, card model.TrackedCard) error {
	row := trackedCardRow{
		SetID:   card.Key.SetID,
		Number:  card.Key.Number,
		Name:    card.Key.Name,
		Segment: card.Segment,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "set_id"}, {Name: "number"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "segment"}),
	}).Create(&row).Error
}

func (s *HistoryStore) TrackedCards(ctx context.Context) ([]model.TrackedCard, error) {
	var rows []trackedCardRow
	if err := s.db.WithContext(ctx).Order("set_id, number").Find(&rows).Error; err != nil {
		return nil, err
	}
	cards := make([]model.TrackedCard, len(rows))
	for i, row := range rows {
		cards[i] = model.TrackedCard{
			Key:     model.CardKey{SetID: row.SetID, Number: row.Number, Name: row.Name},
			Segment: row.Segment,
		}
	}
	return cards, nil
}
