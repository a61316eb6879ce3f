package order

import (
	"fmt"
	"time"

	"trend_follower/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Leg label suffixes
const (
	entrySuffix      = "_E"
	stopLossSuffix   = "_SL"
	takeProfitSuffix = "_TP"
)

// Factory creates bracket orders with unique client order ids
type Factory struct {
	newID func() string
}

func NewFactory() *Factory {
	return &Factory{newID: uuid.NewString}
}

// AtomicStopMarket builds a STOP_MARKET entry with a STOP_MARKET stop-loss and a
// LIMIT take-profit, both on the opposite side. Only the entry carries the
// time in force and expiry; the protective legs are GTC.
func (f *Factory) AtomicStopMarket(
	symbol string,
	side core.OrderSide,
	quantity decimal.Decimal,
	priceEntry decimal.Decimal,
	priceStopLoss decimal.Decimal,
	priceTakeProfit decimal.Decimal,
	label string,
	tif core.TimeInForce,
	expireTime time.Time,
) *core.BracketOrder {
	bracketID := "B-" + f.newID()
	exit := side.Opposite()

	leg := func(side core.OrderSide, typ core.OrderType, price decimal.Decimal, suffix string) *core.Order {
		return &core.Order{
			ID:          "O-" + f.newID(),
			BracketID:   bracketID,
			Symbol:      symbol,
			Side:        side,
			Type:        typ,
			Quantity:    quantity,
			Price:       price,
			TimeInForce: core.TimeInForceGTC,
			Label:       label + suffix,
			Status:      core.OrderStatusInitialized,
		}
	}

	entry := leg(side, core.OrderTypeStopMarket, priceEntry, entrySuffix)
	entry.TimeInForce = tif
	if tif == core.TimeInForceGTD {
		entry.ExpireTime = expireTime
	}

	return &core.BracketOrder{
		ID:         bracketID,
		Entry:      entry,
		StopLoss:   leg(exit, core.OrderTypeStopMarket, priceStopLoss, stopLossSuffix),
		TakeProfit: leg(exit, core.OrderTypeLimit, priceTakeProfit, takeProfitSuffix),
	}
}

// PositionIDGenerator yields P-<tag>-<n> ids, n starting at 1
type PositionIDGenerator struct {
	tag   string
	count int
}

func NewPositionIDGenerator(tag string) *PositionIDGenerator {
	return &PositionIDGenerator{tag: tag}
}

func (g *PositionIDGenerator) Generate() string {
	g.count++
	return fmt.Sprintf("P-%s-%d", g.tag, g.count)
}

