// Package mock provides an in-memory paper venue
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"

	"github.com/shopspring/decimal"
)

type paperBracket struct {
	positionID string
	entry      *core.Order
	stopLoss   *core.Order
	takeProfit *core.Order
	filledAt   decimal.Decimal
	open       bool
}

func (b *paperBracket) done() bool {
	if !b.open {
		return b.entry.Status.IsClosed()
	}
	return b.stopLoss.Status.IsClosed() && b.takeProfit.Status.IsClosed()
}

// PaperGateway is a venue simulator. It accepts brackets, triggers entries,
// stops and targets from quote ticks, expires GTD entries and reports every
// lifecycle change to the downstream sink.
//
// It is also an IEventSink: feeds publish into it, it matches ticks and
// forwards every event downstream.
type PaperGateway struct {
	mu         sync.Mutex
	downstream core.IEventSink
	clock      core.Clock
	logger     core.ILogger

	orders   map[string]*core.Order
	brackets map[string]*paperBracket

	currency   string
	equity     decimal.Decimal
	submitErr  error
	modifyErr  error
	emitFailed int
}

// NewPaperGateway creates a paper venue that starts with equity in currency
func NewPaperGateway(downstream core.IEventSink, clock core.Clock, currency string, equity decimal.Decimal, logger core.ILogger) *PaperGateway {
	return &PaperGateway{
		downstream: downstream,
		clock:      clock,
		logger:     logger.WithField("component", "paper_gateway"),
		orders:     make(map[string]*core.Order),
		brackets:   make(map[string]*paperBracket),
		currency:   currency,
		equity:     equity,
	}
}

// SetSubmitError makes every following Submit fail with err; nil clears it
func (g *PaperGateway) SetSubmitError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErr = err
}

// SetModifyError makes every following Modify fail with err; nil clears it
func (g *PaperGateway) SetModifyError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modifyErr = err
}

// Submit accepts all three legs of a bracket
func (g *PaperGateway) Submit(ctx context.Context, bracket *core.BracketOrder, positionID string) error {
	g.mu.Lock()
	if g.submitErr != nil {
		err := g.submitErr
		g.mu.Unlock()
		return err
	}
	if _, ok := g.brackets[bracket.ID]; ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: bracket %s", apperrors.ErrDuplicateOrder, bracket.ID)
	}
	for _, leg := range bracket.Legs() {
		if _, ok := g.orders[leg.ID]; ok {
			g.mu.Unlock()
			return fmt.Errorf("%w: order %s", apperrors.ErrDuplicateOrder, leg.ID)
		}
	}

	br := &paperBracket{
		positionID: positionID,
		entry:      bracket.Entry.Clone(),
		stopLoss:   bracket.StopLoss.Clone(),
		takeProfit: bracket.TakeProfit.Clone(),
	}
	now := g.clock.Now()
	var events []core.Event
	for _, o := range []*core.Order{br.entry, br.stopLoss, br.takeProfit} {
		o.Status = core.OrderStatusAccepted
		g.orders[o.ID] = o
		events = append(events, g.orderEvent(core.OrderAccepted, o, br, o.Price, now))
	}
	br.entry.Status = core.OrderStatusWorking
	g.brackets[bracket.ID] = br
	g.mu.Unlock()

	g.logger.Debug("Bracket accepted",
		"bracket_id", bracket.ID,
		"side", br.entry.Side.String(),
		"entry", br.entry.Price.String(),
		"stop_loss", br.stopLoss.Price.String(),
		"take_profit", br.takeProfit.Price.String())
	g.emit(events)
	return nil
}

// Modify moves the trigger or limit price of a live order
func (g *PaperGateway) Modify(ctx context.Context, order *core.Order, price decimal.Decimal) error {
	g.mu.Lock()
	if g.modifyErr != nil {
		err := g.modifyErr
		g.mu.Unlock()
		return err
	}
	o, ok := g.orders[order.ID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownOrder, order.ID)
	}
	if o.Status.IsClosed() {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", apperrors.ErrOrderRejected, o.ID, o.Status)
	}
	if !price.IsPositive() {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidPrice, price)
	}
	o.Price = price
	ev := g.orderEvent(core.OrderModified, o, g.brackets[o.BracketID], price, g.clock.Now())
	g.mu.Unlock()

	g.emit([]core.Event{ev})
	return nil
}

// Publish matches ticks against working orders and forwards every event
func (g *PaperGateway) Publish(event core.Event) error {
	err := g.downstream.Publish(event)
	if tick, ok := event.(core.Tick); ok {
		g.UpdatePrice(tick)
	}
	return err
}

// UpdatePrice runs expiry and trigger checks for the tick's symbol
func (g *PaperGateway) UpdatePrice(tick core.Tick) {
	now := tick.Timestamp
	if now.IsZero() {
		now = g.clock.Now()
	}

	g.mu.Lock()
	var events []core.Event
	for _, id := range g.sortedBracketIDs() {
		br := g.brackets[id]
		if br.entry.Symbol != tick.Symbol {
			continue
		}
		events = append(events, g.match(br, tick, now)...)
		if br.done() {
			delete(g.brackets, id)
		}
	}
	g.mu.Unlock()

	g.emit(events)
}

func (g *PaperGateway) match(br *paperBracket, tick core.Tick, now time.Time) []core.Event {
	if !br.open {
		e := br.entry
		if e.TimeInForce == core.TimeInForceGTD && !e.ExpireTime.IsZero() && !now.Before(e.ExpireTime) {
			return g.expireEntry(br, now)
		}
		if !entryTriggered(e, tick) {
			return nil
		}
		fill := tick.Ask
		if e.Side == core.OrderSideSell {
			fill = tick.Bid
		}
		e.Status = core.OrderStatusFilled
		br.open = true
		br.filledAt = fill
		br.stopLoss.Status = core.OrderStatusWorking
		br.takeProfit.Status = core.OrderStatusWorking
		return []core.Event{g.orderEvent(core.OrderFilled, e, br, fill, now)}
	}

	// stop first: when one quote crosses both legs the loss is taken
	if stopTriggered(br.stopLoss, tick) {
		fill := tick.Bid
		if br.stopLoss.Side == core.OrderSideBuy {
			fill = tick.Ask
		}
		return g.exit(br, br.stopLoss, br.takeProfit, fill, now)
	}
	if targetReached(br.takeProfit, tick) {
		return g.exit(br, br.takeProfit, br.stopLoss, br.takeProfit.Price, now)
	}
	return nil
}

func (g *PaperGateway) expireEntry(br *paperBracket, now time.Time) []core.Event {
	br.entry.Status = core.OrderStatusExpired
	br.stopLoss.Status = core.OrderStatusCancelled
	br.takeProfit.Status = core.OrderStatusCancelled
	return []core.Event{
		g.orderEvent(core.OrderExpired, br.entry, br, br.entry.Price, now),
		g.orderEvent(core.OrderCancelled, br.stopLoss, br, br.stopLoss.Price, now),
		g.orderEvent(core.OrderCancelled, br.takeProfit, br, br.takeProfit.Price, now),
	}
}

func (g *PaperGateway) exit(br *paperBracket, filled, other *core.Order, price decimal.Decimal, now time.Time) []core.Event {
	filled.Status = core.OrderStatusFilled
	other.Status = core.OrderStatusCancelled

	pnl := price.Sub(br.filledAt).Mul(br.entry.Quantity)
	if br.entry.Side == core.OrderSideSell {
		pnl = pnl.Neg()
	}
	g.equity = g.equity.Add(pnl)

	closed := g.orderEvent(core.PositionClosed, filled, br, price, now)
	closed.OrderID = ""
	closed.Reason = fmt.Sprintf("%s filled, pnl %s", filled.Label, pnl.StringFixed(2))

	return []core.Event{
		g.orderEvent(core.OrderFilled, filled, br, price, now),
		g.orderEvent(core.OrderCancelled, other, br, other.Price, now),
		closed,
		core.AccountEvent{Currency: g.currency, FreeEquity: g.equity, Timestamp: now},
	}
}

// SimulateReject rejects a live order as the venue would
func (g *PaperGateway) SimulateReject(orderID, reason string) error {
	return g.simulateClose(orderID, core.OrderRejected, core.OrderStatusRejected, reason)
}

// SimulateCancel cancels a live order as the venue would
func (g *PaperGateway) SimulateCancel(orderID, reason string) error {
	return g.simulateClose(orderID, core.OrderCancelled, core.OrderStatusCancelled, reason)
}

func (g *PaperGateway) simulateClose(orderID string, kind core.OrderEventKind, status core.OrderStatus, reason string) error {
	g.mu.Lock()
	o, ok := g.orders[orderID]
	if !ok || o.Status.IsClosed() {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownOrder, orderID)
	}
	br := g.brackets[o.BracketID]
	now := g.clock.Now()
	o.Status = status
	ev := g.orderEvent(kind, o, br, o.Price, now)
	ev.Reason = reason
	events := []core.Event{ev}

	// contingent legs die with an unfilled entry
	if br != nil && o == br.entry && !br.open {
		for _, leg := range []*core.Order{br.stopLoss, br.takeProfit} {
			leg.Status = core.OrderStatusCancelled
			events = append(events, g.orderEvent(core.OrderCancelled, leg, br, leg.Price, now))
		}
	}
	if br != nil && br.done() {
		delete(g.brackets, o.BracketID)
	}
	g.mu.Unlock()

	g.emit(events)
	return nil
}

// Order returns a copy of the venue's view of an order
func (g *PaperGateway) Order(orderID string) (*core.Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	return o.Clone(), ok
}

// OpenOrders returns copies of every live order for symbol
func (g *PaperGateway) OpenOrders(symbol string) []*core.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*core.Order
	for _, o := range g.orders {
		if o.Symbol == symbol && !o.Status.IsClosed() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Equity returns the paper account equity after realized PnL
func (g *PaperGateway) Equity() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.equity
}

// CheckHealth fails once events could not be delivered downstream
func (g *PaperGateway) CheckHealth() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emitFailed > 0 {
		return fmt.Errorf("%d order events not delivered", g.emitFailed)
	}
	return nil
}

func (g *PaperGateway) orderEvent(kind core.OrderEventKind, o *core.Order, br *paperBracket, price decimal.Decimal, now time.Time) core.OrderEvent {
	ev := core.OrderEvent{
		Kind:      kind,
		Symbol:    o.Symbol,
		OrderID:   o.ID,
		BracketID: o.BracketID,
		Price:     price,
		Quantity:  o.Quantity,
		Timestamp: now,
	}
	if br != nil {
		ev.PositionID = br.positionID
	}
	return ev
}

func (g *PaperGateway) emit(events []core.Event) {
	for _, ev := range events {
		if err := g.downstream.Publish(ev); err != nil {
			g.mu.Lock()
			g.emitFailed++
			g.mu.Unlock()
			g.logger.Error("Order event not delivered", "event", fmt.Sprintf("%T", ev), "error", err.Error())
		}
	}
}

func (g *PaperGateway) sortedBracketIDs() []string {
	ids := make([]string, 0, len(g.brackets))
	for id := range g.brackets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func entryTriggered(o *core.Order, tick core.Tick) bool {
	if o.Side == core.OrderSideBuy {
		return tick.Ask.GreaterThanOrEqual(o.Price)
	}
	return tick.Bid.LessThanOrEqual(o.Price)
}

func stopTriggered(o *core.Order, tick core.Tick) bool {
	if o.Side == core.OrderSideSell {
		return tick.Bid.LessThanOrEqual(o.Price)
	}
	return tick.Ask.GreaterThanOrEqual(o.Price)
}

func targetReached(o *core.Order, tick core.Tick) bool {
	if o.Side == core.OrderSideSell {
		return tick.Bid.GreaterThanOrEqual(o.Price)
	}
	return tick.Ask.LessThanOrEqual(o.Price)
}

var _ core.IOrderGateway = (*PaperGateway)(nil)
var _ core.IEventSink = (*PaperGateway)(nil)
