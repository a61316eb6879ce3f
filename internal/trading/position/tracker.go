// Package position tracks one instrument's bracket orders and position state
package position

import (
	"fmt"
	"sort"

	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"

	"github.com/shopspring/decimal"
)

// TransitionFunc observes state changes
type TransitionFunc func(from, to core.PositionState, reason string)

// UnprotectedFunc is told when a live bracket loses its stop-loss, or when a
// position opens without one
type UnprotectedFunc func(positionID, reason string)

type legRole int

const (
	roleEntry legRole = iota
	roleStopLoss
	roleTakeProfit
)

type leg struct {
	order   *core.Order
	role    legRole
	bracket *core.BracketOrder
}

// Tracker is the single source of truth for whether an instrument is flat,
// has a pending entry, and which stop-loss orders are working.
//
// State only moves on lifecycle events:
//
//	FLAT -> PENDING_ENTRY           bracket submitted
//	PENDING_ENTRY -> POSITION_OPEN  entry filled
//	PENDING_ENTRY -> FLAT           entry cancelled, expired or rejected
//	POSITION_OPEN -> FLAT           stop or target filled, or position closed
//
// A stop-loss that ends without filling while the bracket is live leaves the
// position unprotected. State still follows the venue; the loss is reported
// through OnUnprotected.
//
// Not safe for concurrent use; the engine drives it from one goroutine.
type Tracker struct {
	symbol     string
	state      core.PositionState
	positionID string
	legs       map[string]*leg
	entries    map[string]*core.Order
	stops      map[string]*core.Order

	onTransition  TransitionFunc
	onUnprotected UnprotectedFunc
}

func NewTracker(symbol string) *Tracker {
	return &Tracker{
		symbol:  symbol,
		legs:    make(map[string]*leg),
		entries: make(map[string]*core.Order),
		stops:   make(map[string]*core.Order),
	}
}

// OnTransition registers fn to be called on every state change
func (t *Tracker) OnTransition(fn TransitionFunc) {
	t.onTransition = fn
}

// OnUnprotected registers fn to be called when the stop-loss protection is lost
func (t *Tracker) OnUnprotected(fn UnprotectedFunc) {
	t.onUnprotected = fn
}

func (t *Tracker) State() core.PositionState { return t.state }

// Unprotected reports an open position with no working stop-loss
func (t *Tracker) Unprotected() bool {
	return t.state == core.StatePositionOpen && len(t.stops) == 0
}

// IsFlat reports whether no position is open. A pending entry is still flat.
func (t *Tracker) IsFlat() bool { return t.state != core.StatePositionOpen }

func (t *Tracker) EntryOrdersCount() int { return len(t.entries) }

// PositionID returns the id of the current position, empty when flat with nothing pending
func (t *Tracker) PositionID() string { return t.positionID }

// WorkingStops returns copies of the working stop-loss orders ordered by id
func (t *Tracker) WorkingStops() []*core.Order {
	out := make([]*core.Order, 0, len(t.stops))
	for _, o := range t.stops {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnSubmitted registers a bracket that was handed to the gateway
func (t *Tracker) OnSubmitted(bracket *core.BracketOrder, positionID string) error {
	if len(t.entries) > 0 || !t.IsFlat() {
		return fmt.Errorf("%w: %s is %s", apperrors.ErrNotFlat, t.symbol, t.state)
	}

	t.clearLegs()
	t.positionID = positionID
	roles := []legRole{roleEntry, roleStopLoss, roleTakeProfit}
	for i, o := range bracket.Legs() {
		o.Status = core.OrderStatusSubmitted
		t.legs[o.ID] = &leg{order: o, role: roles[i], bracket: bracket}
	}
	t.entries[bracket.Entry.ID] = bracket.Entry
	t.transition(core.StatePendingEntry, "entry submitted")
	return nil
}

// Apply consumes one lifecycle event. Events for orders the tracker never
// saw return ErrUnknownOrder and change nothing.
func (t *Tracker) Apply(ev core.OrderEvent) error {
	if ev.Kind == core.PositionClosed {
		if t.state == core.StatePositionOpen && (ev.PositionID == "" || ev.PositionID == t.positionID) {
			t.closeAll(core.OrderStatusCancelled)
			t.transition(core.StateFlat, "position closed")
		}
		return nil
	}

	l, ok := t.legs[ev.OrderID]
	if !ok {
		return fmt.Errorf("%w: %s %s", apperrors.ErrUnknownOrder, ev.Kind, ev.OrderID)
	}

	switch ev.Kind {
	case core.OrderSubmitted:
		l.order.Status = core.OrderStatusSubmitted
	case core.OrderAccepted:
		if l.order.Status.IsClosed() || l.order.Status == core.OrderStatusWorking {
			return nil
		}
		l.order.Status = core.OrderStatusAccepted
		if l.role == roleEntry {
			l.order.Status = core.OrderStatusWorking
		}
	case core.OrderModified:
		if ev.Price.IsPositive() {
			l.order.Price = ev.Price
		}
	case core.OrderFilled:
		t.onFilled(l, ev)
	case core.OrderCancelled:
		t.onClosed(l, core.OrderStatusCancelled)
	case core.OrderExpired:
		t.onClosed(l, core.OrderStatusExpired)
	case core.OrderRejected:
		t.onClosed(l, core.OrderStatusRejected)
	}
	return nil
}

// ApplyStopPrice records a stop price that was sent to the venue
func (t *Tracker) ApplyStopPrice(orderID string, price decimal.Decimal) error {
	o, ok := t.stops[orderID]
	if !ok {
		return fmt.Errorf("%w: stop %s", apperrors.ErrUnknownOrder, orderID)
	}
	o.Price = price
	return nil
}

func (t *Tracker) onFilled(l *leg, ev core.OrderEvent) {
	if l.order.Status.IsClosed() {
		return
	}
	l.order.Status = core.OrderStatusFilled

	switch l.role {
	case roleEntry:
		delete(t.entries, l.order.ID)
		if t.state != core.StatePendingEntry {
			return
		}
		for _, other := range l.bracket.Legs()[1:] {
			if other.Status.IsClosed() {
				continue
			}
			other.Status = core.OrderStatusWorking
			if other == l.bracket.StopLoss {
				t.stops[other.ID] = other
			}
		}
		if len(t.stops) == 0 {
			reason := fmt.Sprintf("entry filled at %s without working stop-loss (%s)", ev.Price, l.bracket.StopLoss.Status)
			t.transition(core.StatePositionOpen, reason)
			t.unprotected(reason)
			return
		}
		t.transition(core.StatePositionOpen, fmt.Sprintf("entry filled at %s", ev.Price))
	default:
		// one exit leg filling cancels the other
		t.closeAll(core.OrderStatusCancelled)
		t.transition(core.StateFlat, fmt.Sprintf("%s filled at %s", l.order.Label, ev.Price))
	}
}

func (t *Tracker) onClosed(l *leg, status core.OrderStatus) {
	if l.order.Status.IsClosed() {
		return
	}
	l.order.Status = status

	switch l.role {
	case roleEntry:
		delete(t.entries, l.order.ID)
		if t.state == core.StatePendingEntry {
			// contingent legs die with the entry
			t.closeAll(core.OrderStatusCancelled)
			t.transition(core.StateFlat, fmt.Sprintf("entry %s", status))
		}
	case roleStopLoss:
		delete(t.stops, l.order.ID)
		switch t.state {
		case core.StatePendingEntry:
			t.unprotected(fmt.Sprintf("stop-loss %s before entry filled", status))
		case core.StatePositionOpen:
			t.unprotected(fmt.Sprintf("stop-loss %s while position open", status))
		}
	}
}

func (t *Tracker) unprotected(reason string) {
	if t.onUnprotected != nil {
		t.onUnprotected(t.positionID, reason)
	}
}

func (t *Tracker) closeAll(status core.OrderStatus) {
	for id, l := range t.legs {
		if !l.order.Status.IsClosed() {
			l.order.Status = status
		}
		delete(t.stops, id)
		delete(t.entries, id)
	}
}

func (t *Tracker) clearLegs() {
	t.legs = make(map[string]*leg)
	t.entries = make(map[string]*core.Order)
	t.stops = make(map[string]*core.Order)
}

func (t *Tracker) transition(to core.PositionState, reason string) {
	from := t.state
	if from == to {
		return
	}
	t.state = to
	if t.onTransition != nil {
		t.onTransition(from, to, reason)
	}
	if to == core.StateFlat {
		t.positionID = ""
	}
}

var _ core.IPositionTracker = (*Tracker)(nil)
