// Package account keeps the local view of free equity and conversion rates
package account

import (
	"fmt"
	"strings"
	"sync"

	"trend_follower/internal/config"
	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"

	"github.com/shopspring/decimal"
)

// Account answers equity and exchange rate inquiries. Rates convert one unit
// of a quote currency into the account currency.
type Account struct {
	mu       sync.RWMutex
	currency string
	equity   decimal.Decimal
	rates    map[string]decimal.Decimal
	logger   core.ILogger
}

func NewAccount(currency string, equity decimal.Decimal, rates map[string]decimal.Decimal, logger core.ILogger) *Account {
	a := &Account{
		currency: strings.ToUpper(currency),
		equity:   equity,
		rates:    make(map[string]decimal.Decimal, len(rates)),
		logger:   logger.WithField("component", "account"),
	}
	for ccy, rate := range rates {
		a.rates[strings.ToUpper(ccy)] = rate
	}
	return a
}

// FromConfig builds an account from the account section
func FromConfig(cfg config.AccountConfig, logger core.ILogger) *Account {
	rates := make(map[string]decimal.Decimal, len(cfg.ExchangeRates))
	for ccy, rate := range cfg.ExchangeRates {
		rates[ccy] = decimal.NewFromFloat(rate)
	}
	return NewAccount(cfg.Currency, decimal.NewFromFloat(cfg.StartingEquity), rates, logger)
}

func (a *Account) Currency() string { return a.currency }

func (a *Account) FreeEquity() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.equity
}

// ExchangeRate returns 1 for the account currency and the configured rate
// otherwise
func (a *Account) ExchangeRate(quoteCurrency string) (decimal.Decimal, error) {
	ccy := strings.ToUpper(quoteCurrency)
	if ccy == a.currency {
		return decimal.NewFromInt(1), nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	rate, ok := a.rates[ccy]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", apperrors.ErrExchangeRateUnavailable, ccy, a.currency)
	}
	return rate, nil
}

// SetRate updates one conversion rate
func (a *Account) SetRate(quoteCurrency string, rate decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rates[strings.ToUpper(quoteCurrency)] = rate
}

// Apply takes the equity of an event in the account currency; other
// currencies are ignored
func (a *Account) Apply(event core.AccountEvent) {
	if event.Currency != "" && !strings.EqualFold(event.Currency, a.currency) {
		a.logger.Debug("Ignoring account event", "currency", event.Currency)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.equity = event.FreeEquity
}

var _ core.IAccount = (*Account)(nil)
