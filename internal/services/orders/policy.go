package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/config"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
)

// HoldTiming says when an order's buyer funds are reserved.
type HoldTiming int

const (
	HoldAtCreate  HoldTiming = iota // machine, material, rental, auction (at bid)
	HoldAtConfirm                   // job: the buyer pays the accepted offer
)

// Policy is the per-domain variation of the shared order lifecycle.
type Policy struct {
	Domain         models.OrderDomain
	DepositPercent decimal.Decimal
	// CancelWindowDays of 0 means cancellation is never time-limited.
	CancelWindowDays int
	Hold             HoldTiming
	// PeriodicCapture lets each paid period capture its share of the hold.
	PeriodicCapture bool
}

type Policies map[models.OrderDomain]Policy

// DefaultPolicies mirrors the configuration defaults.
func DefaultPolicies() Policies {
	return Policies{
		models.DomainAuction:  {Domain: models.DomainAuction, DepositPercent: money.MustParse("10"), Hold: HoldAtCreate},
		models.DomainMachine:  {Domain: models.DomainMachine, DepositPercent: money.MustParse("20"), CancelWindowDays: 3, Hold: HoldAtCreate},
		models.DomainMaterial: {Domain: models.DomainMaterial, DepositPercent: money.MustParse("20"), CancelWindowDays: 3, Hold: HoldAtCreate},
		models.DomainRental:   {Domain: models.DomainRental, DepositPercent: money.MustParse("100"), Hold: HoldAtCreate, PeriodicCapture: true},
		models.DomainJob:      {Domain: models.DomainJob, DepositPercent: decimal.Zero, Hold: HoldAtConfirm},
	}
}

// PoliciesFromConfig builds the policies from env configuration.
func PoliciesFromConfig(cfg *config.Config) (Policies, error) {
	p := DefaultPolicies()
	pct := map[models.OrderDomain]string{
		models.DomainAuction:  cfg.AuctionDepositPercent,
		models.DomainMachine:  cfg.MachineDepositPercent,
		models.DomainMaterial: cfg.MaterialDepositPercent,
		models.DomainRental:   cfg.RentalDepositPercent,
	}
	for domain, raw := range pct {
		d, err := money.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s deposit percent: %w", domain, err)
		}
		if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("%s deposit percent must be within 0..100, got %s", domain, raw)
		}
		pol := p[domain]
		pol.DepositPercent = d
		p[domain] = pol
	}

	windows := map[models.OrderDomain]int{
		models.DomainMachine:  cfg.MachineCancelWindowDays,
		models.DomainMaterial: cfg.MaterialCancelWindowDays,
		models.DomainRental:   cfg.RentalCancelWindowDays,
	}
	for domain, days := range windows {
		pol := p[domain]
		pol.CancelWindowDays = days
		p[domain] = pol
	}
	return p, nil
}
