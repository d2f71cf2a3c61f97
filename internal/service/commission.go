package service

import (
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
)

// Split is a repair amount divided between technician and shop owner.
type Split struct {
	TechnicianShare decimal.Decimal `json:"technician_share"`
	OwnerShare      decimal.Decimal `json:"owner_share"`
}

func zeroSplit() Split {
	return Split{TechnicianShare: decimal.Zero, OwnerShare: decimal.Zero}
}

// IsZero is true for the "not yet computable" split.
func (s Split) IsZero() bool {
	return s.TechnicianShare.IsZero() && s.OwnerShare.IsZero()
}

// CalculateCommission never fails: a missing or out of range input yields the
// zero split, which callers display as pending. The owner share is the
// complement of the rounded technician share, so both always add up to the
// rounded price.
func CalculateCommission(price, percentage decimal.NullDecimal) Split {
	if !price.Valid || !percentage.Valid {
		return zeroSplit()
	}
	if price.Decimal.IsNegative() || percentage.Decimal.LessThan(percentRange.min) || percentage.Decimal.GreaterThan(percentRange.max) {
		return zeroSplit()
	}
	tech := money.Round2(money.Percent(price.Decimal, percentage.Decimal))
	return Split{
		TechnicianShare: tech,
		OwnerShare:      money.Round2(price.Decimal).Sub(tech),
	}
}

// CalculateCommissionValues parses untyped inputs first.
func CalculateCommissionValues(price, percentage any) Split {
	return CalculateCommission(money.ParseNull(price), money.ParseNull(percentage))
}

// TicketCommission splits a ticket's billed price with its own rate.
func TicketCommission(t models.Ticket) Split {
	return CalculateCommission(t.Price, t.CommissionPercentage)
}
