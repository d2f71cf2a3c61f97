package service

import (
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
)

type Dashboard struct {
	TicketsByStatus       map[models.TicketStatus]int `json:"tickets_by_status"`
	TicketsByDeviceStatus map[models.DeviceStatus]int `json:"tickets_by_device_status"`
	ValidatedRevenue      decimal.Decimal             `json:"validated_revenue"`
	PendingPayments       int                         `json:"pending_payments"`
	Unassigned            int                         `json:"unassigned"`
	AwaitingRate          int                         `json:"awaiting_rate"`
}

func BuildDashboard(snap models.Snapshot) Dashboard {
	d := Dashboard{
		TicketsByStatus:       map[models.TicketStatus]int{},
		TicketsByDeviceStatus: map[models.DeviceStatus]int{},
	}
	for _, s := range models.TicketStatuses {
		d.TicketsByStatus[s] = 0
	}
	for _, s := range models.DeviceStatuses {
		d.TicketsByDeviceStatus[s] = 0
	}
	for _, t := range snap.Tickets {
		d.TicketsByStatus[t.Status]++
		d.TicketsByDeviceStatus[t.DeviceStatus]++
		if t.AssignedAgentID == "" {
			d.Unassigned++
			continue
		}
		if !t.CommissionPercentage.Valid {
			d.AwaitingRate++
		}
	}
	for _, p := range snap.Payments {
		if p.Status == models.PaymentPending {
			d.PendingPayments++
		}
	}
	d.ValidatedRevenue = money.Round2(NewPaymentAggregator(snap.Payments).SumValidated(PaymentScope{}))
	return d
}
