package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderAuditEntry is one immutable record of field changes on an order.
// The log is append-only: entries are never rewritten or pruned.
type OrderAuditEntry struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:36;not null;index" json:"tenant_id"`
	OrderId   int       `gorm:"not null;index" json:"order_id"`
	ActorId   string    `gorm:"size:50;not null" json:"actor_id"`
	Changes   string    `gorm:"type:text;not null" json:"changes"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// OrderFields is an incoming update payload. Nil pointers mean "unchanged";
// prices arrive as raw strings and are compared by canonical decimal value.
type OrderFields struct {
	Description    *string    `json:"description"`
	PriceEstimated *string    `json:"price_estimated"`
	PriceFinal     *string    `json:"price_final"`
	Notes          *string    `json:"notes"`
	ChangedAt      *time.Time `json:"changed_at"`
}

// moneyPlaces pins the audit trail's money comparison to two decimal
// places: "10.00" submitted as a string equals a stored 10.0.
const moneyPlaces = 2

func moneyEqual(a, b decimal.Decimal) bool {
	return a.Round(moneyPlaces).Equal(b.Round(moneyPlaces))
}

// orderChanges computes the changed-fields map for an update payload
// against the order's current values. An empty map means nothing to
// persist and nothing to audit.
func orderChanges(order *Order, fields *OrderFields) (map[string]FieldChange, error) {
	changes := map[string]FieldChange{}

	if fields.Description != nil && *fields.Description != order.Description {
		changes["description"] = FieldChange{From: order.Description, To: *fields.Description}
	}
	if fields.Notes != nil && *fields.Notes != order.Notes {
		changes["notes"] = FieldChange{From: order.Notes, To: *fields.Notes}
	}
	if fields.PriceEstimated != nil {
		incoming, err := decimal.NewFromString(*fields.PriceEstimated)
		if err != nil {
			return nil, err
		}
		if !moneyEqual(order.PriceEstimated, incoming) {
			changes["price_estimated"] = FieldChange{
				From: order.PriceEstimated.StringFixed(moneyPlaces),
				To:   incoming.StringFixed(moneyPlaces),
			}
		}
	}
	if fields.PriceFinal != nil {
		incoming, err := decimal.NewFromString(*fields.PriceFinal)
		if err != nil {
			return nil, err
		}
		if order.PriceFinal == nil || !moneyEqual(*order.PriceFinal, incoming) {
			var from any
			if order.PriceFinal != nil {
				from = order.PriceFinal.StringFixed(moneyPlaces)
			}
			changes["price_final"] = FieldChange{
				From: from,
				To:   incoming.StringFixed(moneyPlaces),
			}
		}
	}
	return changes, nil
}

// orderColumnUpdates maps a non-empty change set back to column updates.
func orderColumnUpdates(fields *OrderFields, changes map[string]FieldChange) map[string]interface{} {
	updates := map[string]interface{}{}
	for field := range changes {
		switch field {
		case "description":
			updates["description"] = *fields.Description
		case "notes":
			updates["notes"] = *fields.Notes
		case "price_estimated":
			d, _ := decimal.NewFromString(*fields.PriceEstimated)
			updates["price_estimated"] = d
		case "price_final":
			d, _ := decimal.NewFromString(*fields.PriceFinal)
			updates["price_final"] = d
		}
	}
	return updates
}

// appendOrderAudit writes one audit entry in the caller's transaction so a
// reader never observes a changed order without its entry, or vice versa.
// A caller-supplied timestamp wins over the wall clock.
func appendOrderAudit(tx *gorm.DB, order *Order, actorId string, changes any, at *time.Time) error {
	payload, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	entry := OrderAuditEntry{
		TenantId: order.TenantId,
		OrderId:  order.ID,
		ActorId:  actorId,
		Changes:  string(payload),
	}
	if at != nil {
		entry.CreatedAt = *at
	}
	return tx.Create(&entry).Error
}

func appendOrderCreatedAudit(tx *gorm.DB, order *Order, actorId string, at *time.Time) error {
	return appendOrderAudit(tx, order, actorId, map[string]any{"created": true}, at)
}

// GetOrderAuditTrail returns an order's audit log, oldest first.
func GetOrderAuditTrail(ctx context.Context, orderId int) ([]*OrderAuditEntry, error) {
	db := config.GetDB()
	var entries []*OrderAuditEntry
	err := db.WithContext(ctx).Where("order_id = ?", orderId).
		Order("id ASC").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
