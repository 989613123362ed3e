package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestOrderChangesIdenticalPayloadIsEmpty(t *testing.T) {
	order := &Order{
		Description:    "pad thai",
		PriceEstimated: mustDecimal(t, "10.00"),
		Notes:          "no peanuts",
	}
	desc := "pad thai"
	// "10.0" and "10.00" are the same money value at two places.
	price := "10.0"
	notes := "no peanuts"
	changes, err := orderChanges(order, &OrderFields{
		Description:    &desc,
		PriceEstimated: &price,
		Notes:          &notes,
	})
	if err != nil {
		t.Fatalf("orderChanges: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %v", changes)
	}
}

func TestOrderChangesCapturesFromAndTo(t *testing.T) {
	order := &Order{
		Description:    "pad thai",
		PriceEstimated: mustDecimal(t, "10.00"),
	}
	desc := "green curry"
	price := "12.5"
	changes, err := orderChanges(order, &OrderFields{
		Description:    &desc,
		PriceEstimated: &price,
	})
	if err != nil {
		t.Fatalf("orderChanges: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %v", changes)
	}
	if c := changes["description"]; c.From != "pad thai" || c.To != "green curry" {
		t.Fatalf("description change wrong: %+v", c)
	}
	if c := changes["price_estimated"]; c.From != "10.00" || c.To != "12.50" {
		t.Fatalf("price change should use fixed 2dp strings: %+v", c)
	}
}

func TestOrderChangesFinalPriceFromNil(t *testing.T) {
	order := &Order{PriceEstimated: mustDecimal(t, "10.00")}
	price := "11.00"
	changes, err := orderChanges(order, &OrderFields{PriceFinal: &price})
	if err != nil {
		t.Fatalf("orderChanges: %v", err)
	}
	c, ok := changes["price_final"]
	if !ok {
		t.Fatal("expected price_final change")
	}
	if c.From != nil {
		t.Fatalf("expected nil From for unset final price, got %v", c.From)
	}
	if c.To != "11.00" {
		t.Fatalf("expected To=11.00, got %v", c.To)
	}
}

func TestOrderColumnUpdatesOnlyChangedFields(t *testing.T) {
	desc := "green curry"
	notes := "extra rice"
	fields := &OrderFields{Description: &desc, Notes: &notes}
	changes := map[string]FieldChange{
		"description": {From: "pad thai", To: "green curry"},
	}
	updates := orderColumnUpdates(fields, changes)
	if len(updates) != 1 {
		t.Fatalf("expected only changed columns, got %v", updates)
	}
	if updates["description"] != "green curry" {
		t.Fatalf("unexpected updates: %v", updates)
	}
}

func TestMoneyEqualRoundsToTwoPlaces(t *testing.T) {
	if !moneyEqual(mustDecimal(t, "10"), mustDecimal(t, "10.004")) {
		t.Fatal("sub-cent noise must compare equal")
	}
	if moneyEqual(mustDecimal(t, "10"), mustDecimal(t, "10.01")) {
		t.Fatal("a cent of difference must not compare equal")
	}
}
