package redisstore

import (
	"testing"

	"rentalBack/internal/rental/models"
)

func TestParseCounters(t *testing.T) {
	doc, err := parseCounters("u", map[string]string{
		models.CategoryReservations: "2",
		models.CategoryPayments:     "1",
		updatedAtField:              "1700000000123",
	})
	if err != nil {
		t.Fatalf("parseCounters: %v", err)
	}
	if doc.Total != 3 || doc.Count(models.CategoryReservations) != 2 {
		t.Fatalf("unexpected counts %+v", doc)
	}
	if doc.UpdatedAt.Millis() != 1700000000123 {
		t.Fatalf("unexpected updatedAt %s", doc.UpdatedAt)
	}
	if _, ok := doc.Counts[updatedAtField]; ok {
		t.Fatal("timestamp field must not be counted")
	}
}

func TestParseCountersRejectsGarbage(t *testing.T) {
	if _, err := parseCounters("u", map[string]string{models.CategoryPayments: "many"}); err == nil {
		t.Fatal("expected error for non-numeric count")
	}
}

func TestEmptyHashIsEmptyDocument(t *testing.T) {
	doc, err := parseCounters("u", map[string]string{})
	if err != nil {
		t.Fatalf("parseCounters: %v", err)
	}
	if doc.Total != 0 || !doc.UpdatedAt.IsZero() || doc.UID != "u" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestKeyLayout(t *testing.T) {
	if countersKey("abc") != "counters:{abc}" || CountersTopic("abc") != "counters:abc" {
		t.Fatal("unexpected key layout")
	}
}
