package index

import (
	"errors"
	"testing"

	"github.com/Growth-System-ERP/gs-assist/pkg/types"
)

func TestBuildRecordsExpandsGroupsAndAliases(t *testing.T) {
	records, err := BuildRecords(types.EntitySnapshot{
		CanonicalName:      "Customer",
		Aliases:            "client, account",
		Groups:             []string{"CRM", "Sales"},
		RecordType:         "Customer",
		RelatedRecordTypes: []string{"Sales Order", "Sales Invoice"},
	})
	if err != nil {
		t.Fatalf("BuildRecords() failed: %v", err)
	}

	if len(records) != 6 {
		t.Fatalf("got %d records, want 6 (2 groups x 3 aliases)", len(records))
	}

	first := records[0]
	if first.ID != "CRM::Customer::customer" {
		t.Errorf("ID = %q, want %q", first.ID, "CRM::Customer::customer")
	}
	if first.RelatedRecordTypes != "Sales Order,Sales Invoice" {
		t.Errorf("RelatedRecordTypes = %q", first.RelatedRecordTypes)
	}

	seen := make(map[string]struct{})
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			t.Errorf("duplicate record id %q", rec.ID)
		}
		seen[rec.ID] = struct{}{}
	}
}

func TestBuildRecordsDefaultGroup(t *testing.T) {
	records, err := BuildRecords(types.EntitySnapshot{CanonicalName: "Item"})
	if err != nil {
		t.Fatalf("BuildRecords() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Group != types.DefaultGroup {
		t.Errorf("Group = %q, want %q", records[0].Group, types.DefaultGroup)
	}
	if records[0].RelatedRecordTypes != "" {
		t.Errorf("RelatedRecordTypes = %q, want empty", records[0].RelatedRecordTypes)
	}
}

func TestBuildRecordsRejectsEmptyCanonical(t *testing.T) {
	for _, canonical := range []string{"", "   "} {
		_, err := BuildRecords(types.EntitySnapshot{CanonicalName: canonical})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("canonical %q: got %v, want ErrValidation", canonical, err)
		}
	}
}

func TestSearchOptionsNormalize(t *testing.T) {
	opts := SearchOptions{}
	opts.Normalize()
	if opts.TopK != 5 {
		t.Errorf("TopK = %d, want 5", opts.TopK)
	}
	if opts.MaxDistance != 2.0 {
		t.Errorf("MaxDistance = %v, want 2.0", opts.MaxDistance)
	}

	opts = SearchOptions{TopK: 20, MaxDistance: 1.3}
	opts.Normalize()
	if opts.TopK != 20 || opts.MaxDistance != 1.3 {
		t.Errorf("Normalize() overwrote explicit values: %+v", opts)
	}
}
