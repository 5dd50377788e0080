package banksync

import (
	"testing"

	"github.com/nmorozov/bankfeed/internal/truelayer"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-03-05T14:22:01Z", "2024-03-05", true},
		{"2024-03-05T14:22:01+01:00", "2024-03-05", true},
		{"2024-03-05T14:22:01", "2024-03-05", true},
		{"2024-03-05", "2024-03-05", true},
		{"05/03/2024", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := parseTimestamp(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("parseTimestamp(%q) err = %v, want ok = %v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got.String() != tc.want {
			t.Errorf("parseTimestamp(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestToTransaction_Classification(t *testing.T) {
	wire := truelayer.Transaction{
		TransactionID:  "t1",
		Timestamp:      "2024-03-05T00:00:00Z",
		Amount:         -12,
		Currency:       "GBP",
		Classification: []string{"Shopping", "Groceries"},
	}
	tx, err := toTransaction("acc-1", wire)
	if err != nil {
		t.Fatalf("toTransaction: %v", err)
	}
	if tx.Classification == nil {
		t.Fatal("classification dropped")
	}
	if tx.Classification.Category != "Shopping" || tx.Classification.Subcategory != "Groceries" {
		t.Errorf("classification = %+v", tx.Classification)
	}
	if tx.NormalisedID != "t1" {
		t.Errorf("dedup id = %q, want raw id fallback t1", tx.NormalisedID)
	}

	wire.Classification = nil
	tx, err = toTransaction("acc-1", wire)
	if err != nil {
		t.Fatalf("toTransaction: %v", err)
	}
	if tx.Classification != nil {
		t.Errorf("empty classification mapped to %+v, want nil", tx.Classification)
	}
}
