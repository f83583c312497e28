package persister_test

import (
	"encoding/json"
	"testing"

	"github.com/xraph/datastore/mapping"
	"github.com/xraph/datastore/persister"
)

func TestCompareLargeIntegers(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{int64(9007199254740993), int64(9007199254740992), 1},
		{int64(9007199254740992), json.Number("9007199254740993"), -1},
		{uint64(18446744073709551615), int64(-1), 1},
		{json.Number("9007199254740993"), "9007199254740993", 0},
		{int64(3), 3.5, -1},
		{json.Number("2.5"), int64(2), 1},
		{nil, int64(0), -1},
	}
	for _, tt := range tests {
		if got := persister.Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCriteriaMatchesLargeIntegers(t *testing.T) {
	entries := []mapping.Entry{
		{"id": json.Number("9007199254740992")},
		{"id": json.Number("9007199254740993")},
	}
	eq := persister.Criteria{Restrictions: []persister.Criterion{
		{Property: "id", Op: persister.OpEq, Value: int64(9007199254740993)},
	}}
	if got := persister.ApplyCriteria(entries, eq); len(got) != 1 || got[0]["id"] != json.Number("9007199254740993") {
		t.Fatalf("eq matched %v", got)
	}
	in := persister.Criteria{Restrictions: []persister.Criterion{
		{Property: "id", Op: persister.OpIn, Value: []any{int64(9007199254740992)}},
	}}
	if got := persister.ApplyCriteria(entries, in); len(got) != 1 || got[0]["id"] != json.Number("9007199254740992") {
		t.Fatalf("in matched %v", got)
	}
}
