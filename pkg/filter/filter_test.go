package filter

import (
	"testing"

	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/value"
)

func testSchema() schema.TableSchema {
	return schema.TableSchema{Columns: []schema.Column{
		{Name: "age", DataType: value.TypeInt},
		{Name: "name", DataType: value.TypeString},
	}}
}

func TestValidateRejectsUnknownColumn(t *testing.T) {
	if err := Validate(testSchema(), Eq("missing", value.Int(1))); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestValidateRejectsOrderingOnNonNumeric(t *testing.T) {
	if err := Validate(testSchema(), Gt("name", value.String("a"))); err == nil {
		t.Fatal("expected error for ordering operator on string column")
	}
}

func TestValidateAllowsNullOnEquality(t *testing.T) {
	if err := Validate(testSchema(), Eq("name", value.Null())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMatchesMissingFieldTreatedAsNull(t *testing.T) {
	c := Eq("name", value.Null())
	if !Matches(map[string]value.Value{}, c) {
		t.Error("missing field should match Eq(Null)")
	}
}

func TestMatchesOrdering(t *testing.T) {
	fields := map[string]value.Value{"age": value.Int(30)}
	if !Matches(fields, Gte("age", value.Int(30))) {
		t.Error("30 >= 30 should match")
	}
	if Matches(fields, Lt("age", value.Int(30))) {
		t.Error("30 < 30 should not match")
	}
}

func TestMatchesAll(t *testing.T) {
	fields := map[string]value.Value{"age": value.Int(42), "name": value.String("ada")}
	conds := []Condition{Gt("age", value.Int(10)), Eq("name", value.String("ada"))}
	if !MatchesAll(fields, conds) {
		t.Error("expected both conditions to match")
	}
	if MatchesAll(fields, []Condition{Eq("name", value.String("grace"))}) {
		t.Error("expected mismatch")
	}
}
