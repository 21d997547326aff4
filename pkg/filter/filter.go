// Package filter implements equality/inequality row predicates evaluated
// over full row scans, adapted from the teacher's pkg/query/scan.go
// (ScanOperator/ScanCondition) but operating on value.Value instead of a
// B+Tree Comparable key, and dropping the seek/range optimizations: this
// engine has no ordered index to seek into, only full scans.
package filter

import (
	"fmt"

	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/value"
)

// Op is a comparison operator usable in a FilterCondition.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

// Condition is one column predicate.
type Condition struct {
	Column string
	Op     Op
	Value  value.Value
}

func Eq(column string, v value.Value) Condition  { return Condition{Column: column, Op: OpEq, Value: v} }
func Neq(column string, v value.Value) Condition { return Condition{Column: column, Op: OpNeq, Value: v} }
func Lt(column string, v value.Value) Condition  { return Condition{Column: column, Op: OpLt, Value: v} }
func Lte(column string, v value.Value) Condition { return Condition{Column: column, Op: OpLte, Value: v} }
func Gt(column string, v value.Value) Condition  { return Condition{Column: column, Op: OpGt, Value: v} }
func Gte(column string, v value.Value) Condition { return Condition{Column: column, Op: OpGte, Value: v} }

// Validate checks a condition against a table's schema: the column must
// exist; ordering operators require both the column and the value to be
// numeric; equality operators accept Null or a type-matching value, with
// numeric columns accepting either numeric value kind.
func Validate(schema schema.TableSchema, c Condition) error {
	col, ok := schema.ColumnByName(c.Column)
	if !ok {
		return fmt.Errorf("filter: unknown column %q", c.Column)
	}

	switch c.Op {
	case OpEq, OpNeq:
		if c.Value.IsNull() {
			return nil
		}
		if col.DataType == value.TypeInt || col.DataType == value.TypeFloat {
			if !c.Value.IsNumeric() {
				return fmt.Errorf("filter: column %q is numeric, got %s", c.Column, c.Value.Kind)
			}
			return nil
		}
		if !c.Value.Matches(col.DataType) {
			return fmt.Errorf("filter: column %q expects %s, got %s", c.Column, col.DataType, c.Value.Kind)
		}
		return nil
	case OpLt, OpLte, OpGt, OpGte:
		if col.DataType != value.TypeInt && col.DataType != value.TypeFloat {
			return fmt.Errorf("filter: ordering operator on non-numeric column %q", c.Column)
		}
		if !c.Value.IsNumeric() {
			return fmt.Errorf("filter: ordering operator requires a numeric value for column %q", c.Column)
		}
		return nil
	default:
		return fmt.Errorf("filter: unknown operator %d", c.Op)
	}
}

// Matches evaluates c against fields. A missing field is treated as Null.
// Ordering operators reject the row when either side is non-numeric.
func Matches(fields map[string]value.Value, c Condition) bool {
	v, ok := fields[c.Column]
	if !ok {
		v = value.Null()
	}

	switch c.Op {
	case OpEq:
		return v.Equal(c.Value)
	case OpNeq:
		return !v.Equal(c.Value)
	case OpLt, OpLte, OpGt, OpGte:
		a, ok1 := v.AsFloat64()
		b, ok2 := c.Value.AsFloat64()
		if !ok1 || !ok2 {
			return false
		}
		switch c.Op {
		case OpLt:
			return a < b
		case OpLte:
			return a <= b
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		}
	}
	return false
}

// MatchesAll reports whether fields satisfies every condition.
func MatchesAll(fields map[string]value.Value, conditions []Condition) bool {
	for _, c := range conditions {
		if !Matches(fields, c) {
			return false
		}
	}
	return true
}
