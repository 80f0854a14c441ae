package manager

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/breez/data-store/codec"
	"github.com/breez/data-store/transfer"
	"github.com/goccy/go-json"
)

var ErrInvalidCondition = errors.New("invalid condition")

const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpExists   = "exists"
	OpContains = "contains"
)

// Condition compares one document field to a value. Values compare as
// numbers when both sides read as numbers, so tabular string fields compare
// numerically, and as strings otherwise.
type Condition struct {
	Field string
	Op    string
	Value interface{}
}

// Conditions hold when every condition holds. No conditions select every
// document.
type Conditions []Condition

func (cs Conditions) Predicate() (transfer.Predicate, error) {
	for _, c := range cs {
		if err := c.validate(); err != nil {
			return nil, err
		}
	}
	return func(d codec.Document) bool {
		for _, c := range cs {
			if !c.match(d) {
				return false
			}
		}
		return true
	}, nil
}

func (c Condition) validate() error {
	if c.Field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidCondition)
	}
	switch strings.ToLower(c.Op) {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpExists, OpContains:
		return nil
	}
	return fmt.Errorf("%w: unknown operator %q on %v", ErrInvalidCondition, c.Op, c.Field)
}

func (c Condition) match(d codec.Document) bool {
	v, ok := d[c.Field]
	op := strings.ToLower(c.Op)
	switch op {
	case OpExists:
		want := true
		if b, isBool := c.Value.(bool); isBool {
			want = b
		}
		return ok == want
	case OpNe:
		return !ok || compare(v, c.Value) != 0
	}
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return compare(v, c.Value) == 0
	case OpGt:
		return compare(v, c.Value) > 0
	case OpGte:
		return compare(v, c.Value) >= 0
	case OpLt:
		return compare(v, c.Value) < 0
	case OpLte:
		return compare(v, c.Value) <= 0
	case OpContains:
		return contains(v, c.Value)
	}
	return false
}

func compare(a, b interface{}) int {
	if i, ok := integer(a); ok {
		if j, ok := integer(b); ok {
			switch {
			case i < j:
				return -1
			case i > j:
				return 1
			}
			return 0
		}
	}
	x, aNum := number(a)
	y, bNum := number(b)
	if aNum && bNum {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(text(a), text(b))
}

func contains(v, want interface{}) bool {
	if list, ok := v.([]interface{}); ok {
		for _, e := range list {
			if compare(e, want) == 0 {
				return true
			}
		}
		return false
	}
	return strings.Contains(text(v), text(want))
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// integer reads v as an exact int64, so large identifiers compare without
// float rounding.
func integer(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case uint64:
		return int64(t), t <= math.MaxInt64
	case float64:
		return int64(t), t == math.Trunc(t) && math.Abs(t) <= 1<<53
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	return fmt.Sprint(v)
}
