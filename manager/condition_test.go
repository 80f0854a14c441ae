package manager

import (
	"testing"

	"github.com/breez/data-store/codec"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestConditions(t *testing.T) {
	doc := codec.Document{
		"id":   "7",
		"age":  30.0,
		"name": "Alice",
		"tags": []interface{}{"vip", 3.0},
	}
	tests := []struct {
		condition Condition
		want      bool
	}{
		{Condition{Field: "age", Op: "gt", Value: 25}, true},
		{Condition{Field: "age", Op: "gt", Value: "25"}, true},
		{Condition{Field: "age", Op: "lte", Value: 30.0}, true},
		{Condition{Field: "age", Op: "lt", Value: 30}, false},
		{Condition{Field: "id", Op: "gte", Value: 10}, false},
		{Condition{Field: "id", Op: "eq", Value: 7}, true},
		{Condition{Field: "name", Op: "eq", Value: "Alice"}, true},
		{Condition{Field: "name", Op: "lt", Value: "Bob"}, true},
		{Condition{Field: "name", Op: "ne", Value: "Bob"}, true},
		{Condition{Field: "missing", Op: "ne", Value: "Bob"}, true},
		{Condition{Field: "missing", Op: "eq", Value: nil}, false},
		{Condition{Field: "name", Op: "exists"}, true},
		{Condition{Field: "missing", Op: "exists", Value: false}, true},
		{Condition{Field: "name", Op: "contains", Value: "lic"}, true},
		{Condition{Field: "tags", Op: "contains", Value: "vip"}, true},
		{Condition{Field: "tags", Op: "contains", Value: "3"}, true},
		{Condition{Field: "tags", Op: "contains", Value: "gold"}, false},
		{Condition{Field: "age", Op: "EQ", Value: 30}, true},
	}
	for _, tt := range tests {
		p, err := Conditions{tt.condition}.Predicate()
		require.NoError(t, err)
		require.Equal(t, tt.want, p(doc), "%+v", tt.condition)
	}
}

func TestConditionsCombineWithAnd(t *testing.T) {
	p, err := Conditions{
		{Field: "age", Op: "gt", Value: 25},
		{Field: "name", Op: "ne", Value: "Bob"},
	}.Predicate()
	require.NoError(t, err)
	require.True(t, p(codec.Document{"age": 30.0, "name": "Alice"}))
	require.False(t, p(codec.Document{"age": 30.0, "name": "Bob"}))
	require.False(t, p(codec.Document{"age": 20.0, "name": "Alice"}))

	all, err := Conditions(nil).Predicate()
	require.NoError(t, err)
	require.True(t, all(codec.Document{}))
}

func TestConditionsOnJSONNumbers(t *testing.T) {
	doc := codec.Document{"id": json.Number("9007199254740993"), "age": json.Number("30"), "ratio": json.Number("0.5")}
	tests := []struct {
		condition Condition
		want      bool
	}{
		{Condition{Field: "id", Op: "eq", Value: json.Number("9007199254740993")}, true},
		{Condition{Field: "id", Op: "eq", Value: "9007199254740992"}, false},
		{Condition{Field: "id", Op: "gt", Value: int64(9007199254740992)}, true},
		{Condition{Field: "age", Op: "eq", Value: 30}, true},
		{Condition{Field: "age", Op: "lt", Value: 30.5}, true},
		{Condition{Field: "ratio", Op: "gt", Value: 0.25}, true},
		{Condition{Field: "ratio", Op: "eq", Value: "0.5"}, true},
	}
	for _, tt := range tests {
		p, err := Conditions{tt.condition}.Predicate()
		require.NoError(t, err)
		require.Equal(t, tt.want, p(doc), "%+v", tt.condition)
	}
}

func TestInvalidConditions(t *testing.T) {
	_, err := Conditions{{Field: "age", Op: "between", Value: 1}}.Predicate()
	require.ErrorIs(t, err, ErrInvalidCondition)
	_, err = Conditions{{Op: "eq", Value: 1}}.Predicate()
	require.ErrorIs(t, err, ErrInvalidCondition)
}
