package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueKinds(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{`"INR"`, KindString},
		{`42.5`, KindNumber},
		{`true`, KindBool},
		{`null`, KindNull},
		{`[1,"a"]`, KindList},
		{`{"theme":"dark"}`, KindObject},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			var v Value
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &v))
			assert.Equal(t, tc.kind, v.Kind())

			out, err := json.Marshal(v)
			require.NoError(t, err)
			assert.JSONEq(t, tc.raw, string(out))
		})
	}
}

func TestValueZeroIsNull(t *testing.T) {
	var v Value
	assert.Equal(t, KindNull, v.Kind())
	assert.Nil(t, v.Interface())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestNewValueRejectsUnsupportedTypes(t *testing.T) {
	_, err := NewValue(make(chan int))
	assert.Error(t, err)
}

func TestValueEqual(t *testing.T) {
	a, err := NewValue(map[string]any{"limit": 500.0})
	require.NoError(t, err)
	b, err := NewValue(map[string]any{"limit": 500.0})
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(StringValue("500")))
}

func TestRecentTurns(t *testing.T) {
	history := make([]Turn, 8)
	for i := range history {
		history[i] = Turn{User: string(rune('a' + i))}
	}

	recent := RecentTurns(history, 6)
	require.Len(t, recent, 6)
	assert.Equal(t, "c", recent[0].User)
	assert.Equal(t, "h", recent[5].User)

	assert.Len(t, RecentTurns(history[:3], 6), 3)
	assert.Empty(t, RecentTurns(history, 0))
}

func TestValueTextAndTruthy(t *testing.T) {
	assert.Equal(t, "Asha", StringValue("Asha").Text())
	assert.Equal(t, "42", NumberValue(42).Text())
	assert.Equal(t, "true", BoolValue(true).Text())

	list, err := NewValue([]any{"Food", "Travel"})
	require.NoError(t, err)
	assert.Equal(t, `["Food","Travel"]`, strings.ReplaceAll(list.Text(), " ", ""))

	assert.True(t, StringValue("INR").Truthy())
	assert.True(t, list.Truthy())
	assert.False(t, StringValue("").Truthy())
	assert.False(t, NumberValue(0).Truthy())
	assert.False(t, BoolValue(false).Truthy())
	assert.False(t, Value{}.Truthy())
}
