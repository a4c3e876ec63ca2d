package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "integer", input: "100", want: "100"},
		{name: "decimal", input: "0.001", want: "0.001"},
		{name: "trailing zeros trimmed", input: "12.500", want: "12.5"},
		{name: "negative", input: "-3.2", want: "-3.2"},
		{name: "empty", input: "", wantErr: true},
		{name: "scientific notation rejected", input: "1e6", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAmount(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Plain())
		})
	}
}

func TestAmountArithmetic(t *testing.T) {
	amount := MustAmount("100")
	fee := amount.Mul(MustAmount("0.001"))
	assert.Equal(t, "0.1", fee.Plain())

	total := amount.Add(fee)
	assert.Equal(t, "100.1", total.Plain())

	assert.Equal(t, 1, total.Cmp(amount))
	assert.Equal(t, -1, fee.Cmp(amount))
	assert.True(t, fee.IsPositive())
	assert.True(t, Amount{}.IsZero())
}

func TestAmountJSONRoundtrip(t *testing.T) {
	a := MustAmount("0.000000000000000001")
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"0.000000000000000001"`, string(data))

	var back Amount
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0, a.Cmp(back))
}
