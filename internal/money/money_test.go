package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "8", want: "8.00"},
		{in: "8.5", want: "8.50"},
		{in: " 3.00 ", want: "3.00"},
		{in: "0.28", want: "0.28"},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "1.234", wantErr: true},
		{in: "£5", wantErr: true},
		{in: "1e3", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestSumIsExact(t *testing.T) {
	// 0.1 + 0.2 style drift must not appear.
	total := Sum(MustParse("0.10"), MustParse("0.20"), MustParse("0.28"))
	assert.Equal(t, "0.58", total.String())
	assert.Equal(t, int64(58), total.Cents())
}

func TestJSONRoundTripsAsString(t *testing.T) {
	type wrapper struct {
		Total Amount `json:"total"`
	}
	data, err := json.Marshal(wrapper{Total: MustParse("11.28")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":"11.28"}`, string(data))

	var back wrapper
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Total.Equal(MustParse("11.28")))
}

func TestScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan("3.5"))
	assert.Equal(t, "3.50", a.String())
	require.NoError(t, a.Scan([]byte("0.28")))
	assert.Equal(t, "0.28", a.String())
	require.NoError(t, a.Scan(nil))
	assert.True(t, a.IsZero())
	assert.Error(t, a.Scan(true))
}

func TestFormatGBP(t *testing.T) {
	unit, err := Currency("")
	require.NoError(t, err)
	assert.Equal(t, currency.GBP, unit)
	assert.Equal(t, "£11.28", Format(MustParse("11.28"), unit))
}

func TestCurrencyRejectsUnknownCode(t *testing.T) {
	_, err := Currency("XYZW")
	assert.Error(t, err)
}
