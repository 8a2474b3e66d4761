package fixedpoint

import (
	"encoding/json"
	"math"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
)

// TestParseString makes sure decimal strings round trip through Parse and
// String and that excess precision is rejected.
func TestParseString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in      string
		units   int64
		out     string
		wantErr error
	}{
		{in: "0.1", units: 10_000_000, out: "0.1"},
		{in: "1", units: 100_000_000, out: "1"},
		{in: "1250.5", units: 125_050_000_000, out: "1250.5"},
		{in: "-3.25", units: -325_000_000, out: "-3.25"},
		{in: "0.00000001", units: 1, out: "0.00000001"},
		{in: "0.000000001", wantErr: ErrPrecision},
		{in: "100000000000", wantErr: ErrOverflow},
	}

	for _, tc := range testCases {
		f, err := Parse(tc.in)
		if tc.wantErr != nil {
			require.ErrorIs(t, err, tc.wantErr, tc.in)
			continue
		}

		require.NoError(t, err, tc.in)
		require.Equal(t, tc.units, f.Units(), tc.in)
		require.Equal(t, tc.out, f.String(), tc.in)
	}

	_, err := Parse("not-a-number")
	require.Error(t, err)
}

// TestMulRounding checks the rounding direction of the two product helpers.
func TestMulRounding(t *testing.T) {
	t.Parallel()

	// 0.33333333 × 0.3 = 0.099999999, which is not representable.
	a := MustParse("0.33333333")
	b := MustParse("0.3")

	floor, err := MulFloor(a, b)
	require.NoError(t, err)
	require.Equal(t, MustParse("0.09999999"), floor)

	ceil, err := MulCeil(a, b)
	require.NoError(t, err)
	require.Equal(t, MustParse("0.1"), ceil)

	// Exact products are identical in both directions.
	size := MustParse("300")
	price := MustParse("0.1")
	floor, err = MulFloor(size, price)
	require.NoError(t, err)
	ceil, err = MulCeil(size, price)
	require.NoError(t, err)
	require.Equal(t, MustParse("30"), floor)
	require.Equal(t, floor, ceil)

	_, err = MulFloor(Max, MustParse("2"))
	require.ErrorIs(t, err, ErrOverflow)
}

// TestAddSubOverflow makes sure integer wrap-around is detected.
func TestAddSubOverflow(t *testing.T) {
	t.Parallel()

	_, err := Max.Add(1)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Min.Sub(1)
	require.ErrorIs(t, err, ErrOverflow)

	sum, err := Sum(One, One, MustParse("0.5"))
	require.NoError(t, err)
	require.Equal(t, MustParse("2.5"), sum)

	diff, err := One.Sub(MustParse("0.25"))
	require.NoError(t, err)
	require.Equal(t, MustParse("0.75"), diff)
}

// TestMulDivFloor checks the floor semantics of MulDivFloor for both signs.
func TestMulDivFloor(t *testing.T) {
	t.Parallel()

	res, err := MulDivFloor(One, 1, 3)
	require.NoError(t, err)
	require.Equal(t, FromUnits(33_333_333), res)

	res, err = MulDivFloor(-One, 1, 3)
	require.NoError(t, err)
	require.Equal(t, FromUnits(-33_333_334), res)

	res, err = MulDivFloor(MustParse("10"), 6, 3)
	require.NoError(t, err)
	require.Equal(t, MustParse("20"), res)

	_, err = MulDivFloor(One, 1, 0)
	require.ErrorIs(t, err, ErrDivideByZero)

	// The intermediate product may exceed the int64 range as long as the
	// final quotient fits.
	res, err = MulDivFloor(Max, math.MaxInt64, math.MaxInt64)
	require.NoError(t, err)
	require.Equal(t, Max, res)
}

// TestMulBounds asserts that for random operands floor ≤ ceil ≤ floor + 1.
func TestMulBounds(t *testing.T) {
	t.Parallel()

	scenario := func(a, b int32) bool {
		x, y := FromUnits(int64(a)), FromUnits(int64(b))

		floor, err := MulFloor(x, y)
		if err != nil {
			t.Logf("unable to multiply: %v", err)
			return false
		}
		ceil, err := MulCeil(x, y)
		if err != nil {
			t.Logf("unable to multiply: %v", err)
			return false
		}

		return floor <= ceil && ceil-floor <= 1
	}
	if err := quick.Check(scenario, nil); err != nil {
		t.Fatalf("mul bounds violated: %v", err)
	}
}

// TestJSON makes sure values are encoded as decimal strings.
func TestJSON(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		Price Fixed `json:"price"`
	}

	b, err := json.Marshal(wrapper{Price: MustParse("0.1")})
	require.NoError(t, err)
	require.JSONEq(t, `{"price":"0.1"}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"price":2.5}`), &w))
	require.Equal(t, MustParse("2.5"), w.Price)

	require.NoError(t, w.Price.UnmarshalFlag("7"))
	require.Equal(t, MustParse("7"), w.Price)
}
