package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr error
	}{
		{raw: "150.00", want: "150.00"},
		{raw: "-60", want: "-60.00"},
		{raw: " 0.1 ", want: "0.10"},
		{raw: "10.005", wantErr: ErrPrecision},
		{raw: "10000000000000000.00", wantErr: ErrOverflow},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := Parse(tc.raw)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, Format(got))
		})
	}

	_, err := Parse("abc")
	require.Error(t, err)
}

func TestAddIsExact(t *testing.T) {
	total := decimal.Zero
	for i := 0; i < 10; i++ {
		var err error
		total, err = Add(total, decimal.RequireFromString("0.10"))
		require.NoError(t, err)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("1.00")), "got %s", total)
}

func TestAddOverflowFails(t *testing.T) {
	_, err := Add(MaxMagnitude, decimal.RequireFromString("0.01"))
	require.True(t, errors.Is(err, ErrOverflow))

	_, err = Sub(MaxMagnitude.Neg(), decimal.RequireFromString("0.01"))
	require.True(t, errors.Is(err, ErrOverflow))
}

func TestSum(t *testing.T) {
	got, err := Sum(
		decimal.RequireFromString("-25.00"),
		decimal.RequireFromString("-35.00"),
	)
	require.NoError(t, err)
	assert.Equal(t, "-60.00", Format(got))

	empty, err := Sum()
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestSumChecksOnlyFinalTotal(t *testing.T) {
	step := decimal.RequireFromString("5000.00")

	got, err := Sum(MaxMagnitude, step, step.Neg())
	require.NoError(t, err)
	assert.True(t, got.Equal(MaxMagnitude), "got %s", got)

	_, err = Sum(MaxMagnitude, step)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Sum(decimal.RequireFromString("1.001"))
	require.ErrorIs(t, err, ErrPrecision)
}

func TestRestrictMagnitude(t *testing.T) {
	t.Cleanup(func() { limit.Store(nil) })

	RestrictMagnitude(SQLiteMaxMagnitude)
	assert.True(t, Limit().Equal(SQLiteMaxMagnitude))

	// a wider bound never relaxes the limit
	RestrictMagnitude(MaxMagnitude)
	assert.True(t, Limit().Equal(SQLiteMaxMagnitude))

	_, err := Check(SQLiteMaxMagnitude)
	require.NoError(t, err)
	_, err = Parse("1234567890123456.78")
	require.ErrorIs(t, err, ErrOverflow)
	_, err = Add(SQLiteMaxMagnitude, decimal.RequireFromString("0.01"))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestValidateReturnsValidationCode(t *testing.T) {
	err := Validate("amount", decimal.RequireFromString("1.234"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.NoError(t, Validate("amount", decimal.RequireFromString("1.23")))
}
