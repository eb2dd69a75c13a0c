package money

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
)

func TestParse(t *testing.T) {
	d, err := Parse(" 100.25 ")
	require.NoError(t, err)
	assert.Equal(t, "100.25", d.StringFixed(Scale))

	_, err = Parse("1.005")
	assert.True(t, errors.Is(err, common.ErrInvalidAmount))

	_, err = Parse("abc")
	assert.True(t, errors.Is(err, common.ErrInvalidAmount))
}

func TestPositive(t *testing.T) {
	assert.NoError(t, Positive(MustParse("0.01")))
	assert.ErrorIs(t, Positive(Zero), common.ErrInvalidAmount)
	assert.ErrorIs(t, Positive(MustParse("-5")), common.ErrInvalidAmount)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "6.00", Percent(MustParse("60"), MustParse("10")).StringFixed(Scale))
	assert.Equal(t, "0.33", Percent(MustParse("3.33"), MustParse("10")).StringFixed(Scale))
}

func TestShareNeverOvershoots(t *testing.T) {
	total := MustParse("100")
	share := Share(total, 3)
	assert.Equal(t, "33.33", share.StringFixed(Scale))
	assert.True(t, share.Mul(MustParse("2")).LessThan(total))
	assert.Equal(t, total, Share(total, 1))
}
