package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLongLegAndShortLegFindCorrectSide(t *testing.T) {
	g := &PositionGroup{
		Legs: []PositionLeg{
			{Venue: "A", Side: PositionSideLong, Quantity: 1},
			{Venue: "B", Side: PositionSideShort, Quantity: 2},
		},
	}

	long := g.LongLeg()
	require := assert.New(t)
	require.NotNil(long)
	require.Equal("A", long.Venue)

	short := g.ShortLeg()
	require.NotNil(short)
	require.Equal("B", short.Venue)
}

func TestLongLegAndShortLegReturnNilWhenAbsent(t *testing.T) {
	g := &PositionGroup{Legs: []PositionLeg{{Venue: "A", Side: PositionSideLong}}}

	assert.Nil(t, g.ShortLeg())
	assert.NotNil(t, g.LongLeg())
}
