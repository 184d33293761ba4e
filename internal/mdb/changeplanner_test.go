package mdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangePlannerExactCascade(t *testing.T) {
	tubes := map[int]int{10: 10, 20: 10, 50: 10, 100: 10, 200: 10, 500: 10}
	plan, ok := NewChangePlanner().Plan(370, tubes)
	require.True(t, ok)

	total := 0
	for _, line := range plan {
		total += line.Denomination * line.Count
		assert.LessOrEqual(t, line.Count, tubes[line.Denomination])
	}
	assert.Equal(t, 370, total)
}

func TestChangePlannerInsufficientCoinage(t *testing.T) {
	tubes := map[int]int{50: 1, 20: 0, 10: 0}
	plan, ok := NewChangePlanner().Plan(70, tubes)
	assert.False(t, ok)
	assert.Nil(t, plan)
}

func TestChangePlannerUsesNoMoreThanAvailable(t *testing.T) {
	tubes := map[int]int{20: 1}
	plan, ok := NewChangePlanner().Plan(20, tubes)
	require.True(t, ok)
	require.Len(t, plan, 1)
	assert.Equal(t, 1, plan[0].Count)
}

func TestChangePlannerZeroAmountNeedsNoCoins(t *testing.T) {
	tubes := map[int]int{10: 5}
	plan, ok := NewChangePlanner().Plan(0, tubes)
	assert.True(t, ok)
	assert.Empty(t, plan)
}
