package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHungarianAssign_Optimal(t *testing.T) {
	// Greedy would pick (0,0) cost 1 and push row 1 to cost 10 for a total
	// of 11. The optimal assignment is (0,1) and (1,0) for a total of 4.
	cost := [][]float64{
		{1, 2},
		{2, 10},
	}

	got := hungarianAssign(cost)

	assert.Equal(t, []int{1, 0}, got)
}

func TestHungarianAssign_Identity(t *testing.T) {
	cost := [][]float64{
		{0, 5, 5},
		{5, 0, 5},
		{5, 5, 0},
	}

	got := hungarianAssign(cost)

	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestHungarianAssign_MoreRowsThanColumns(t *testing.T) {
	cost := [][]float64{
		{1},
		{2},
		{3},
	}

	got := hungarianAssign(cost)

	assert.Equal(t, 0, got[0])
	assert.Equal(t, -1, got[1])
	assert.Equal(t, -1, got[2])
}

func TestHungarianAssign_MoreColumnsThanRows(t *testing.T) {
	cost := [][]float64{
		{5, 1, 9},
	}

	got := hungarianAssign(cost)

	assert.Equal(t, []int{1}, got)
}

func TestHungarianAssign_ForbiddenPairsRejected(t *testing.T) {
	cost := [][]float64{
		{forbiddenCost, 1},
		{forbiddenCost, forbiddenCost},
	}

	got := hungarianAssign(cost)

	assert.Equal(t, 1, got[0])
	assert.Equal(t, -1, got[1])
}

func TestHungarianAssign_AllForbidden(t *testing.T) {
	cost := [][]float64{
		{forbiddenCost, forbiddenCost},
		{forbiddenCost, forbiddenCost},
	}

	got := hungarianAssign(cost)

	assert.Equal(t, []int{-1, -1}, got)
}

func TestHungarianAssign_Empty(t *testing.T) {
	assert.Nil(t, hungarianAssign(nil))
	assert.Equal(t, []int{-1}, hungarianAssign([][]float64{{}}))
}
