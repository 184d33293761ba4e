package mdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBillTable = BillTable{1000, 2000, 5000, 10000, 20000, 50000}

func TestParseBill(t *testing.T) {
	tests := []struct {
		line      string
		wantDenom int
		wantErr   bool
	}{
		{"p,90", 1000, false},
		{"p,92", 5000, false},
		{"p,95", 50000, false}, // route 9, type index 5 is in range -> 50000
		{"p,80", 0, true}, // route 8, not escrow
		{"", 0, true},
		{"p,ACK", 0, true},
		{"p,9G", 0, true}, // not hex
		{"d,STATUS,RESET", 0, true},
	}

	for _, tc := range tests {
		got, err := ParseBill(tc.line, testBillTable)
		if tc.line == "p,95" {
			require.NoError(t, err)
			assert.Equal(t, 50000, got.Denomination)
			continue
		}
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrNotApplicable, "line %q", tc.line)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.wantDenom, got.Denomination)
	}
}

func TestParseBillOutOfRangeType(t *testing.T) {
	_, err := ParseBill("p,9F", testBillTable)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestParseCoinStreamOrderAndFiltering(t *testing.T) {
	// 5112 -> high=0x51 route=0x5(ToTube) type=1
	// 9112 -> high=0x91 route=0x9(Dispensed) type=1
	// 4203 -> high=0x42 route=0x4(ToCashbox) type=2
	frames := ParseCoinStream("p,--5112**9112..4203")

	require.Len(t, frames, 3)
	assert.Equal(t, CoinFrame{TypeIndex: 1, Route: RouteToTube}, frames[0])
	assert.Equal(t, CoinFrame{TypeIndex: 1, Route: RouteDispensed}, frames[1])
	assert.Equal(t, CoinFrame{TypeIndex: 2, Route: RouteToCashbox}, frames[2])
}

func TestParseCoinStreamEmpty(t *testing.T) {
	assert.Nil(t, ParseCoinStream(""))
	assert.Nil(t, ParseCoinStream("d,STATUS,RESET"))
}

func TestParseCoinStreamUnknownRouteDropped(t *testing.T) {
	// high nibble 0x1 is unknown
	frames := ParseCoinStream("p,1112")
	assert.Empty(t, frames)
}

func TestParseTubeStatus(t *testing.T) {
	table := NewCoinTypeTable()
	table.Set(0, 10)
	table.Set(1, 20)
	table.Set(2, 50)

	// skip 2 bitmap bytes (AA, BB), then counts: 03, 00, FF
	counts, err := ParseTubeStatus("p,AABB0300FF", table)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{10: 3}, counts)
}

func TestParseTubeStatusTooShort(t *testing.T) {
	table := NewCoinTypeTable()
	_, err := ParseTubeStatus("p,AA", table)
	assert.Error(t, err)
}

func TestParseCashlessPoll(t *testing.T) {
	assert.Equal(t, CashlessApproved, ParseCashlessPoll("p,01"))
	assert.Equal(t, CashlessDenied, ParseCashlessPoll("p,02"))
	assert.Equal(t, CashlessPending, ParseCashlessPoll("p,ACK"))
	assert.Equal(t, CashlessPending, ParseCashlessPoll(""))
}

func TestParseCoinTypeConfig(t *testing.T) {
	// bytes: 00 00 00 01 02 then 16 credit bytes: 00 01 02 05 0a 14 FF ...
	line := "p,0000000102000102050A14FFFFFFFFFFFFFFFFFFFF"
	cfg, err := ParseCoinTypeConfig(line)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ScalingFactor)
	assert.Equal(t, 2, cfg.DecimalPlaces)
	assert.NotContains(t, cfg.Denominations, 0) // credit 00 absent
}

func TestParseSetup(t *testing.T) {
	// need at least 7 bytes, decimal places at index 6
	line := "p,00000000000002"
	setup, err := ParseSetup(line)
	require.NoError(t, err)
	assert.Equal(t, 2, setup.DecimalPlaces)
}
