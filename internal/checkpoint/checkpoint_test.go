package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zigquant/engine/internal/decimal"
	"github.com/zigquant/engine/internal/domain"
)

func mustParse(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.FromString(s)
	require.NoError(t, err)
	return d
}

func sampleSnapshot(t *testing.T) Snapshot {
	return Snapshot{
		TimestampNs: 1_700_000_000_000_000_000,
		Account: domain.Account{
			ID:        "acct-1",
			Balance:   mustParse(t, "100000.00"),
			Available: mustParse(t, "95000.00"),
			UpdatedNs: 1_700_000_000_000_000_000,
		},
		Positions: []domain.Position{
			{
				Symbol:     "AAPL",
				Qty:        mustParse(t, "100"),
				EntryPrice: mustParse(t, "150.25"),
				UpdatedNs:  1_700_000_000_000_000_000,
			},
		},
		Orders: []domain.Order{
			{
				ClientID:   42,
				ExchangeID: "ex-42",
				Symbol:     "AAPL",
				Side:       domain.SideBuy,
				Type:       domain.OrderTypeLimit,
				Qty:        mustParse(t, "10"),
				FilledQty:  mustParse(t, "3"),
				Status:     domain.OrderStatusPartiallyFilled,
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	snap := sampleSnapshot(t)
	data, err := Encode(snap)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, snap.TimestampNs, got.TimestampNs)
	require.Equal(t, snap.Account.ID, got.Account.ID)
	require.True(t, snap.Account.Balance.Cmp(got.Account.Balance) == 0)
	require.Len(t, got.Positions, 1)
	require.Equal(t, "AAPL", got.Positions[0].Symbol)
	require.Len(t, got.Orders, 1)
	require.Equal(t, uint64(42), got.Orders[0].ClientID)
	require.Equal(t, domain.OrderStatusPartiallyFilled, got.Orders[0].Status)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data, err := Encode(sampleSnapshot(t))
	require.NoError(t, err)
	data[0] = 'X'
	_, err = Decode(data)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	data, err := Encode(sampleSnapshot(t))
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	_, err = Decode(data)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	data, err := Encode(sampleSnapshot(t))
	require.NoError(t, err)
	_, err = Decode(data[:len(data)/2])
	require.Error(t, err)
}

func TestEncodeEmptySnapshot(t *testing.T) {
	snap := Snapshot{TimestampNs: 1}
	data, err := Encode(snap)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Empty(t, got.Positions)
	require.Empty(t, got.Orders)
}
