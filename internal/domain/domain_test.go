package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidMarketPrice(t *testing.T) {
	assert.True(t, IsValidMarketPrice(nil))
	assert.True(t, IsValidMarketPrice(Float(0)))
	assert.True(t, IsValidMarketPrice(Float(1)))
	assert.True(t, IsValidMarketPrice(Float(0.37)))
	assert.False(t, IsValidMarketPrice(Float(-0.01)))
	assert.False(t, IsValidMarketPrice(Float(1.01)))
}

func TestIsValidShareCount(t *testing.T) {
	assert.True(t, IsValidShareCount(0))
	assert.True(t, IsValidShareCount(12.75))
	assert.False(t, IsValidShareCount(-1))
}

func TestSnapshotValidate(t *testing.T) {
	good := Position{MarketID: "m1", MarketTitle: "Ünïcode ✓", YesShares: 1, ResolvedOutcome: OutcomeUnresolved}

	require.NoError(t, Snapshot{Positions: []Position{good}}.Validate())

	dup := Snapshot{Positions: []Position{good, good}}
	assert.ErrorIs(t, dup.Validate(), ErrDuplicateMarket)

	cases := map[string]Position{
		"empty id":      {MarketTitle: "t", ResolvedOutcome: OutcomeYes},
		"empty title":   {MarketID: "m", ResolvedOutcome: OutcomeYes},
		"negative yes":  {MarketID: "m", MarketTitle: "t", YesShares: -1, ResolvedOutcome: OutcomeYes},
		"price above 1": {MarketID: "m", MarketTitle: "t", NoAvgPrice: Float(1.5), ResolvedOutcome: OutcomeYes},
		"bad outcome":   {MarketID: "m", MarketTitle: "t", ResolvedOutcome: "maybe"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, p.Validate(), ErrInvalidPosition)
		})
	}
}

func TestPositionJSONDefaultsOutcome(t *testing.T) {
	var p Position
	require.NoError(t, json.Unmarshal([]byte(`{"marketId":"m","marketTitle":"t","yesShares":3,"noShares":0,"yesAvgPrice":0.5,"noAvgPrice":null}`), &p))

	assert.Equal(t, OutcomeUnresolved, p.ResolvedOutcome)
	assert.Nil(t, p.NoAvgPrice)
	require.NotNil(t, p.YesAvgPrice)
	assert.Equal(t, 0.5, *p.YesAvgPrice)
}

func TestNormalizeWallet(t *testing.T) {
	w, err := NormalizeWallet(" 0xAbCdEf0123456789aBcDeF0123456789AbCdEf01 ")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", w)

	for _, bad := range []string{
		"",
		"abcdef0123456789abcdef0123456789abcdef01",
		"0x123",
		"0xZZcdef0123456789abcdef0123456789abcdef01",
		"0xabcdef0123456789abcdef0123456789abcdef0123",
	} {
		_, err := NormalizeWallet(bad)
		assert.ErrorIs(t, err, ErrInvalidWallet, bad)
	}
}

func TestChainErrorUnwraps(t *testing.T) {
	err := error(&ChainError{Op: "append", Wallet: "0xabc", Err: ErrNoPredecessor})

	assert.ErrorIs(t, err, ErrNoPredecessor)
	assert.True(t, IsPrecondition(err))
	assert.False(t, IsPrecondition(errors.New("boom")))

	var ce *ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "append", ce.Op)
	assert.Contains(t, err.Error(), "wallet=0xabc")
}
