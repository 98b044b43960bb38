package commitment

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func sampleParams() Params {
	var salt [32]byte
	salt[31] = 0x01
	return Params{
		ChainID:        big.NewInt(84532),
		Router:         common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Asset:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
		From:           common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Value:          big.NewInt(1_010_000),
		ValidAfter:     big.NewInt(1000),
		ValidBefore:    big.NewInt(2000),
		Salt:           salt,
		FinalPayTo:     common.HexToAddress("0x4444444444444444444444444444444444444444"),
		FacilitatorFee: big.NewInt(10_000),
		Hook:           common.HexToAddress("0x5555555555555555555555555555555555555555"),
		HookData:       []byte{},
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	p := sampleParams()
	d1 := Compute(p)
	d2 := Compute(p)
	require.Equal(t, d1, d2)
}

func TestComputeChangesOnFieldFlip(t *testing.T) {
	p := sampleParams()
	base := Compute(p)

	tampered := sampleParams()
	tampered.FacilitatorFee = big.NewInt(1)
	require.NotEqual(t, base, Compute(tampered))
}

func TestMatches(t *testing.T) {
	p := sampleParams()
	digest := Compute(p)
	require.True(t, Matches(p, digest))

	tampered := sampleParams()
	tampered.FacilitatorFee = big.NewInt(1)
	require.False(t, Matches(tampered, digest))
}

func TestComputeSensitiveToHookData(t *testing.T) {
	p1 := sampleParams()
	p1.HookData = []byte{0x01}
	p2 := sampleParams()
	p2.HookData = []byte{0x02}
	require.NotEqual(t, Compute(p1), Compute(p2))
}
