package tipping

import "math/big"

const percentDenominator = 100

// Shares is the deterministic division of a gross tip amount.
type Shares struct {
	Platform *big.Int
	Label    *big.Int
	Owner    *big.Int
	HasLabel bool
}

// Split divides amount into platform, label and owner shares. The platform fee
// is taken from the gross amount, the label share from the remainder, and the
// owner receives what is left, so the shares always sum to amount exactly.
// Division truncates toward zero.
func Split(amount *big.Int, platformPct uint32, label *LabelFee) Shares {
	gross := cloneAmount(amount)
	platform := percentOf(gross, platformPct)
	remainder := new(big.Int).Sub(gross, platform)

	shares := Shares{Platform: platform, Label: big.NewInt(0), Owner: remainder}
	if label != nil {
		labelShare := percentOf(remainder, label.Percentage)
		shares.Label = labelShare
		shares.Owner = new(big.Int).Sub(remainder, labelShare)
		shares.HasLabel = true
	}
	return shares
}

// Total returns the sum of every share.
func (s Shares) Total() *big.Int {
	total := new(big.Int).Add(cloneAmount(s.Platform), cloneAmount(s.Owner))
	if s.HasLabel {
		total.Add(total, cloneAmount(s.Label))
	}
	return total
}

func percentOf(amount *big.Int, pct uint32) *big.Int {
	if amount.Sign() <= 0 || pct == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(pct)))
	return out.Quo(out, big.NewInt(percentDenominator))
}
