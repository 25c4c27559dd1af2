package escrow

import "math/big"

const (
	// FeeBasisPoints 平台手续费 5%
	FeeBasisPoints = 500
	// BasisPointsDenominator 万分比分母
	BasisPointsDenominator = 10000
)

// Split 结算拆分结果，Share+Fee 恒等于 Gross
type Split struct {
	Gross *big.Int
	Share *big.Int
	Fee   *big.Int
}

// SplitFee 按 95/5 拆分结算金额，手续费向下取整，余数归创建者或捐赠者
func SplitFee(gross *big.Int) Split {
	g := amountOrZero(gross)
	fee := new(big.Int).Mul(g, big.NewInt(FeeBasisPoints))
	fee.Quo(fee, big.NewInt(BasisPointsDenominator))
	share := new(big.Int).Sub(g, fee)
	return Split{
		Gross: new(big.Int).Set(g),
		Share: share,
		Fee:   fee,
	}
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// copyAmount 深拷贝金额，nil 视为 0
func copyAmount(v *big.Int) *big.Int {
	return new(big.Int).Set(amountOrZero(v))
}
