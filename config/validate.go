package config

import (
	"fmt"
	"math/big"
)

var one = big.NewInt(1_000_000_000_000_000_000)

// ValidateConfig checks the parsed file for values the engines cannot run
// with. Parse errors surface through BuildParams; this guards semantics.
func ValidateConfig(cfg *Config) error {
	params, err := BuildParams(cfg)
	if err != nil {
		return err
	}
	if _, err := cfg.RewardRate(); err != nil {
		return err
	}
	for _, name := range params.names {
		runtime := params.assets[name]
		if runtime.MCR.Cmp(one) <= 0 {
			return fmt.Errorf("asset %q: MCR must exceed 100%%", name)
		}
		if runtime.LiquidationReserve.Sign() <= 0 {
			return fmt.Errorf("asset %q: LiquidationReserve must be positive", name)
		}
		if runtime.MinNetDebt.Sign() <= 0 {
			return fmt.Errorf("asset %q: MinNetDebt must be positive", name)
		}
		if runtime.CollateralGasDivisor == 0 {
			return fmt.Errorf("asset %q: CollateralGasDivisor must be positive", name)
		}
		if runtime.RedemptionFeeFloor.Cmp(one) >= 0 {
			return fmt.Errorf("asset %q: RedemptionFeeFloor must be below 100%%", name)
		}
		if runtime.BorrowingFeeFloor.Cmp(runtime.MaxBorrowingFee) > 0 {
			return fmt.Errorf("asset %q: BorrowingFeeFloor above MaxBorrowingFee", name)
		}
		if runtime.InterestEnabled && runtime.InterestRatePerSecond.Sign() == 0 {
			return fmt.Errorf("asset %q: interest enabled with a zero rate", name)
		}
		if runtime.OraclePrice.Sign() <= 0 {
			return fmt.Errorf("asset %q: OraclePrice must be positive", name)
		}
	}
	return nil
}
