package config

// AssetParams is the per-collateral risk configuration as written in the
// TOML file. Amount fields are decimal strings at 1e18 scale so operators
// never lose precision to float parsing.
type AssetParams struct {
	// MCR is the minimum collateral ratio, e.g. "1250000000000000000" for 125%.
	MCR string `toml:"MCR"`
	// MinNetDebt is the smallest debt a position may hold net of the reserve.
	MinNetDebt string `toml:"MinNetDebt"`
	// LiquidationReserve is the stable-token incentive escrowed per position.
	LiquidationReserve string `toml:"LiquidationReserve"`
	// CollateralGasDivisor sets the liquidator collateral compensation as a
	// fraction of seized collateral, e.g. 200 for 0.5%.
	CollateralGasDivisor uint64 `toml:"CollateralGasDivisor"`
	RedemptionFeeFloor   string `toml:"RedemptionFeeFloor"`
	BorrowingFeeFloor    string `toml:"BorrowingFeeFloor"`
	MaxBorrowingFee      string `toml:"MaxBorrowingFee"`
	// BootstrapDays delays redemption after launch.
	BootstrapDays uint64 `toml:"BootstrapDays"`
	// InterestRatePerSecond is the 1e18-scale simple rate; zero disables
	// accrual even when InterestEnabled is set.
	InterestRatePerSecond string `toml:"InterestRatePerSecond"`
	InterestEnabled       bool   `toml:"InterestEnabled"`
	// OraclePrice seeds the static price source used by single-node runs.
	OraclePrice string `toml:"OraclePrice"`
}

// Pauses lists the module switches governance can flip to halt operations.
type Pauses struct {
	Positions bool `toml:"Positions"`
	Stability bool `toml:"Stability"`
}

// IsPaused satisfies the pause view consumed by the engines.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "positions":
		return p.Positions
	case "stability":
		return p.Stability
	default:
		return false
	}
}
