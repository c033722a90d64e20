package registry

// ABI documents for the vault and its tokens. Every 256-bit amount crosses the
// contract boundary as two uint128 words, low word first.
const (
	VaultABI = `[
		{"name":"get_btc_price","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"price_low","type":"uint128"},{"name":"price_high","type":"uint128"}]},
		{"name":"set_btc_price","type":"function","stateMutability":"nonpayable","inputs":[{"name":"price_low","type":"uint128"},{"name":"price_high","type":"uint128"}],"outputs":[]},
		{"name":"get_position","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"collateral_low","type":"uint128"},{"name":"collateral_high","type":"uint128"},{"name":"debt_low","type":"uint128"},{"name":"debt_high","type":"uint128"}]},
		{"name":"get_health_factor","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"factor_low","type":"uint128"},{"name":"factor_high","type":"uint128"}]},
		{"name":"deposit_collateral","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount_low","type":"uint128"},{"name":"amount_high","type":"uint128"}],"outputs":[]},
		{"name":"withdraw_collateral","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount_low","type":"uint128"},{"name":"amount_high","type":"uint128"}],"outputs":[]},
		{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount_low","type":"uint128"},{"name":"amount_high","type":"uint128"}],"outputs":[]},
		{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount_low","type":"uint128"},{"name":"amount_high","type":"uint128"}],"outputs":[]},
		{"name":"liquidate","type":"function","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"}],"outputs":[]}
	]`

	TokenABI = `[
		{"name":"mint","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount_low","type":"uint128"},{"name":"amount_high","type":"uint128"}],"outputs":[]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount_low","type":"uint128"},{"name":"amount_high","type":"uint128"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balance_of","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"balance_low","type":"uint128"},{"name":"balance_high","type":"uint128"}]}
	]`
)
