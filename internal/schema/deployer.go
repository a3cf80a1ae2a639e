package schema

var (
	liquidityKeys = []string{"token", "registered_token"}
	vftKeys       = []string{"admins", "name", "symbol", "decimals", "mint_amount", "mint_to"}
)

// Liquidity 校验 {"token": "0x..", "registered_token": null|"0x.."}，不允许多余键。
func Liquidity(payload map[string]any) (bool, string) {
	for _, k := range liquidityKeys {
		if _, ok := payload[k]; !ok {
			return failf("Missing '%s'.", k)
		}
	}
	if extra := extraKeys(payload, liquidityKeys...); len(extra) > 0 {
		return failf("Unexpected keys: %s", keyList(extra))
	}
	if token, ok := payload["token"].(string); !ok || !IsHexAddress(token) {
		return false, "'token' must be a hex string like 0x..."
	}
	switch rt := payload["registered_token"].(type) {
	case nil:
		return true, OK
	case string:
		if IsHexAddress(rt) {
			return true, OK
		}
	}
	return false, "'registered_token' must be null or a hex string like 0x..."
}

// NormalizeVFT 把非负整数形式的 mint_amount 原地改写为十进制字符串，返回是否发生改写。
func NormalizeVFT(payload map[string]any) bool {
	i, ok := integerLiteral(payload["mint_amount"])
	if !ok || i.Sign() < 0 {
		return false
	}
	payload["mint_amount"] = i.String()
	return true
}

// VFT 校验代币部署载荷。mint_amount 为非负整数时会先经 NormalizeVFT 改写为字符串，
// 该改写对调用方可见。
func VFT(payload map[string]any) (bool, string) {
	for _, k := range vftKeys {
		if _, ok := payload[k]; !ok {
			return failf("Missing '%s'.", k)
		}
	}

	admins, ok := payload["admins"].([]any)
	if !ok || len(admins) == 0 || !stringArray(payload["admins"]) {
		return false, "'admins' must be a non-empty array of strings."
	}
	for _, a := range admins {
		if !IsHexAddress(a.(string)) {
			return failf("Invalid admin address format: %s", a)
		}
	}
	if !nonEmptyString(payload["name"]) {
		return false, "'name' must be a non-empty string."
	}
	if !nonEmptyString(payload["symbol"]) {
		return false, "'symbol' must be a non-empty string."
	}
	if !intInRange(payload["decimals"], 0, 18) {
		return false, "'decimals' must be an integer between 0 and 18."
	}

	if i, ok := integerLiteral(payload["mint_amount"]); ok && i.Sign() < 0 {
		return false, "'mint_amount' cannot be negative."
	}
	NormalizeVFT(payload)
	amount := payload["mint_amount"]
	if isFloatLiteral(amount) {
		return false, "'mint_amount' cannot be a float. It must be a base-10 uint string."
	}
	s, ok := amount.(string)
	if !ok || !IsUintString(s) {
		return false, "'mint_amount' must be a base-10 uint string: digits only, no separators (commas/underscores/spaces), no decimals, no scientific notation (e/E)."
	}
	if s == "0" {
		return false, "'mint_amount' cannot be 0."
	}

	mintTo, ok := payload["mint_to"].(string)
	if !ok || !IsHexAddress(mintTo) {
		return failf("Invalid 'mint_to' format: %v", payload["mint_to"])
	}

	if extra := extraKeys(payload, vftKeys...); len(extra) > 0 {
		return failf("Unexpected keys: %s", keyList(extra))
	}
	return true, OK
}
