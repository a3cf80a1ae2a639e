package schema

import "math"

var (
	tokenomicsKeys = []string{"name", "symbol", "total_supply", "decimals", "distribution", "assumptions", "notes"}
	allocationKeys = []string{"category", "percent", "rationale", "vesting"}
	vestingKeys    = []string{"type", "cliff_months", "duration_months"}
)

// PercentTolerance 是分配比例总和允许偏离 100 的最大值。
const PercentTolerance = 0.01

// Tokenomics 校验 {"tokenomics": {...}} 载荷。
func Tokenomics(payload map[string]any) (bool, string) {
	t, ok := payload["tokenomics"].(map[string]any)
	if !ok {
		return false, "Missing 'tokenomics' object."
	}
	for _, k := range tokenomicsKeys {
		if _, ok := t[k]; !ok {
			return failf("Missing tokenomics.%s", k)
		}
	}

	if !nonEmptyString(t["name"]) {
		return false, "tokenomics.name must be non-empty string."
	}
	if !nonEmptyString(t["symbol"]) {
		return false, "tokenomics.symbol must be non-empty string."
	}
	if !nonEmptyString(t["total_supply"]) {
		return false, "tokenomics.total_supply must be string (use string for big ints)."
	}
	if !intInRange(t["decimals"], 0, 18) {
		return false, "tokenomics.decimals must be int 0..18."
	}

	dist, ok := t["distribution"].([]any)
	if !ok || len(dist) < 3 {
		return false, "tokenomics.distribution must be an array with at least 3 entries."
	}

	total := 0.0
	for i, entry := range dist {
		row, ok := entry.(map[string]any)
		if !ok {
			return failf("distribution[%d] must be object.", i)
		}
		for _, k := range allocationKeys {
			if _, ok := row[k]; !ok {
				return failf("distribution[%d] missing '%s'.", i, k)
			}
		}
		if !nonEmptyString(row["category"]) {
			return failf("distribution[%d].category must be non-empty string.", i)
		}
		percent, ok := number(row["percent"])
		if !ok {
			return failf("distribution[%d].percent must be number.", i)
		}
		if percent <= 0 {
			return failf("distribution[%d].percent must be > 0.", i)
		}
		if !nonEmptyString(row["rationale"]) {
			return failf("distribution[%d].rationale must be non-empty string.", i)
		}

		vest, ok := row["vesting"].(map[string]any)
		if !ok {
			return failf("distribution[%d].vesting must be object.", i)
		}
		for _, k := range vestingKeys {
			if _, ok := vest[k]; !ok {
				return failf("distribution[%d].vesting missing '%s'.", i, k)
			}
		}
		if !nonEmptyString(vest["type"]) {
			return failf("distribution[%d].vesting.type must be string.", i)
		}
		if !nonNegativeInt(vest["cliff_months"]) {
			return failf("distribution[%d].vesting.cliff_months must be int >= 0.", i)
		}
		if !nonNegativeInt(vest["duration_months"]) {
			return failf("distribution[%d].vesting.duration_months must be int >= 0.", i)
		}
		total += percent
	}
	if math.Abs(total-100) > PercentTolerance {
		return failf("Distribution percents must sum to 100. Got %s.", formatTotal(total))
	}

	if !stringArray(t["assumptions"]) {
		return false, "tokenomics.assumptions must be array of strings."
	}
	if _, ok := t["notes"].(string); !ok {
		return false, "tokenomics.notes must be string."
	}

	if extra := extraKeys(payload, "tokenomics"); len(extra) > 0 {
		return failf("Unexpected top-level keys: %s", keyList(extra))
	}
	return true, OK
}

func stringArray(v any) bool {
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}
