package schema

var riskKeys = []string{
	"overall_risk_score",
	"risk_level",
	"dimensions",
	"trend_indicators",
	"key_risks",
	"mitigations",
	"assumptions",
	"notes",
}

// Risk 校验 {"risk_analysis": {...}} 载荷。维度按键名排序检查，保证报错稳定。
func Risk(payload map[string]any) (bool, string) {
	r, ok := payload["risk_analysis"].(map[string]any)
	if !ok {
		return false, "Missing 'risk_analysis' object."
	}
	for _, k := range riskKeys {
		if _, ok := r[k]; !ok {
			return failf("Missing risk_analysis.%s", k)
		}
	}

	if !inRange(r["overall_risk_score"], 0, 100) {
		return false, "overall_risk_score must be 0..100."
	}
	switch r["risk_level"] {
	case "low", "medium", "high":
	default:
		return false, "risk_level must be low|medium|high."
	}

	dims, ok := r["dimensions"].(map[string]any)
	if !ok || len(dims) == 0 {
		return false, "dimensions must be non-empty object."
	}
	for _, k := range sortedKeys(dims) {
		if !inRange(dims[k], 0, 100) {
			return failf("dimension '%s' must be 0..100.", k)
		}
	}

	trends, ok := r["trend_indicators"].([]any)
	if !ok || len(trends) == 0 {
		return false, "trend_indicators must be non-empty array."
	}
	for _, item := range trends {
		trend, ok := item.(map[string]any)
		if !ok || !hasKeys(trend, "name", "unit", "series") {
			return false, "Each trend must have name, unit, series."
		}
		series, ok := trend["series"].([]any)
		if !ok || len(series) == 0 {
			return false, "trend.series must be non-empty array."
		}
		for _, p := range series {
			point, ok := p.(map[string]any)
			if !ok || !hasKeys(point, "t", "v") {
				return false, "Each series point must have t, v."
			}
			if _, ok := number(point["v"]); !ok {
				return false, "Each series point value v must be a number."
			}
		}
	}

	if _, ok := r["key_risks"].([]any); !ok {
		return false, "key_risks must be array."
	}
	if _, ok := r["mitigations"].([]any); !ok {
		return false, "mitigations must be array."
	}
	if _, ok := r["assumptions"].([]any); !ok {
		return false, "assumptions must be array."
	}
	if _, ok := r["notes"].(string); !ok {
		return false, "notes must be string."
	}

	if extra := extraKeys(payload, "risk_analysis"); len(extra) > 0 {
		return failf("Unexpected top-level keys: %s", keyList(extra))
	}
	return true, OK
}

func hasKeys(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}
