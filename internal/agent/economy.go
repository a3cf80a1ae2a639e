package agent

import (
	"context"
	"fmt"

	"Ekronos-Agents/internal/extract"
	"Ekronos-Agents/internal/llm"
	"Ekronos-Agents/internal/schema"
)

const economySystem = "You are a tokenomics designer. " +
	"You MUST return strictly valid JSON and nothing else. " +
	"No markdown fences. No extra commentary. " +
	"Choose sensible token distribution percentages that sum to 100. " +
	"Explain the rationale per category."

const economyUser = `USER PROMPT:
%s

Return STRICT JSON ONLY with this exact schema:

{
  "tokenomics": {
    "name": "Token name",
    "symbol": "SYMBOL",
    "total_supply": "1000000000",
    "decimals": 18,
    "distribution": [
      {
        "category": "Community & Incentives",
        "percent": 40,
        "rationale": "1-2 sentences explaining why this percent fits the use case.",
        "vesting": {
          "type": "none|linear|cliff+linear",
          "cliff_months": 0,
          "duration_months": 0
        }
      }
    ],
    "assumptions": ["Short bullet assumptions derived from the user prompt."],
    "notes": "Any important caveats or suggestions."
  }
}

Rules:
- Output must be VALID JSON (double quotes).
- distribution.percent values MUST sum to exactly 100.
- Include 4 to 7 distribution categories.
- Provide vesting for each category (use 'none' for fully liquid allocations).
- Do not add any keys outside the schema.`

// EconomyAgent 生成代币经济模型（分配比例、理由与解锁计划）。
type EconomyAgent struct {
	base
}

// NewEconomy 创建 economy agent，默认推理强度 high。
func NewEconomy(client llm.Client, opts ...Option) *EconomyAgent {
	return &EconomyAgent{base: newBase(Economy, client, "high", opts)}
}

// Run 实现 Agent。
func (a *EconomyAgent) Run(ctx context.Context, req *Request) (*Response, error) {
	raw, err := a.complete(ctx, req, economySystem, fmt.Sprintf(economyUser, req.Goal))
	if err != nil {
		return nil, err
	}

	payload, ok := extract.Object(raw)
	if !ok {
		return a.respond("Agent returned non-JSON output (cannot parse tokenomics).", nonJSON(raw)), nil
	}
	if ok, reason := schema.Tokenomics(payload); !ok {
		return a.respond("Invalid tokenomics JSON: "+reason, invalid(reason, payload, raw)), nil
	}
	return a.respond("Generated tokenomics JSON (distribution + rationale) for gateway/use-case.", success(payload)), nil
}
