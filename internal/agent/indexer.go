package agent

import (
	"context"
	"fmt"

	"Ekronos-Agents/internal/extract"
	"Ekronos-Agents/internal/llm"
	"Ekronos-Agents/internal/schema"
)

const indexerSystem = "You are a professional risk analyst specializing in crypto, DeFi, and protocol design. " +
	"You analyze systemic, market, liquidity, technical, governance, and regulatory risks. " +
	"You MUST return strictly valid JSON and nothing else. " +
	"All scores must be numeric and suitable for visualization."

const indexerUser = `USER CONTEXT:
%s

Analyze the risk profile and trends of this use case.

Return STRICT JSON ONLY with this exact schema:

{
  "risk_analysis": {
    "overall_risk_score": 0-100,
    "risk_level": "low|medium|high",
    "dimensions": {
      "market": 0-100,
      "liquidity": 0-100,
      "technical": 0-100,
      "governance": 0-100,
      "regulatory": 0-100
    },
    "trend_indicators": [
      {
        "name": "indicator_name",
        "unit": "index|percent|score",
        "series": [
          { "t": "time_label", "v": number }
        ]
      }
    ],
    "key_risks": [
      {
        "category": "Market|Liquidity|Technical|Governance|Regulatory",
        "severity": "low|medium|high",
        "description": "Concise professional explanation"
      }
    ],
    "mitigations": [
      {
        "risk": "Short risk name",
        "action": "Concrete mitigation suggestion"
      }
    ],
    "assumptions": ["Assumptions used in this analysis"],
    "notes": "Important caveats or interpretation notes"
  }
}

Rules:
- Output MUST be valid JSON (double quotes).
- Scores must be realistic and consistent.
- Trend series should have at least 3 points.
- Do not add any keys outside the schema.`

// IndexerAgent 输出可直接用于图表的风险与趋势分析。
type IndexerAgent struct {
	base
}

// NewIndexer 创建 indexer agent，默认推理强度 high。
func NewIndexer(client llm.Client, opts ...Option) *IndexerAgent {
	return &IndexerAgent{base: newBase(Indexer, client, "high", opts)}
}

// Run 实现 Agent。
func (a *IndexerAgent) Run(ctx context.Context, req *Request) (*Response, error) {
	raw, err := a.complete(ctx, req, indexerSystem, fmt.Sprintf(indexerUser, req.Goal))
	if err != nil {
		return nil, err
	}

	payload, ok := extract.Object(raw)
	if !ok {
		return a.respond("Agent returned non-JSON output (cannot parse risk analysis).", nonJSON(raw)), nil
	}
	if ok, reason := schema.Risk(payload); !ok {
		return a.respond("Invalid risk analysis JSON: "+reason, invalid(reason, payload, raw)), nil
	}
	return a.respond("Generated structured risk and trend analysis (chart-ready).", success(payload)), nil
}
