package agent

import (
	"context"
	"fmt"

	"Ekronos-Agents/internal/extract"
	"Ekronos-Agents/internal/llm"
	"Ekronos-Agents/internal/schema"
)

const vftSystem = "You are a token deployment planner. " +
	"You MUST return strictly valid JSON and nothing else. " +
	"No markdown. No explanations. " +
	"Return ONE JSON object with EXACTLY these keys: " +
	"admins (array of strings), name (string), symbol (string), decimals (integer), " +
	"mint_amount (base-10 numeric string), mint_to (string)."

const vftUser = `USER PROMPT:
%s

Return ONLY strict JSON with this exact schema (no extra keys):

{
  "admins": ["0x..."],
  "name": "Token Name",
  "symbol": "TKN",
  "decimals": 18,
  "mint_amount": "1000000000000000000000",
  "mint_to": "0x..."
}

Rules:
- Output MUST be valid JSON (double quotes).
- admins: array with at least 1 0x... address
- decimals: integer 0..18
- mint_amount: base-10 numeric string (uint), digits ONLY, no separators, no decimals.
- Scientific notation (e/E) is forbidden. Example: "1e18" is NOT allowed.
- Separators (commas, underscores, spaces) are forbidden. Example: "1,000" and "1_000" are NOT allowed.
- Units or text are forbidden. Example: "1000 tokens" is NOT allowed.
- mint_to: 0x... address
- Do not include any other field.`

// VFTDeployerAgent 生成发往部署网关的 VFT 代币参数。
type VFTDeployerAgent struct {
	base
}

// NewVFTDeployer 创建 vft_deployer agent，默认推理强度 high。
func NewVFTDeployer(client llm.Client, opts ...Option) *VFTDeployerAgent {
	return &VFTDeployerAgent{base: newBase(VFTDeployer, client, "high", opts)}
}

// Run 实现 Agent。使用宽松解析，成功时 Result 为 {ok: true, vft: payload}。
func (a *VFTDeployerAgent) Run(ctx context.Context, req *Request) (*Response, error) {
	raw, err := a.complete(ctx, req, vftSystem, fmt.Sprintf(vftUser, req.Goal))
	if err != nil {
		return nil, err
	}

	payload, ok := extract.Lenient(raw)
	if !ok {
		return a.respond("Agent returned non-JSON output (could not parse VFT payload).", nonJSON(raw)), nil
	}
	if ok, reason := schema.VFT(payload); !ok {
		return a.respond("Invalid VFT payload: "+reason, invalid(reason, payload, raw)), nil
	}
	return a.respond("VFT payload generated for gateway.", map[string]any{"ok": true, "vft": payload}), nil
}
