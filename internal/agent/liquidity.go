package agent

import (
	"context"
	"fmt"

	"Ekronos-Agents/internal/extract"
	"Ekronos-Agents/internal/llm"
	"Ekronos-Agents/internal/schema"
)

const liquiditySystem = "You are a liquidity registration agent for Vara. " +
	"You MUST return STRICT valid JSON and nothing else. " +
	"No markdown. No explanations. " +
	"Return ONE JSON object with EXACTLY these keys: " +
	"token (string), registered_token (null or string)."

const liquidityUser = `Goal / context:
%s

Return ONLY this exact JSON schema (no extra keys):

{
  "token": "%s",
  "registered_token": null
}

Rules:
- Output MUST be valid JSON (double quotes).
- token: must be a 0x... hex string (the deployed token/program address).
- registered_token: null if not registered yet, or a 0x... hex string if registration succeeded.
- Do NOT include any other keys.`

// tokenContextKeys 是上下文中可能携带代币地址的键，按优先级排列。
var tokenContextKeys = []string{"token", "program_id", "programId", "vft_program_id", "vftProgramId"}

// LiquidityAgent 生成流动性注册载荷。模型输出不可用但能推断出代币地址时，
// 会退化为 {token, registered_token: null}。
type LiquidityAgent struct {
	base
}

// NewLiquidity 创建 liquidity agent，默认推理强度 low。
func NewLiquidity(client llm.Client, opts ...Option) *LiquidityAgent {
	return &LiquidityAgent{base: newBase(Liquidity, client, "low", opts)}
}

// GuessToken 依次从上下文键与目标文本中寻找第一个十六进制地址。
func GuessToken(req *Request) (string, bool) {
	for _, key := range tokenContextKeys {
		if v, ok := req.Context[key].(string); ok && schema.IsHexAddress(v) {
			return v, true
		}
	}
	return schema.FindHexAddress(req.Goal)
}

// Run 实现 Agent。
func (a *LiquidityAgent) Run(ctx context.Context, req *Request) (*Response, error) {
	hint, ok := GuessToken(req)
	if !ok {
		hint = "0x..."
	}

	raw, err := a.complete(ctx, req, liquiditySystem, fmt.Sprintf(liquidityUser, req.Goal, hint))
	if err != nil {
		return nil, err
	}

	payload, ok := extract.Lenient(raw)
	if !ok {
		if token, found := GuessToken(req); found {
			return a.respond("Liquidity payload fallback (model output was not JSON).", map[string]any{
				"ok":        true,
				"liquidity": map[string]any{"token": token, "registered_token": nil},
				"raw":       raw,
			}), nil
		}
		return a.respond("Agent returned non-JSON output (could not parse liquidity payload).", nonJSON(raw)), nil
	}

	if ok, reason := schema.Liquidity(payload); !ok {
		if token, found := GuessToken(req); found {
			return a.respond(fmt.Sprintf("Liquidity payload repaired (original invalid: %s).", reason), map[string]any{
				"ok":        true,
				"liquidity": map[string]any{"token": token, "registered_token": nil},
				"raw":       raw,
				"payload":   payload,
			}), nil
		}
		return a.respond("Liquidity payload invalid: "+reason, invalid(reason, payload, raw)), nil
	}
	return a.respond("Liquidity payload generated.", map[string]any{"ok": true, "liquidity": payload}), nil
}
