package agent

import (
	"context"
	"fmt"

	"Ekronos-Agents/internal/extract"
	"Ekronos-Agents/internal/knowledge"
	"Ekronos-Agents/internal/llm"
	"Ekronos-Agents/internal/schema"
)

const smartProgramSystem = "You are a senior software architect and deep reasoning expert. " +
	"You produce implementable plans and clean, testable code. " +
	"You MUST return strictly valid JSON and nothing else. " +
	"Output in English."

const smartProgramUser = `INTERNAL TRAINING DATA (role-specific, authoritative):
%s

USER GOAL:
%s

You must produce a Git-ready change set and PR metadata.

Return STRICT JSON ONLY with this schema:

{
  "pr": {
    "title": "short title",
    "body": "markdown description including what/why/how to test",
    "base": "main"
  },
  "files": {
    "path/relative/to/repo/file1.ext": "FULL FILE CONTENTS",
    "path/relative/to/repo/file2.ext": "FULL FILE CONTENTS"
  }
}

Rules:
- Do NOT include markdown fences.
- Do NOT include explanations outside JSON.
- 'files' must include ALL changed/new files with full contents.
- Prefer minimal changes. If you are unsure, include TODO comments in code.
- Never output absolute paths. Never use '..' in paths.
- Ensure code compiles/runs (best effort) and include "How to test" in PR body.
`

// DefaultBaseBranch 是 PR 未指定 base 时使用的分支。
const DefaultBaseBranch = "main"

// SmartProgramAgent 结合训练语料生成可直接提交的 PR 载荷（标题、描述与完整文件内容）。
type SmartProgramAgent struct {
	base
}

// NewSmartProgram 创建 smart_program agent，默认推理强度 high。
func NewSmartProgram(client llm.Client, opts ...Option) *SmartProgramAgent {
	return &SmartProgramAgent{base: newBase(SmartProgram, client, "high", opts)}
}

// Run 实现 Agent。成功时 Result 形如 {ok, pr: {title, body, base, branch}, files}。
func (a *SmartProgramAgent) Run(ctx context.Context, req *Request) (*Response, error) {
	training := knowledge.NotConfigured
	if a.training != nil {
		text, err := a.training.Training(a.name)
		if err != nil {
			return nil, err
		}
		training = text
	}

	raw, err := a.complete(ctx, req, smartProgramSystem, fmt.Sprintf(smartProgramUser, training, req.Goal))
	if err != nil {
		return nil, err
	}

	payload, ok := extract.Object(raw)
	if !ok {
		return a.respond("Agent returned non-JSON output (cannot create PR payload).", nonJSON(raw)), nil
	}
	if ok, reason := schema.PR(payload); !ok {
		return a.respond("Invalid PR payload: "+reason, invalid(reason, payload, raw)), nil
	}

	pr := payload["pr"].(map[string]any)
	baseBranch, _ := pr["base"].(string)
	if _, present := pr["base"]; !present {
		baseBranch = DefaultBaseBranch
	}
	var branch any
	if b, ok := pr["branch"].(string); ok {
		branch = b
	}

	return a.respond("Generated PR payload (title/body/files) ready for /pr/create.", map[string]any{
		"ok": true,
		"pr": map[string]any{
			"title":  pr["title"],
			"body":   pr["body"],
			"base":   baseBranch,
			"branch": branch,
		},
		"files": payload["files"],
	}), nil
}
