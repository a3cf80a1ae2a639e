package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/knowledge"
	"Ekronos-Agents/internal/llm"
)

type stubLLM struct {
	resp    string
	err     error
	wait    time.Duration
	prompts []llm.Prompt
}

func (s *stubLLM) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	s.prompts = append(s.prompts, p)
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.resp, nil
}

func (s *stubLLM) last() llm.Prompt { return s.prompts[len(s.prompts)-1] }

const validTokenomics = `{"tokenomics":{"name":"Ekro","symbol":"EKR","total_supply":"1000000","decimals":18,
"distribution":[
 {"category":"Community","percent":50,"rationale":"r","vesting":{"type":"none","cliff_months":0,"duration_months":0}},
 {"category":"Team","percent":30,"rationale":"r","vesting":{"type":"cliff+linear","cliff_months":12,"duration_months":36}},
 {"category":"Treasury","percent":20,"rationale":"r","vesting":{"type":"linear","cliff_months":0,"duration_months":24}}],
"assumptions":["a"],"notes":"n"}}`

func TestEconomySuccess(t *testing.T) {
	stub := &stubLLM{resp: "```json\n" + validTokenomics + "\n```"}
	ag := NewEconomy(stub, WithModel("gpt-5"))

	resp, err := ag.Run(context.Background(), &Request{Goal: "loyalty token for coffee shops"})
	require.NoError(t, err)
	assert.Equal(t, Economy, resp.Agent)
	assert.Equal(t, true, resp.Result["ok"])
	assert.Contains(t, resp.Result, "tokenomics")
	assert.Equal(t, "Generated tokenomics JSON (distribution + rationale) for gateway/use-case.", resp.Summary)

	p := stub.last()
	assert.Equal(t, "gpt-5", p.Model)
	assert.Equal(t, "high", p.ReasoningEffort)
	assert.Contains(t, p.User, "loyalty token for coffee shops")
}

func TestEconomyNonJSONAndInvalid(t *testing.T) {
	resp, err := NewEconomy(&stubLLM{resp: "I cannot help with that."}).Run(context.Background(), &Request{Goal: "x"})
	require.NoError(t, err)
	assert.Equal(t, false, resp.Result["ok"])
	assert.Equal(t, "I cannot help with that.", resp.Result["raw"])
	assert.Equal(t, "Agent returned non-JSON output (cannot parse tokenomics).", resp.Summary)

	bad := strings.Replace(validTokenomics, `"percent":20`, `"percent":10`, 1)
	resp, err = NewEconomy(&stubLLM{resp: bad}).Run(context.Background(), &Request{Goal: "x"})
	require.NoError(t, err)
	assert.Equal(t, false, resp.Result["ok"])
	assert.Equal(t, "Distribution percents must sum to 100. Got 90.0.", resp.Result["reason"])
	assert.Equal(t, "Invalid tokenomics JSON: Distribution percents must sum to 100. Got 90.0.", resp.Summary)
	assert.Contains(t, resp.Result, "payload")
}

func TestIndexerEnvelope(t *testing.T) {
	raw := `{"risk_analysis":{"overall_risk_score":40,"risk_level":"low","dimensions":{"market":40},
	"trend_indicators":[{"name":"tvl","unit":"index","series":[{"t":"d1","v":1}]}],
	"key_risks":[],"mitigations":[],"assumptions":[],"notes":""}}`
	stub := &stubLLM{resp: raw}
	resp, err := NewIndexer(stub).Run(context.Background(), &Request{Goal: "risk of a DEX"})
	require.NoError(t, err)
	assert.Equal(t, true, resp.Result["ok"])
	assert.Equal(t, "Generated structured risk and trend analysis (chart-ready).", resp.Summary)
}

func TestSmartProgramDefaultsBaseAndInjectsTraining(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sails.txt"), []byte("use sails-rs"), 0o600))
	training := knowledge.NewDirProvider(map[string]string{SmartProgram: dir}, 12, 20000)

	stub := &stubLLM{resp: `{"pr":{"title":"Add counter","body":"How to test: cargo test"},"files":{"app/src/lib.rs":"// code"}}`}
	resp, err := NewSmartProgram(stub, WithTraining(training)).Run(context.Background(), &Request{Goal: "counter program"})
	require.NoError(t, err)

	assert.Equal(t, true, resp.Result["ok"])
	pr := resp.Result["pr"].(map[string]any)
	assert.Equal(t, "main", pr["base"])
	assert.Nil(t, pr["branch"])
	assert.Equal(t, map[string]any{"app/src/lib.rs": "// code"}, resp.Result["files"])
	assert.Contains(t, stub.last().User, "--- FILE: sails.txt ---\nuse sails-rs")
}

func TestSmartProgramWithoutTraining(t *testing.T) {
	stub := &stubLLM{resp: `{"pr":{"title":"t","body":"b","base":"dev","branch":"feat/x"},"files":{}}`}
	resp, err := NewSmartProgram(stub).Run(context.Background(), &Request{Goal: "g"})
	require.NoError(t, err)
	pr := resp.Result["pr"].(map[string]any)
	assert.Equal(t, "dev", pr["base"])
	assert.Equal(t, "feat/x", pr["branch"])
	assert.Contains(t, stub.last().User, knowledge.NotConfigured)
}

func TestSmartProgramRejectsTraversal(t *testing.T) {
	stub := &stubLLM{resp: `{"pr":{"title":"t","body":"b"},"files":{"../x":"y"}}`}
	resp, err := NewSmartProgram(stub).Run(context.Background(), &Request{Goal: "g"})
	require.NoError(t, err)
	assert.Equal(t, false, resp.Result["ok"])
	assert.Equal(t, "Invalid PR payload: Forbidden path traversal in file path: ../x", resp.Summary)
}

func TestFreeTextAgents(t *testing.T) {
	stub := &stubLLM{resp: "Use a card grid."}
	resp, err := NewFrontend(stub).Run(context.Background(), &Request{Goal: "dashboard"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ui_design": "Use a card grid."}, resp.Result)
	assert.Equal(t, "Frontend UI design", resp.Summary)
	assert.Equal(t, "You are a frontend React and UX expert.", stub.last().System)
	assert.Equal(t, "dashboard", stub.last().User)
	assert.Empty(t, stub.last().ReasoningEffort)

	resp, err = NewServer(stub).Run(context.Background(), &Request{Goal: "api"})
	require.NoError(t, err)
	assert.Equal(t, "Backend API design", resp.Summary)
	assert.Contains(t, resp.Result, "backend_design")
}

func TestVFTDeployerCoercesMintAmount(t *testing.T) {
	stub := &stubLLM{resp: "{admins: ['0xaa'], name: 'Ekro', symbol: 'EKR', decimals: 12, mint_amount: 5000, mint_to: '0xbb'};"}
	resp, err := NewVFTDeployer(stub).Run(context.Background(), &Request{Goal: "deploy token"})
	require.NoError(t, err)
	require.Equal(t, true, resp.Result["ok"], resp.Summary)
	vft := resp.Result["vft"].(map[string]any)
	assert.Equal(t, "5000", vft["mint_amount"])
}

func TestVFTDeployerInvalid(t *testing.T) {
	stub := &stubLLM{resp: `{"admins":["0xaa"],"name":"E","symbol":"E","decimals":12,"mint_amount":"1e18","mint_to":"0xbb"}`}
	resp, err := NewVFTDeployer(stub).Run(context.Background(), &Request{Goal: "deploy token"})
	require.NoError(t, err)
	assert.Equal(t, false, resp.Result["ok"])
	assert.True(t, strings.HasPrefix(resp.Summary, "Invalid VFT payload: "))
}

func TestLiquidityPaths(t *testing.T) {
	ctx := context.Background()

	stub := &stubLLM{resp: `{"token":"0xabc","registered_token":null}`}
	resp, err := NewLiquidity(stub).Run(ctx, &Request{Goal: "register", Context: map[string]any{"programId": "0xabc"}})
	require.NoError(t, err)
	assert.Equal(t, "Liquidity payload generated.", resp.Summary)
	assert.Equal(t, "low", stub.last().ReasoningEffort)
	assert.Contains(t, stub.last().User, `"token": "0xabc"`)

	resp, err = NewLiquidity(&stubLLM{resp: "sorry"}).Run(ctx, &Request{Goal: "register 0xfeed now"})
	require.NoError(t, err)
	assert.Equal(t, "Liquidity payload fallback (model output was not JSON).", resp.Summary)
	assert.Equal(t, map[string]any{"token": "0xfeed", "registered_token": nil}, resp.Result["liquidity"])

	resp, err = NewLiquidity(&stubLLM{resp: `{"token":"0xabc","registered_token":null,"pool":"x"}`}).
		Run(ctx, &Request{Goal: "g", Context: map[string]any{"token": "0xdead"}})
	require.NoError(t, err)
	assert.Equal(t, "Liquidity payload repaired (original invalid: Unexpected keys: ['pool']).", resp.Summary)
	assert.Equal(t, map[string]any{"token": "0xdead", "registered_token": nil}, resp.Result["liquidity"])
	assert.Contains(t, resp.Result, "payload")

	stub = &stubLLM{resp: "sorry"}
	resp, err = NewLiquidity(stub).Run(ctx, &Request{Goal: "no address"})
	require.NoError(t, err)
	assert.Equal(t, false, resp.Result["ok"])
	assert.Equal(t, "Agent returned non-JSON output (could not parse liquidity payload).", resp.Summary)
	assert.Contains(t, stub.last().User, `"token": "0x..."`)
}

func TestGuessTokenPriority(t *testing.T) {
	req := &Request{Goal: "token 0x1111", Context: map[string]any{"program_id": "0x2222", "token": "not-hex"}}
	token, ok := GuessToken(req)
	require.True(t, ok)
	assert.Equal(t, "0x2222", token)
}

func TestLLMErrorsAreReturned(t *testing.T) {
	_, err := NewEconomy(&stubLLM{err: errors.New("connection reset")}).Run(context.Background(), &Request{Goal: "g"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeUpstream, xerrors.CodeOf(err))
}

func TestCallerDeadlineMapsToTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := NewFrontend(&stubLLM{wait: time.Second}).Run(ctx, &Request{Goal: "g"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestRegistries(t *testing.T) {
	models := func(name string) string { return "m-" + name }
	studio := StudioRegistry(&stubLLM{}, models, nil)
	assert.Equal(t, []string{SmartProgram, Frontend, Server, Indexer, Economy}, studio.Names())

	deployer := DeployerRegistry(&stubLLM{}, nil)
	assert.Equal(t, []string{VFTDeployer, Liquidity}, deployer.Names())
	assert.True(t, deployer.Has(Liquidity))

	_, err := deployer.Get(Economy)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	stub := &stubLLM{resp: "ok"}
	reg := StudioRegistry(stub, models, nil)
	a, err := reg.Get(Frontend)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), &Request{Goal: "g"})
	require.NoError(t, err)
	assert.Equal(t, "m-frontend", stub.last().Model)
}
