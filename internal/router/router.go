// Package router maps a free-text goal to the ordered list of agents that
// should run for it. Matching is plain substring search over a lower-cased
// goal, so short keywords such as "ui" or "il" also hit inside longer words.
package router

import (
	"strings"

	"Ekronos-Agents/internal/agent"
	"Ekronos-Agents/internal/config"
)

// Router 根据目标文本与可选的首选列表给出要执行的 agent，结果有序且不重复，至少包含一个元素。
type Router interface {
	Route(goal string, preferred []string) []string
}

// Func 让普通函数满足 Router。
type Func func(goal string, preferred []string) []string

// Route 实现 Router。
func (f Func) Route(goal string, preferred []string) []string { return f(goal, preferred) }

type rule struct {
	agent    string
	keywords []string
}

func (r rule) matches(goal string) bool {
	for _, k := range r.keywords {
		if strings.Contains(goal, k) {
			return true
		}
	}
	return false
}

var studioRules = []rule{
	{agent.SmartProgram, []string{
		"smart program", "smart_program", "contract", "smart contract", "program",
		"algorithm", "optimize", "refactor", "bug", "fix", "tests", "unit test",
		"performance", "design pattern", "clean architecture", "best practice",
		"implement", "build", "rust", "gear", "vara", "sails",
	}},
	{agent.Frontend, []string{
		"ui", "frontend", "react", "vue", "css", "component", "screen", "layout",
		"dashboard", "chart", "charts", "recharts", "tailwind", "responsive",
	}},
	{agent.Server, []string{
		"api", "backend", "server", "endpoint", "fastapi", "db", "database",
		"auth", "jwt", "cors", "middleware", "schema", "pydantic", "webhook",
	}},
	{agent.Indexer, []string{
		// 风险
		"risk", "risks", "risk analysis", "risk assessment", "risk management",
		"threat", "threats", "vulnerability", "vulnerabilities", "attack", "attacks",
		"exploit", "exploits", "security", "audit", "auditing", "incident",
		"mitigation", "mitigations", "exposure", "risk score", "risk scoring",
		// DeFi 与市场
		"market risk", "volatility", "drawdown", "liquidity risk", "liquidity",
		"slippage", "impermanent loss", "il", "depeg", "peg risk", "oracle risk",
		"price manipulation", "front running", "mev", "sandwich", "wash trading",
		// 协议与技术
		"technical risk", "smart contract risk", "bug bounty", "dependency risk",
		"upgrade risk", "admin key risk", "privileged", "centralization risk",
		"governance risk", "governance attack", "treasury risk",
		// 合规
		"regulatory", "compliance", "legal", "sanctions", "kyc", "aml",
		// 趋势与监控
		"trend", "trends", "signal", "signals", "indicator", "indicators",
		"sentiment", "market sentiment", "correlation", "macro", "stress test",
		"scenario", "scenarios", "tail risk", "early warning", "monitoring",
		"risk dashboard", "heatmap",
		// 旧版检索类关键词
		"rag", "embedding", "index", "vector", "retrieval", "search", "chunk",
	}},
}

var (
	vftRule = rule{agent.VFTDeployer, []string{
		"token", "vft", "fungible", "deploy token", "create token", "mint",
		"erc20", "asset", "symbol", "decimals", "supply",
	}}
	liquidityRule = rule{agent.Liquidity, []string{
		"liquidity", "pool", "amm", "dex", "swap", "pair", "price", "seed",
		"initial liquidity",
	}}
)

// Studio 返回 studio 部署的路由器。economy 总是被追加；若关键词只命中 economy，
// 则补上 smart_program，保证结果不是单元素。
func Studio() Router {
	return Func(routeStudio)
}

func routeStudio(goal string, preferred []string) []string {
	if len(preferred) > 0 {
		return dedupe(append(append([]string(nil), preferred...), agent.Economy))
	}

	g := strings.ToLower(goal)
	var targets []string
	for _, r := range studioRules {
		if r.matches(g) {
			targets = append(targets, r.agent)
		}
	}
	targets = append(targets, agent.Economy)

	if len(targets) == 1 {
		return []string{agent.SmartProgram, agent.Economy}
	}
	return targets
}

// Deployer 返回 deployer 部署的路由器。liquidity 依赖 vft_deployer，且总排在其后。
func Deployer() Router {
	return Func(routeDeployer)
}

func routeDeployer(goal string, preferred []string) []string {
	if len(preferred) > 0 {
		var ordered []string
		for _, name := range []string{agent.VFTDeployer, agent.Liquidity} {
			if contains(preferred, name) {
				ordered = append(ordered, name)
			}
		}
		return ordered
	}

	g := strings.ToLower(goal)
	var targets []string
	if vftRule.matches(g) {
		targets = append(targets, agent.VFTDeployer)
	}
	if liquidityRule.matches(g) {
		if !contains(targets, agent.VFTDeployer) {
			targets = append(targets, agent.VFTDeployer)
		}
		targets = append(targets, agent.Liquidity)
	}
	if len(targets) == 0 {
		return []string{agent.VFTDeployer}
	}
	return targets
}

// ForDeployment 返回部署对应的路由器，未知部署返回 nil。
func ForDeployment(deployment string) Router {
	switch deployment {
	case config.DeploymentStudio:
		return Studio()
	case config.DeploymentDeployer:
		return Deployer()
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
