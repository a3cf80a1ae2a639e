// Package agent contains the specialist agents that turn a natural-language
// goal into structured artifacts: PR change sets, UI and API designs, risk
// analyses, tokenomics, token deployment parameters and liquidity
// registrations. Each agent performs a single model call and reports
// malformed model output in its result instead of as an error.
package agent
