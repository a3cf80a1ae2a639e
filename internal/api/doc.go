// Package api exposes the HTTP surface of the agent backend: one-shot and
// streaming orchestration runs, gateway forwarding for deployer output,
// asynchronous tasks, GitHub OAuth sessions and pull request creation.
// Every failure is rendered as {"error": {"code", "message", "details?"}}.
package api
