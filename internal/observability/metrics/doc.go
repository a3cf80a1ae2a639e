// Package metrics 维护 HTTP 请求与 agent 调用指标，并以 Prometheus 文本格式在 /metrics 暴露。
package metrics
