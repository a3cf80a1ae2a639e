// Package llm defines the provider-neutral completion interface used by the
// agents, plus a tracing decorator. Provider adapters live in sub-packages.
package llm
