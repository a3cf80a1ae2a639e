// Package web3 exposes read-only chain connectivity used by the
// /chain/snapshot endpoint. Chain-specific clients live in subpackages.
package web3
