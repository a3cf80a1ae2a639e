// Package schema holds the shape validators applied to agent JSON payloads.
//
// Every validator returns (ok, reason); reason is "ok" on success and a
// human-readable message otherwise. Validators are pure apart from the
// documented mint_amount coercion in VFT.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// OK 是校验通过时返回的 reason。
const OK = "ok"

var (
	hexAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{2,}$`)
	uintString = regexp.MustCompile(`^[0-9]+$`)
	hexInText  = regexp.MustCompile(`0x[0-9a-fA-F]{2,}`)
)

// IsHexAddress 判断是否为 0x 开头、至少两位十六进制的地址。
func IsHexAddress(s string) bool { return hexAddress.MatchString(s) }

// IsUintString 判断是否为仅含数字的十进制无符号整数串。
func IsUintString(s string) bool { return uintString.MatchString(s) }

// FindHexAddress 返回文本中第一个十六进制地址。
func FindHexAddress(text string) (string, bool) {
	m := hexInText.FindString(text)
	return m, m != ""
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

// integerLiteral 识别 JSON 整数（含超出 int64 的大整数），返回其十进制文本。
func integerLiteral(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case json.Number:
		s := n.String()
		if strings.ContainsAny(s, ".eE") {
			return nil, false
		}
		i, ok := new(big.Int).SetString(s, 10)
		return i, ok
	case int:
		return big.NewInt(int64(n)), true
	case int32:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	}
	return nil, false
}

// intInRange 判断 v 是否为落在 [lo, hi] 内的整数。
func intInRange(v any, lo, hi int64) bool {
	i, ok := integerLiteral(v)
	if !ok || !i.IsInt64() {
		return false
	}
	n := i.Int64()
	return n >= lo && n <= hi
}

func nonNegativeInt(v any) bool {
	i, ok := integerLiteral(v)
	return ok && i.Sign() >= 0
}

// number 接受整数或浮点字面量。
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// isFloatLiteral 判断 v 是否为非整数形式的数字字面量。
func isFloatLiteral(v any) bool {
	switch n := v.(type) {
	case json.Number:
		return strings.ContainsAny(n.String(), ".eE")
	case float32, float64:
		return true
	}
	return false
}

func inRange(v any, lo, hi float64) bool {
	f, ok := number(v)
	return ok && !math.IsNaN(f) && f >= lo && f <= hi
}

// extraKeys 返回 obj 中不在 allowed 内的键，按字典序排列。
func extraKeys(obj map[string]any, allowed ...string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		set[k] = struct{}{}
	}
	var extra []string
	for k := range obj {
		if _, ok := set[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

// keyList 以 ['a', 'b'] 的形式渲染键列表，与既有客户端解析的错误文案保持一致。
func keyList(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = "'" + k + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// formatTotal 渲染浮点和，整数值保留 ".0" 后缀。
func formatTotal(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func failf(format string, args ...any) (bool, string) {
	return false, fmt.Sprintf(format, args...)
}
