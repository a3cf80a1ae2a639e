// Package extract pulls a JSON object out of free-form model output.
//
// Object is the strict path used by agents whose prompts demand pure JSON.
// Lenient additionally rewrites JavaScript-ish literals (bare keys, single
// quotes, // comments, trailing semicolons) before giving up.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

var (
	fencedObject = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	greedyObject = regexp.MustCompile(`(?s)(\{.*\})`)

	trailingSemicolon = regexp.MustCompile(`;\s*$`)
	lineComment       = regexp.MustCompile(`(?m)^\s*//.*$`)
	bareKey           = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*):`)
)

// Object 依次尝试整体解析、```json 代码块、首个 {...} 片段，只接受 JSON 对象。
func Object(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)

	if obj, ok := decodeObject(text); ok {
		return obj, true
	}
	if m := fencedObject.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(m[1]); ok {
			return obj, true
		}
	}
	if m := greedyObject.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(strings.TrimSpace(m[1])); ok {
			return obj, true
		}
	}
	return nil, false
}

// Lenient 先整体解析，失败后对文本做 Repair 再解析一次。空输入视为未找到。
func Lenient(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if v, err := decode(text); err == nil {
		obj, ok := v.(map[string]any)
		return obj, ok
	}
	return decodeObject(Repair(text))
}

// Repair 把常见的“类 JSON”输出改写成合法 JSON 的尽力尝试，不保证结果可解析。
func Repair(text string) string {
	text = strings.TrimSpace(text)

	if m := fencedObject.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if m := greedyObject.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	text = trailingSemicolon.ReplaceAllString(text, "")
	text = lineComment.ReplaceAllString(text, "")
	text = stripInlineComments(text)
	text = bareKey.ReplaceAllString(text, `$1"$2"$3:`)
	return strings.ReplaceAll(text, "'", `"`)
}

// stripInlineComments 删除每行中第一个前面不是 ':' 的 "//" 及其后内容，
// 这样 "https://..." 之类的值得以保留。
func stripInlineComments(text string) string {
	lines := strings.Split(text, "\n")
	for n, line := range lines {
		for i := 0; i+1 < len(line); i++ {
			if line[i] == '/' && line[i+1] == '/' && (i == 0 || line[i-1] != ':') {
				lines[n] = line[:i]
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

func decodeObject(text string) (map[string]any, bool) {
	v, err := decode(text)
	if err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

var errTrailingData = errors.New("extract: trailing data after JSON value")

// decode 要求输入恰好是一个 JSON 值，数字保留为 json.Number。
func decode(text string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return v, nil
}
