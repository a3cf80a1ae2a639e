package github

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// 未显式指定时使用的分支与目标文件。
const (
	DefaultBaseBranch = "main"
	DefaultHeadBranch = "feature/auto-pr"
	DefaultTargetPath = "app/src/services/service.rs"
)

// MaybeJSON 在 v 是形如 {...} 或 [...] 的字符串时尝试解析，失败则原样返回。
func MaybeJSON(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) || (strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")) {
		var out any
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
	}
	return v
}

// NormalizeFiles 把多种 files 表示统一为 path -> content：
// {path: content}、{path: {content}}、[{path|file|name, content}] 以及上述结构的 JSON 字符串。
// 无法识别的条目被忽略。
func NormalizeFiles(v any) map[string]string {
	out := map[string]string{}
	switch files := MaybeJSON(v).(type) {
	case map[string]any:
		for path, item := range files {
			switch c := item.(type) {
			case string:
				out[path] = c
			case map[string]any:
				if content, ok := c["content"].(string); ok {
					out[path] = content
				}
			}
		}
	case map[string]string:
		for path, content := range files {
			out[path] = content
		}
	case []any:
		for _, item := range files {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			path := firstString(entry, "path", "file", "name")
			content, ok := entry["content"].(string)
			if path != "" && ok {
				out[path] = content
			}
		}
	}
	return out
}

// ChooseTargetPath 选择要更新的文件：优先默认路径，其次第一个以 /service.rs 结尾的路径。
func ChooseTargetPath(files map[string]string) string {
	if _, ok := files[DefaultTargetPath]; ok {
		return DefaultTargetPath
	}
	for _, p := range sortedPaths(files) {
		if strings.HasSuffix(p, "/service.rs") {
			return p
		}
	}
	return DefaultTargetPath
}

// PickContent 返回目标路径的非空内容；没有时依次回退到任意 service.rs 文件、任意非空文件。
func PickContent(files map[string]string, target string) (string, bool) {
	if c := files[target]; strings.TrimSpace(c) != "" {
		return c, true
	}
	paths := sortedPaths(files)
	for _, p := range paths {
		if strings.HasSuffix(p, "service.rs") && strings.TrimSpace(files[p]) != "" {
			return files[p], true
		}
	}
	for _, p := range paths {
		if strings.TrimSpace(files[p]) != "" {
			return files[p], true
		}
	}
	return "", false
}

// MakeBranch 生成 "{prefix}/YYYYMMDD-HHMMSS" 形式的分支名。
func MakeBranch(prefix string, now time.Time) string {
	return fmt.Sprintf("%s/%s", prefix, now.Format("20060102-150405"))
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
