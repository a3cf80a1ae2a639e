package schema

import "strings"

// PR 校验 smart_program 产出的 {"pr": {...}, "files": {...}} 载荷，并拒绝越界路径。
func PR(payload map[string]any) (bool, string) {
	files, ok := payload["files"].(map[string]any)
	if !ok {
		return false, "Missing 'files' dict."
	}
	pr, ok := payload["pr"].(map[string]any)
	if !ok {
		return false, "Missing 'pr' dict."
	}
	if !nonEmpty(pr["title"]) {
		return false, "Missing 'pr.title' string."
	}
	if !nonEmpty(pr["body"]) {
		return false, "Missing 'pr.body' string."
	}
	if v, present := pr["base"]; present {
		if _, ok := v.(string); !ok {
			return false, "'pr.base' must be string if provided."
		}
	}
	if v, present := pr["branch"]; present {
		if _, ok := v.(string); !ok {
			return false, "'pr.branch' must be string if provided."
		}
	}

	for _, path := range sortedKeys(files) {
		if _, ok := files[path].(string); !ok {
			return false, "All file paths and contents in 'files' must be strings."
		}
		if HasTraversal(path) {
			return failf("Forbidden path traversal in file path: %s", path)
		}
		if strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
			return failf("Absolute paths are not allowed: %s", path)
		}
	}
	return true, OK
}

// HasTraversal 判断路径（兼容反斜杠）是否包含 ".." 段。
func HasTraversal(path string) bool {
	for _, seg := range strings.Split(strings.ReplaceAll(path, `\`, "/"), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func nonEmpty(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}
