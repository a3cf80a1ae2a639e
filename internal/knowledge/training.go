// Package knowledge loads the per-agent training corpus that is prepended to
// agent prompts.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// 训练语料缺失时注入提示词的占位文本。
const (
	NotConfigured = "(No training data configured for this agent.)"
	NoFiles       = "(No training .txt files found.)"
)

const (
	defaultMaxFiles = 12
	defaultMaxChars = 20000
	// 截断时剩余配额不足该值则直接丢弃最后一个文件。
	minTrimmedChars = 200
	trimMarker      = "\n\n[...trimmed...]\n"
)

// Provider 返回某个 agent 的训练语料文本。
type Provider interface {
	Training(agent string) (string, error)
}

// DirProvider 按 agent 名称映射到本地目录，每次调用都重新读取磁盘。
type DirProvider struct {
	dirs     map[string]string
	maxFiles int
	maxChars int
}

// NewDirProvider 创建目录型语料提供者，非正数的限制使用默认值 12 个文件 / 20000 字符。
func NewDirProvider(dirs map[string]string, maxFiles, maxChars int) *DirProvider {
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	clone := make(map[string]string, len(dirs))
	for k, v := range dirs {
		clone[k] = v
	}
	return &DirProvider{dirs: clone, maxFiles: maxFiles, maxChars: maxChars}
}

// Training 实现 Provider。未配置目录时返回 NotConfigured。
func (p *DirProvider) Training(agent string) (string, error) {
	if p == nil {
		return NotConfigured, nil
	}
	dir := strings.TrimSpace(p.dirs[agent])
	if dir == "" {
		return NotConfigured, nil
	}
	return LoadDir(dir, p.maxFiles, p.maxChars)
}

// LoadDir 读取目录下按文件名排序的前 maxFiles 个 .txt 文件，拼接为
// "--- FILE: name ---" 分段文本，总长度（按字符计）不超过 maxChars。
func LoadDir(dir string, maxFiles, maxChars int) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("training directory not found: %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read training directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) > maxFiles {
		names = names[:maxFiles]
	}

	var (
		b     strings.Builder
		total int
	)
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("read training file %s: %w", name, err)
		}
		content := strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
		piece := []rune("\n\n--- FILE: " + name + " ---\n" + content)

		if total+len(piece) > maxChars {
			remaining := maxChars - total
			if remaining > minTrimmedChars {
				b.WriteString(string(piece[:remaining]))
				b.WriteString(trimMarker)
			}
			break
		}
		b.WriteString(string(piece))
		total += len(piece)
	}

	if b.Len() == 0 {
		return NoFiles, nil
	}
	return b.String(), nil
}
