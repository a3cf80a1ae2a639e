package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFiles(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want map[string]string
	}{
		{"nil", nil, map[string]string{}},
		{"plain map", map[string]any{"a.rs": "A", "skip": 1}, map[string]string{"a.rs": "A"}},
		{"content objects", map[string]any{"a.rs": map[string]any{"content": "A"}}, map[string]string{"a.rs": "A"}},
		{"list", []any{
			map[string]any{"path": "a.rs", "content": "A"},
			map[string]any{"file": "b.rs", "content": "B"},
			map[string]any{"name": "c.rs", "content": "C"},
			map[string]any{"path": "d.rs"},
			"junk",
		}, map[string]string{"a.rs": "A", "b.rs": "B", "c.rs": "C"}},
		{"json string", `{"a.rs": "A"}`, map[string]string{"a.rs": "A"}},
		{"json list string", ` [{"path": "a.rs", "content": "A"}] `, map[string]string{"a.rs": "A"}},
		{"broken json string", `{"a.rs": `, map[string]string{}},
		{"number", 42, map[string]string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeFiles(tc.in))
		})
	}
}

func TestChooseTargetPath(t *testing.T) {
	assert.Equal(t, DefaultTargetPath, ChooseTargetPath(nil))
	assert.Equal(t, DefaultTargetPath, ChooseTargetPath(map[string]string{
		"counter/src/service.rs": "x", DefaultTargetPath: "y",
	}))
	assert.Equal(t, "counter/src/service.rs", ChooseTargetPath(map[string]string{
		"counter/src/service.rs": "x", "README.md": "y",
	}))
	assert.Equal(t, DefaultTargetPath, ChooseTargetPath(map[string]string{"lib.rs": "x"}))
}

func TestPickContent(t *testing.T) {
	files := map[string]string{"README.md": "readme", "x/service.rs": "svc", DefaultTargetPath: "  "}
	got, ok := PickContent(files, DefaultTargetPath)
	assert.True(t, ok)
	assert.Equal(t, "svc", got)

	got, ok = PickContent(map[string]string{"README.md": "readme"}, DefaultTargetPath)
	assert.True(t, ok)
	assert.Equal(t, "readme", got)

	_, ok = PickContent(map[string]string{"a": " "}, "a")
	assert.False(t, ok)
}

func TestMaybeJSON(t *testing.T) {
	assert.Equal(t, "plain", MaybeJSON("plain"))
	assert.Equal(t, map[string]any{"a": "b"}, MaybeJSON(`{"a":"b"}`))
	assert.Equal(t, 3, MaybeJSON(3))
}
