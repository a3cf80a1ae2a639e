package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"Ekronos-Agents/sdk/go/ekronos"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONLine(out io.Writer, v any) error {
	return json.NewEncoder(out).Encode(v)
}

func printRunResult(out io.Writer, result *ekronos.RunResult) {
	fmt.Fprintf(out, "trace %s → %s\n", result.TraceID, strings.Join(result.Targets, ", "))
	for _, step := range result.Steps {
		header := color.New(color.FgCyan, color.Bold).Sprint(step.Agent)
		if _, failed := step.Result["error"]; failed {
			header = color.New(color.FgRed, color.Bold).Sprint(step.Agent)
		}
		fmt.Fprintf(out, "\n== %s ==\n%s\n", header, strings.TrimSpace(step.Summary))
	}
	if len(result.Artifacts) == 0 {
		return
	}
	names := make([]string, 0, len(result.Artifacts))
	for name := range result.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(out, "\nartifacts: %s\n", strings.Join(names, ", "))
}

func printEvent(out io.Writer, ev ekronos.Event) {
	switch ev.Type {
	case "router_update":
		fmt.Fprintf(out, "%s %s\n", color.BlueString("route"), strings.Join(ev.Targets, ", "))
	case "agent_start":
		fmt.Fprintf(out, "%s %s\n", color.YellowString("start"), ev.Agent)
	case "agent_done":
		fmt.Fprintf(out, "%s %s %s\n", color.GreenString("done "), ev.Agent, elapsed(ev.ElapsedS))
	case "agent_error":
		fmt.Fprintf(out, "%s %s %s\n", color.RedString("error"), ev.Agent, ev.Error)
	case "progress_tick":
		names := make([]string, 0, len(ev.Agents))
		for name := range ev.Agents {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			p := ev.Agents[name]
			parts = append(parts, fmt.Sprintf("%s=%s(%.0fs)", name, p.Status, p.ElapsedS))
		}
		fmt.Fprintf(out, "%s %s\n", color.New(color.Faint).Sprint("tick "), strings.Join(parts, " "))
	case "done":
		fmt.Fprintf(out, "%s %s\n", color.New(color.Bold).Sprint("finished"), ev.TraceID)
	default:
		fmt.Fprintf(out, "%s %s\n", ev.Type, ev.Message)
	}
}

func statusLabel(status string) string {
	switch status {
	case "succeeded":
		return color.GreenString(status)
	case "failed":
		return color.RedString(status)
	case "running":
		return color.YellowString(status)
	default:
		return status
	}
}

func elapsed(s *float64) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("(%.1fs)", *s)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
