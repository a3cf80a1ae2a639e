package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"Ekronos-Agents/sdk/go/ekronos"
)

// runFlags 是 run 与 task submit 共用的请求参数。
type runFlags struct {
	constraints []string
	context     string
	agents      []string
	id          string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.constraints, "constraint", "c", nil, "constraint line, repeatable")
	cmd.Flags().StringVar(&f.context, "context", "", "JSON object passed to every agent")
	cmd.Flags().StringSliceVarP(&f.agents, "agent", "a", nil, "preferred agents, skipping keyword routing")
}

func (f *runFlags) request(goal string) (ekronos.RunRequest, error) {
	req := ekronos.RunRequest{
		ID:              f.id,
		Goal:            goal,
		PreferredAgents: f.agents,
	}
	if len(f.constraints) > 0 {
		req.Constraints = f.constraints
	}
	if strings.TrimSpace(f.context) != "" {
		if err := json.Unmarshal([]byte(f.context), &req.Context); err != nil {
			return req, fmt.Errorf("--context must be a JSON object: %w", err)
		}
	}
	return req, nil
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	flags := &runFlags{}
	var send bool
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run the orchestration and print every agent result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			req, err := flags.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			run := client.Run
			if send {
				run = client.RunAndSend
			}
			result, err := run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printRunResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&send, "send", false, "forward the vft_deployer payload to the gateway")
	return cmd
}

func newStreamCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <goal>",
		Short: "Stream orchestration progress events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return client.Stream(cmd.Context(), strings.Join(args, " "), func(ev ekronos.Event) error {
				if opts.json {
					return printJSONLine(out, ev)
				}
				printEvent(out, ev)
				return nil
			})
		},
	}
}

func newLiquidityCmd(opts *globalOptions) *cobra.Command {
	var rawContext string
	cmd := &cobra.Command{
		Use:   "liquidity <token>",
		Short: "Register liquidity for a deployed token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			req := ekronos.LiquidityRequest{Token: args[0]}
			if strings.TrimSpace(rawContext) != "" {
				if err := json.Unmarshal([]byte(rawContext), &req.Context); err != nil {
					return fmt.Errorf("--context must be a JSON object: %w", err)
				}
			}
			result, err := client.RegisterLiquidity(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), result)
			}
			out := cmd.OutOrStdout()
			registered := "null"
			if result.RegisteredToken != nil {
				registered = *result.RegisteredToken
			}
			fmt.Fprintf(out, "%s liquidity registered for %s (registered_token=%s)\n",
				color.GreenString("✓"), result.Token, registered)
			if result.Agent.Summary != "" {
				fmt.Fprintln(out, result.Agent.Summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawContext, "context", "", "JSON object passed to the liquidity agent")
	return cmd
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is healthy\n", color.GreenString("✓"), opts.server)
			return nil
		},
	}
}

func (o *globalOptions) client() (*ekronos.Client, error) {
	// 流式命令可能持续数分钟，不设置整体超时，由信号取消。
	return ekronos.NewClient(o.server, &http.Client{})
}
