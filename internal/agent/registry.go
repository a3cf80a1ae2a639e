package agent

import (
	"fmt"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/knowledge"
	"Ekronos-Agents/internal/llm"
)

// Registry 是进程启动时构建、之后只读的 agent 名称表。
type Registry struct {
	order  []string
	agents map[string]Agent
}

// NewRegistry 按传入顺序登记 agent，重名时后者覆盖前者。
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if a == nil {
			continue
		}
		if _, exists := r.agents[a.Name()]; !exists {
			r.order = append(r.order, a.Name())
		}
		r.agents[a.Name()] = a
	}
	return r
}

// Get 返回指定名称的 agent。
func (r *Registry) Get(name string) (Agent, error) {
	if a, ok := r.agents[name]; ok {
		return a, nil
	}
	return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown agent: %s", name))
}

// Has 判断是否登记了该名称。
func (r *Registry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// Names 以登记顺序返回全部 agent 名称。
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// ModelFunc 根据 agent 名称返回其模型名。
type ModelFunc func(agent string) string

func modelOpt(models ModelFunc, name string) Option {
	if models == nil {
		return nil
	}
	return WithModel(models(name))
}

// StudioRegistry 构建 studio 部署的五个 agent。
func StudioRegistry(client llm.Client, models ModelFunc, training knowledge.Provider, opts ...Option) *Registry {
	with := func(name string, extra ...Option) []Option {
		out := append([]Option{modelOpt(models, name)}, opts...)
		return append(out, extra...)
	}
	return NewRegistry(
		NewSmartProgram(client, with(SmartProgram, WithTraining(training))...),
		NewFrontend(client, with(Frontend)...),
		NewServer(client, with(Server)...),
		NewIndexer(client, with(Indexer)...),
		NewEconomy(client, with(Economy)...),
	)
}

// DeployerRegistry 构建 deployer 部署的两个 agent。
func DeployerRegistry(client llm.Client, models ModelFunc, opts ...Option) *Registry {
	with := func(name string) []Option {
		return append([]Option{modelOpt(models, name)}, opts...)
	}
	return NewRegistry(
		NewVFTDeployer(client, with(VFTDeployer)...),
		NewLiquidity(client, with(Liquidity)...),
	)
}
