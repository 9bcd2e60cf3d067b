package subagent

import (
	"github.com/trinity-os/trinity/pkg/llmclient"
	"github.com/trinity-os/trinity/pkg/tool"
)

// NewDefaultDispatcher returns a Dispatcher with the closed role set bound
// to its local/deterministic implementations, sharing one tool registry
// across the roles that invoke tools (auditor, merger) and the one role
// that installs them (toolsmith).
func NewDefaultDispatcher(llm llmclient.Client, tools *tool.Registry) (*Dispatcher, error) {
	d := NewDispatcher()
	if err := RegisterDefaultRoles(d, llm, tools); err != nil {
		return nil, err
	}
	return d, nil
}
