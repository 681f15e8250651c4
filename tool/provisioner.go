package tool

import "github.com/hupe1980/channelmesh/core"

// Provisioner maps an agent's capability class to the tools it may call.
// Only research-capable agents receive tools; every other agent, the default
// coordinator included, gets none and must delegate instead.
type Provisioner struct {
	research []Tool
}

// NewProvisioner creates a Provisioner granting research to research-capable agents.
func NewProvisioner(research ...Tool) *Provisioner {
	return &Provisioner{research: research}
}

// ToolsFor returns the tool set of agent. The returned slice is a copy.
func (p *Provisioner) ToolsFor(agent core.Agent) []Tool {
	if p == nil || !agent.Class.ResearchCapable() || len(p.research) == 0 {
		return nil
	}
	return append([]Tool(nil), p.research...)
}
