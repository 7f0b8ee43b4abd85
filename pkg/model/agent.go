package model

// AgentType is the role tag of an autonomous agent.
type AgentType string

const (
	AgentPlanner  AgentType = "planner"
	AgentCoder    AgentType = "coder"
	AgentReviewer AgentType = "reviewer"
	AgentTester   AgentType = "tester"
	AgentOps      AgentType = "ops"
)

// AgentDescriptor identifies the agent submitting a change set. It is
// supplied per call and embedded in audit records; agents are not persisted
// as entities of their own.
type AgentDescriptor struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Type AgentType `json:"type"`
	// SuccessRate is the agent's historical success rate in [0,1].
	SuccessRate float64 `json:"success_rate"`
}
