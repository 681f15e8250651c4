// Package core provides the foundational domain types and collaborator
// contracts used by channelmesh. It defines:
//
//   - Agents, channel memberships and messages
//   - The closed StreamEvent taxonomy produced by model-serving backends
//   - InvocationContext (the read-only snapshot one delegation branch works on)
//   - ToolContext (scoped execution surface for tool implementations)
//   - Store interfaces (MessageStore, AgentDirectory, IdempotencyLedger)
//
// Persistence engines, model providers and the orchestration loop live in
// other packages and depend on the small interfaces declared here.
package core
