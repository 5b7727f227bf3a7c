// Package world is the per-world agent orchestration core.
//
// A World owns one Bus and a set of Agents. Every agent subscribes to the bus
// through an AgentRuntime, which decides whether the agent should respond to
// a message, enforces the per-chat turn limit, and drives the Orchestrator:
// a bounded loop that calls the LLM, executes tools, and suspends when a tool
// needs human approval.
//
// Every operation that reads or writes agent memory takes an explicit chat
// id. Turns for the same (agent, chat) pair run strictly in arrival order on
// a lane; different chats and different agents run concurrently.
//
// Approvals are durable. A tool call waiting for approval is recorded on the
// assistant message that requested it, and a later ToolResolution resumes
// the turn, possibly after a restart. A resolution is honored only when its
// tool call id exists, still pending, in the target agent's own memory.
package world
