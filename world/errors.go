package world

import "errors"

var (
	// ErrTurnLimit is returned when an agent has used its LLM call budget in
	// a chat. It ends the turn without an LLM call.
	ErrTurnLimit = errors.New("turn limit reached")

	// ErrMaxIterations is returned when a turn hits the iteration cap
	// without producing a text reply.
	ErrMaxIterations = errors.New("maximum tool iterations reached")

	// ErrNotOwner means a resolution names a tool call that is not in the
	// target agent's memory.
	ErrNotOwner = errors.New("tool call not found in agent memory")

	// ErrAlreadyResolved means the tool call has already completed.
	ErrAlreadyResolved = errors.New("tool call already resolved")

	// ErrResolutionMismatch means a resolution's claims disagree with the
	// recorded tool call.
	ErrResolutionMismatch = errors.New("resolution does not match recorded tool call")

	ErrUnknownAgent = errors.New("unknown agent")
	ErrUnknownTool  = errors.New("unknown tool")
	ErrWorldClosed  = errors.New("world is closed")
	ErrWorldExists  = errors.New("world already exists")
	ErrUnknownWorld = errors.New("unknown world")
	ErrMissingChat  = errors.New("chat id is required")

	// ErrOutsideWorkingDirectory is returned for paths that leave the
	// working directory of a tool that runs without approval.
	ErrOutsideWorkingDirectory = errors.New("path is outside the working directory")

	// ErrNotFound is returned by MemoryStore lookups that find nothing.
	ErrNotFound = errors.New("not found")
)
