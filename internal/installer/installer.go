// Package installer defines the contract between the launcher and the
// game content engine: the engine downloads, verifies and places game
// content, then runs the game process, reporting everything through a
// single stream of tagged events.
package installer

import "context"

// EventKind tags the union below.
type EventKind int

const (
	// EventExtract signals an archive extraction step.
	EventExtract EventKind = iota
	// EventProgress reports download progress (Task of Total).
	EventProgress
	// EventCheck reports verification progress (Task of Total).
	EventCheck
	// EventPatch signals a loader patch step.
	EventPatch
	// EventSpeed reports the current transfer rate in bytes/s.
	EventSpeed
	// EventData carries raw textual output from the engine or the game
	// process. Payload shape varies by source; see Event.Data.
	EventData
	// EventClose reports the game process exit code.
	EventClose
	// EventError reports a failure. Payload shape varies; see Event.Err.
	EventError
)

// Event is the tagged union every engine signal is delivered as. Engines
// of different vintages populate Data and Err with different shapes
// (plain strings, errors, structured payloads); consumers normalize at
// their own boundary.
type Event struct {
	Kind  EventKind
	Task  int64
	Total int64
	Speed int64 // bytes/s, EventSpeed only
	Code  int   // EventClose only
	Data  any   // EventData only
	Err   any   // EventError only
}

// Handler receives engine events. Called sequentially from the engine's
// own goroutine; it must not block for long.
type Handler func(Event)

// Credentials identifies the player to the game and its server.
type Credentials struct {
	Username     string
	UUID         string
	AccessToken  string
	TokenExpires int64
	IsAdmin      bool
}

// Loader identifies the mod loader the instance runs on.
type Loader struct {
	Type  string
	Build string
}

// Memory is the JVM heap range in megabytes.
type Memory struct {
	MinMB int
	MaxMB int
}

// Screen is the initial game window size.
type Screen struct {
	Width  int
	Height int
}

// Options is the full launch configuration handed to an engine.
type Options struct {
	// ManifestURL lists the content the instance is made of.
	ManifestURL string
	// BasePath is the engine's working root; instances, versions and
	// shared libraries live beneath it.
	BasePath string
	// Instance names the directory the game runs in under BasePath.
	Instance string
	Version  string
	Loader   Loader

	Credentials Credentials

	// JavaPath overrides the bundled runtime when non-empty.
	JavaPath string
	JVMArgs  []string
	GameArgs []string
	Memory   Memory
	Screen   Screen

	// Verify re-hashes files that already exist locally.
	Verify bool
	// Ignored paths (relative to the instance dir) are never deleted by
	// reconciliation: they are player-generated, not managed content.
	Ignored []string
}

// Installer runs one launch attempt. Launch blocks until the game process
// exits or the attempt fails; events flow to the handler the whole time.
// Kill asks a running attempt to terminate and returns immediately.
type Installer interface {
	Launch(ctx context.Context, opts Options) error
	Kill()
}

// Factory builds a fresh Installer for one launch attempt, wired to the
// given event handler. Construction may fail synchronously, before any
// work starts.
type Factory func(handler Handler) (Installer, error)
