// Package substrate defines the Backend interface shared by the local
// container engine and the remote cluster, and the label/annotation key
// conventions used to recover Session state from substrate objects. Those
// keys are the persistence format: paude keeps no database, so everything
// listing needs must round-trip through them.
package substrate

import (
	"context"
	"fmt"
	"io"

	"github.com/paude/paude/internal/session"
)

// LabelPrefix namespaces every label/annotation paude writes onto a
// substrate object, local or remote.
const LabelPrefix = "paude.dev/"

const (
	LabelManagedBy = LabelPrefix + "managed-by"
	LabelSession   = LabelPrefix + "session"
	LabelComponent = LabelPrefix + "component"
	ManagedByValue = "paude"

	// AnnotationWorkspace stores the base64-encoded absolute workspace
	// path on the top-level session object (container label locally,
	// StatefulSet annotation remotely), so listing recovers it on a fresh
	// process with no other state.
	AnnotationWorkspace = LabelPrefix + "workspace"
	// AnnotationCreatedAt stores the session creation instant, RFC 3339.
	AnnotationCreatedAt = LabelPrefix + "created-at"
	// AnnotationRestricted records whether the session was created with
	// egress restriction, so a later invocation resuming it knows to
	// bring the proxy back.
	AnnotationRestricted = LabelPrefix + "network-restricted"
)

// Component label values distinguish the session workload from its
// supporting objects when selecting by label.
const (
	ComponentWorkload = "workload"
	ComponentProxy    = "proxy"
)

// SessionLabels returns the label set stamped on a session's workload
// object on either substrate.
func SessionLabels(name string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelSession:   name,
		LabelComponent: ComponentWorkload,
	}
}

// CreateSpec is the substrate-level request to materialize a session
// object. The Session Controller has already resolved the image tag,
// credential projection, and egress wiring before calling this; Create
// leaves the session not running (container created but not started,
// which the local backend reports as Pending; StatefulSet at zero
// replicas, which the remote backend reports as Stopped).
type CreateSpec struct {
	Session session.Session

	// Network names the confining engine network the workload joins.
	// Local substrate only; empty means the engine default. The remote
	// substrate confines by NetworkPolicy instead.
	Network string
}

// ExecOptions configures an interactive or batch exec into a running session.
type ExecOptions struct {
	Command []string
	Stdin   bool
	TTY     bool
}

// ExecStreams carries the I/O wired to the remote process. Stdin may be
// nil for non-interactive commands.
type ExecStreams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Resize, when non-nil, delivers terminal size updates for TTY execs
	// (an initial size followed by one update per window change). The
	// sender closes it when the terminal goes away.
	Resize <-chan TerminalSize
}

// TerminalSize is one terminal geometry update for a TTY exec.
type TerminalSize struct {
	Width  uint16
	Height uint16
}

// ExitError reports a nonzero exit from an exec'd process. Connect
// propagates the code unchanged as paude's own exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with status %d", e.Code)
}

// Backend is the substrate-agnostic verb set the Session Controller (C6)
// drives. Local implements it over the Docker/Podman engine API; Remote
// implements it over a Kubernetes-compatible apiserver.
type Backend interface {
	// Name identifies the substrate for logging and discovery ordering.
	Name() session.Backend

	// Ping verifies the substrate is reachable and authenticated.
	Ping(ctx context.Context) error

	// Create materializes the session object(s) in the stopped state and
	// returns the backend handle (container ID / StatefulSet name). A name
	// collision returns an errkind.ObjectExists error.
	Create(ctx context.Context, spec CreateSpec) (string, error)

	// Start transitions a created-but-stopped session toward Running.
	// Readiness is the controller's concern; Start returns as soon as the
	// substrate accepted the transition.
	Start(ctx context.Context, id string) error

	// Stop transitions a running session into Stopped. The session's
	// persistent volume is preserved.
	Stop(ctx context.Context, id string) error

	// Delete tears down the session object(s) and every backend-owned
	// resource that cascades from it (volume/PVC, credential objects,
	// network policy, proxy). Deleting what is already gone is not an
	// error; ObjectNotFound is reported only when none of the session's
	// primary objects remain.
	Delete(ctx context.Context, id string) error

	// Get resolves the current substrate-observed Phase/metadata for id.
	Get(ctx context.Context, id string) (session.Session, error)

	// List enumerates every session this backend knows about, including
	// legacy ephemeral objects (Session.Legacy == true) that predate the
	// persistent session-store schema.
	List(ctx context.Context) ([]session.Session, error)

	// Exec runs a command inside the session, streaming I/O per streams.
	// A nonzero exit surfaces as *ExitError.
	Exec(ctx context.Context, id string, opts ExecOptions, streams ExecStreams) error
}
