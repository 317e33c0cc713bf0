// Package session defines the data model shared by both substrates: the
// Session record itself, its configuration and build inputs, the egress
// proxy and credential projection descriptors, and the lifecycle phases
// the Session Controller drives a session through.
package session

import "time"

// Backend names the substrate a Session is materialized on.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// Phase is the lifecycle state of a Session. Transitions are driven
// exclusively by the Session Controller (internal/controller); nothing else
// mutates a Session's Phase directly.
type Phase string

const (
	PhasePending  Phase = "pending" // workload object exists but is not yet ready
	PhaseRunning  Phase = "running"
	PhaseStopped  Phase = "stopped" // workload scaled to zero or exited; volume preserved
	PhaseDeleting Phase = "deleting"
	PhaseError    Phase = "error"
)

// IsActive reports whether the session currently occupies compute resources.
func (p Phase) IsActive() bool {
	return p == PhaseRunning || p == PhasePending
}

// Terminal reports whether no further automatic transition is expected.
func (p Phase) Terminal() bool {
	return p == PhaseStopped || p == PhaseError
}

// BuildInputs is the content that determines an image's cache key (see
// internal/image for the hash function). Two sessions with identical
// BuildInputs share a materialized image.
type BuildInputs struct {
	ConfigFile    string // session config file contents consumed by the build
	DockerfileTxt string // literal Dockerfile contents, empty if using BaseImage directly
	BaseImage     string
	EntrypointTxt string // literal entrypoint script contents
	WorkspaceHash string // non-empty only when the build copies workspace contents into the image
	Version       string // paude's own version, so upgrades bust the cache
}

// CredentialProjection describes which host credential files are made
// available inside the session and where.
type CredentialProjection struct {
	// Allowlist maps a source path under $HOME to an in-session destination
	// path. Entries whose source is absent on the host are silently skipped.
	Allowlist map[string]string
}

// DefaultCredentialAllowlist is the fixed set of files the projector will
// look for under $HOME. Nothing outside this list is ever read; in
// particular none of the logs, project history, or caches that live next
// to these files.
func DefaultCredentialAllowlist() map[string]string {
	return map[string]string{
		".claude.json":             "/tmp/claude.seed/.claude.json",
		".claude/settings.json":    "/tmp/claude.seed/settings.json",
		".claude/credentials.json": "/tmp/claude.seed/credentials.json",
		".claude/statsig.json":     "/tmp/claude.seed/statsig.json",
		".gitconfig":               "/home/paude/.gitconfig",
		".config/gcloud/application_default_credentials.json": "/home/paude/.config/gcloud/application_default_credentials.json",
		".config/gcloud/credentials.db":                       "/home/paude/.config/gcloud/credentials.db",
		".config/gcloud/access_tokens.db":                     "/home/paude/.config/gcloud/access_tokens.db",
	}
}

// Sensitive reports whether the allowlist source path holds secret
// material. The remote projector stores sensitive files in a Secret and
// the rest in a ConfigMap.
func Sensitive(rel string) bool {
	return rel != ".gitconfig"
}

// EgressProxy describes the proxy workload that confines a session's
// outbound network traffic.
type EgressProxy struct {
	Image  string
	Listen string // proxy address the workload dials, e.g. "paude-proxy:3128"
}

// SessionConfig is the value object a session is created from. The
// config-file reader that produces it is upstream of this package; the
// core only consumes the parsed result.
type SessionConfig struct {
	Name         string
	WorkspaceDir string // absolute host path bound/synced into the session
	Backend      Backend
	Build        BuildInputs
	Credentials  CredentialProjection
	Egress       EgressProxy

	Env     map[string]string // extra environment for the workload
	Args    []string          // assistant argument vector, serialized into PAUDE_CLAUDE_ARGS
	Workdir string            // in-session working directory, local substrate only; defaults to the workspace mount

	NetworkRestricted bool // false only when the user passed --allow-network
	Yolo              bool // injects --dangerously-skip-permissions into the assistant args

	CredentialTimeoutMinutes int // watchdog window passed as PAUDE_CREDENTIAL_TIMEOUT; 0 disables

	PVCSize      string // remote-only: workspace volume size, e.g. "50Gi"
	StorageClass string // remote-only: storage class name for the workspace PVC
	Namespace    string // remote-only: cluster namespace
	Context      string // remote-only: kubeconfig context name
}

// ClaudeArgs returns the assistant argument vector with the yolo flag
// injected at the front when set. The result is space-joined into
// PAUDE_CLAUDE_ARGS by the backends; the entrypoint re-splits it.
func (c SessionConfig) ClaudeArgs() []string {
	if !c.Yolo {
		return c.Args
	}
	return append([]string{"--dangerously-skip-permissions"}, c.Args...)
}

// Session is the substrate-agnostic record of a single isolated assistant
// session. Sessions are never persisted by paude itself: local sessions
// are recovered from container labels, remote ones from StatefulSet
// labels and annotations.
type Session struct {
	ID        string
	Name      string
	Backend   Backend
	Phase     Phase
	Config    SessionConfig
	ImageTag  string // resolved, content-addressed image reference
	CreatedAt time.Time
	Legacy    bool // pre-StatefulSet ephemeral remote pod; list/delete only
	LastError string
}
