package credentials

import (
	"context"

	"github.com/paude/paude/internal/session"
)

// LocalProjector satisfies the controller's credential dependency for the
// local substrate: resolve the allowlist against the host home and record
// the bind-mount map on the session.
type LocalProjector struct {
	Home string
}

func (p *LocalProjector) Project(ctx context.Context, s *session.Session) error {
	s.Config.Credentials = Project(p.Home)
	return nil
}

// ClusterProjector resolves the allowlist and materializes it as cluster
// objects before the session's StatefulSet references them.
type ClusterProjector struct {
	Home   string
	Remote *RemoteProjector
}

func (p *ClusterProjector) Project(ctx context.Context, s *session.Session) error {
	resolved := Resolve(p.Home, session.DefaultCredentialAllowlist())

	allowlist := make(map[string]string, len(resolved))
	for _, r := range resolved {
		allowlist[r.Source] = r.Dest
	}
	s.Config.Credentials = session.CredentialProjection{Allowlist: allowlist}

	if len(resolved) == 0 {
		return nil
	}
	return p.Remote.Apply(ctx, s.Name, resolved)
}
