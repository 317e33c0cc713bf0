package local

import (
	"strings"
	"time"

	"github.com/docker/docker/api/types"

	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// phaseFromState maps the engine's container state string onto a Phase.
func phaseFromState(state string) session.Phase {
	switch state {
	case "running", "restarting":
		return session.PhaseRunning
	case "created", "paused":
		return session.PhasePending
	case "exited", "dead":
		return session.PhaseStopped
	case "removing":
		return session.PhaseDeleting
	default:
		return session.PhaseError
	}
}

// sessionFromLabels rebuilds what listing needs from the label set: the
// session name, the decoded workspace path, and the creation instant. A
// label set some other tool wrote (or a damaged one) degrades to empty
// fields rather than an error.
func sessionFromLabels(labels map[string]string) session.Session {
	workspace, _ := session.DecodeWorkspace(labels[substrate.AnnotationWorkspace])
	return session.Session{
		Name:      labels[substrate.LabelSession],
		Backend:   session.BackendLocal,
		CreatedAt: session.ParseCreatedAt(labels[substrate.AnnotationCreatedAt]),
		Config: session.SessionConfig{
			Name:              labels[substrate.LabelSession],
			WorkspaceDir:      workspace,
			Backend:           session.BackendLocal,
			NetworkRestricted: labels[substrate.AnnotationRestricted] == "true",
		},
	}
}

func inspectToSession(info types.ContainerJSON) session.Session {
	s := sessionFromLabels(info.Config.Labels)
	s.ID = info.ID
	s.Phase = phaseFromState(info.State.Status)
	s.ImageTag = info.Config.Image
	if s.CreatedAt.IsZero() {
		if created, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
			s.CreatedAt = created
		}
	}
	if s.Name == "" && info.Name != "" {
		s.Name = strings.TrimPrefix(strings.TrimPrefix(info.Name, "/"), "paude-")
	}
	return s
}

func summaryToSession(c types.Container) session.Session {
	s := sessionFromLabels(c.Labels)
	s.ID = c.ID
	s.Phase = phaseFromState(c.State)
	s.ImageTag = c.Image
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Unix(c.Created, 0)
	}
	return s
}
