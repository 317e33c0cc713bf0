package local

import (
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"gotest.tools/v3/assert"

	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

func TestPhaseFromState(t *testing.T) {
	assert.Equal(t, phaseFromState("running"), session.PhaseRunning)
	assert.Equal(t, phaseFromState("created"), session.PhasePending)
	assert.Equal(t, phaseFromState("exited"), session.PhaseStopped)
	assert.Equal(t, phaseFromState("dead"), session.PhaseStopped)
	assert.Equal(t, phaseFromState("removing"), session.PhaseDeleting)
	assert.Equal(t, phaseFromState("zombie"), session.PhaseError)
}

func TestSummaryToSessionRecoversWorkspaceFromLabels(t *testing.T) {
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	c := types.Container{
		ID:    "abc123",
		State: "exited",
		Image: "paude-session:deadbeef0123",
		Labels: map[string]string{
			substrate.LabelManagedBy:       substrate.ManagedByValue,
			substrate.LabelSession:         "widget-a1b2c3",
			substrate.AnnotationWorkspace:  session.EncodeWorkspace("/home/dev/widget"),
			substrate.AnnotationCreatedAt:  session.FormatCreatedAt(created),
			substrate.AnnotationRestricted: "true",
		},
	}

	s := summaryToSession(c)
	assert.Equal(t, s.Name, "widget-a1b2c3")
	assert.Equal(t, s.Phase, session.PhaseStopped)
	assert.Equal(t, s.Config.WorkspaceDir, "/home/dev/widget")
	assert.Equal(t, s.CreatedAt, created)
	assert.Assert(t, s.Config.NetworkRestricted)
}

func TestSummaryToSessionToleratesMissingLabels(t *testing.T) {
	s := summaryToSession(types.Container{ID: "x", State: "running", Created: 100})
	assert.Equal(t, s.Phase, session.PhaseRunning)
	assert.Equal(t, s.Config.WorkspaceDir, "")
	assert.Equal(t, s.CreatedAt, time.Unix(100, 0))
}

func TestBuildEnvContract(t *testing.T) {
	s := session.Session{
		Name: "demo",
		Config: session.SessionConfig{
			WorkspaceDir:             "/home/dev/demo",
			Args:                     []string{"--continue"},
			Yolo:                     true,
			NetworkRestricted:        true,
			CredentialTimeoutMinutes: 30,
			Egress:                   session.EgressProxy{Listen: "paude-proxy:3128"},
			Env:                      map[string]string{"PAUDE_VENV_PATHS": "/pvc/venv"},
		},
	}

	env := buildEnv(s)
	assert.Assert(t, contains(env, "PAUDE_CLAUDE_ARGS=--dangerously-skip-permissions --continue"))
	assert.Assert(t, contains(env, "PAUDE_WORKSPACE=/home/dev/demo"))
	assert.Assert(t, contains(env, "PAUDE_CREDENTIAL_TIMEOUT=30"))
	assert.Assert(t, contains(env, "HTTPS_PROXY=http://paude-proxy:3128"))
	assert.Assert(t, contains(env, "http_proxy=http://paude-proxy:3128"))
	assert.Assert(t, contains(env, "PAUDE_VENV_PATHS=/pvc/venv"))
}

func TestBuildEnvUnrestrictedOmitsProxy(t *testing.T) {
	s := session.Session{
		Name: "demo",
		Config: session.SessionConfig{
			WorkspaceDir: "/home/dev/demo",
			Egress:       session.EgressProxy{Listen: "paude-proxy:3128"},
		},
	}
	for _, v := range buildEnv(s) {
		assert.Assert(t, v != "HTTP_PROXY=http://paude-proxy:3128")
	}
}

func TestNamingScheme(t *testing.T) {
	assert.Equal(t, ContainerName("demo"), "paude-demo")
	assert.Equal(t, VolumeName("demo"), "paude-demo-workspace")
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
