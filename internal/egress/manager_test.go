package egress

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"gotest.tools/v3/assert"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/paude/paude/internal/session"
)

func restrictedSession(name string) session.Session {
	return session.Session{
		Name:     name,
		ImageTag: "paude-claude-amd64:1.0",
		Config:   session.SessionConfig{Name: name, NetworkRestricted: true},
	}
}

func TestRemoteManagerEnsureCreatesPolicyAndProxy(t *testing.T) {
	cl := fake.NewClientBuilder().Build()
	m := &RemoteManager{Applier: &Applier{Client: cl, Namespace: "dev"}}
	ctx := context.Background()

	assert.NilError(t, m.Ensure(ctx, restrictedSession("demo")))

	policy := &networkingv1.NetworkPolicy{}
	assert.NilError(t, cl.Get(ctx, client.ObjectKey{Namespace: "dev", Name: PolicyName("demo")}, policy))
	assert.Equal(t, len(policy.Spec.Egress), 2)

	dep := &appsv1.Deployment{}
	assert.NilError(t, cl.Get(ctx, client.ObjectKey{Namespace: "dev", Name: ProxyName("demo")}, dep))
	assert.Equal(t, dep.Spec.Template.Spec.Containers[0].Image, "paude-proxy-amd64:1.0")

	svc := &corev1.Service{}
	assert.NilError(t, cl.Get(ctx, client.ObjectKey{Namespace: "dev", Name: ProxyName("demo")}, svc))
}

func TestRemoteManagerEnsureUnrestrictedInstallsAllowAll(t *testing.T) {
	cl := fake.NewClientBuilder().Build()
	m := &RemoteManager{Applier: &Applier{Client: cl, Namespace: "dev"}}
	ctx := context.Background()

	s := restrictedSession("open")
	s.Config.NetworkRestricted = false
	assert.NilError(t, m.Ensure(ctx, s))

	policy := &networkingv1.NetworkPolicy{}
	assert.NilError(t, cl.Get(ctx, client.ObjectKey{Namespace: "dev", Name: PolicyName("open")}, policy))
	assert.Equal(t, len(policy.Spec.Egress), 1)
	assert.Equal(t, len(policy.Spec.Egress[0].To), 0)

	dep := &appsv1.Deployment{}
	err := cl.Get(ctx, client.ObjectKey{Namespace: "dev", Name: ProxyName("open")}, dep)
	assert.Assert(t, err != nil, "no proxy deployment for an unrestricted session")
}

func TestRemoteManagerEnsureIsIdempotent(t *testing.T) {
	cl := fake.NewClientBuilder().Build()
	m := &RemoteManager{Applier: &Applier{Client: cl, Namespace: "dev"}}
	ctx := context.Background()

	assert.NilError(t, m.Ensure(ctx, restrictedSession("demo")))
	assert.NilError(t, m.Ensure(ctx, restrictedSession("demo")))
}

func TestRemoteManagerReady(t *testing.T) {
	cl := fake.NewClientBuilder().Build()
	m := &RemoteManager{Applier: &Applier{Client: cl, Namespace: "dev"}}
	ctx := context.Background()
	s := restrictedSession("demo")

	assert.NilError(t, m.Ensure(ctx, s))
	ready, err := m.Ready(ctx, s)
	assert.NilError(t, err)
	assert.Assert(t, !ready, "proxy with no ready replicas is not ready")

	dep := &appsv1.Deployment{}
	assert.NilError(t, cl.Get(ctx, client.ObjectKey{Namespace: "dev", Name: ProxyName("demo")}, dep))
	dep.Status.ReadyReplicas = 1
	assert.NilError(t, cl.Status().Update(ctx, dep))

	ready, err = m.Ready(ctx, s)
	assert.NilError(t, err)
	assert.Assert(t, ready)
}

func TestRemoteManagerReadyUnrestrictedIsImmediate(t *testing.T) {
	m := &RemoteManager{Applier: &Applier{Client: fake.NewClientBuilder().Build(), Namespace: "dev"}}
	s := restrictedSession("open")
	s.Config.NetworkRestricted = false
	ready, err := m.Ready(context.Background(), s)
	assert.NilError(t, err)
	assert.Assert(t, ready)
}

func TestRemoteManagerTeardownIsIdempotent(t *testing.T) {
	cl := fake.NewClientBuilder().Build()
	m := &RemoteManager{Applier: &Applier{Client: cl, Namespace: "dev"}}
	ctx := context.Background()

	assert.NilError(t, m.Ensure(ctx, restrictedSession("demo")))
	assert.NilError(t, m.Teardown(ctx, restrictedSession("demo")))
	assert.NilError(t, m.Teardown(ctx, restrictedSession("demo")))
}

func TestLocalManagerNetworkOnlyWhenRestricted(t *testing.T) {
	m := &LocalManager{}
	assert.Equal(t, m.Network(restrictedSession("demo")), NetworkName)

	open := restrictedSession("demo")
	open.Config.NetworkRestricted = false
	assert.Equal(t, m.Network(open), "")
}

func TestManagerAddresses(t *testing.T) {
	lm := &LocalManager{}
	assert.Equal(t, lm.Address(restrictedSession("demo")), "paude-proxy:3128")

	rm := &RemoteManager{Applier: &Applier{Namespace: "dev"}}
	assert.Equal(t, rm.Address(restrictedSession("demo")), "paude-proxy-demo.dev.svc:3128")
}

func TestLocalManagerStopOnExitOnlyWhenStarted(t *testing.T) {
	// A manager whose Ensure never started the proxy must not touch the
	// engine at exit; a nil client makes any attempt to do so panic.
	m := &LocalManager{}
	assert.NilError(t, m.StopOnExit(context.Background()))
}
