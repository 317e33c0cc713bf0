package egress

import (
	"testing"

	networkingv1 "k8s.io/api/networking/v1"
	"gotest.tools/v3/assert"

	"github.com/paude/paude/internal/substrate"
)

func TestBuildNetworkPolicyDNSRuleHasEmptySelectorsTogether(t *testing.T) {
	policy := BuildNetworkPolicy("mysession", "paude", map[string]string{substrate.LabelSession: "mysession"})

	assert.Equal(t, len(policy.Spec.Egress), 2)

	dnsRule := policy.Spec.Egress[0]
	assert.Equal(t, len(dnsRule.To), 1)
	peer := dnsRule.To[0]
	assert.Assert(t, peer.PodSelector != nil)
	assert.Assert(t, peer.NamespaceSelector != nil)
	assert.Equal(t, len(peer.PodSelector.MatchLabels), 0)
	assert.Equal(t, len(peer.NamespaceSelector.MatchLabels), 0)
	assert.Assert(t, peer.IPBlock == nil, "DNS destinations must be selectors, not IP blocks")
}

func TestBuildNetworkPolicyDNSPortsIncludeMDNS(t *testing.T) {
	policy := BuildNetworkPolicy("s", "ns", nil)
	ports := policy.Spec.Egress[0].Ports
	assert.Equal(t, len(ports), 3)
	assert.Equal(t, ports[2].Port.IntValue(), 5353)
}

func TestBuildNetworkPolicyProxyRuleSelectsProxyPods(t *testing.T) {
	policy := BuildNetworkPolicy("s", "ns", nil)
	proxyRule := policy.Spec.Egress[1]
	assert.Equal(t, proxyRule.To[0].PodSelector.MatchLabels[substrate.LabelComponent], substrate.ComponentProxy)
	assert.Equal(t, proxyRule.Ports[0].Port.IntValue(), ProxyPort)
}

func TestBuildNetworkPolicyOnlyEgressPolicyType(t *testing.T) {
	policy := BuildNetworkPolicy("s", "ns", nil)
	assert.Equal(t, len(policy.Spec.PolicyTypes), 1)
	assert.Equal(t, policy.Spec.PolicyTypes[0], networkingv1.PolicyTypeEgress)
}

func TestBuildAllowAllPolicyHasSingleOpenRule(t *testing.T) {
	policy := BuildAllowAllPolicy("s", "ns", nil)
	assert.Equal(t, len(policy.Spec.Egress), 1)
	assert.Equal(t, len(policy.Spec.Egress[0].To), 0)
	assert.Equal(t, len(policy.Spec.Egress[0].Ports), 0)
}

func TestBuildProxyDeploymentShape(t *testing.T) {
	dep := BuildProxyDeployment("demo", "dev", "paude-proxy:1.0")
	assert.Equal(t, dep.Name, "paude-proxy-demo")
	assert.Equal(t, *dep.Spec.Replicas, int32(1))
	c := dep.Spec.Template.Spec.Containers[0]
	assert.Equal(t, c.Image, "paude-proxy:1.0")
	assert.Equal(t, c.Ports[0].ContainerPort, int32(ProxyPort))
	assert.Assert(t, c.ReadinessProbe != nil)
}

func TestBuildProxyServiceSelectsProxyPods(t *testing.T) {
	svc := BuildProxyService("demo", "dev")
	assert.Equal(t, svc.Spec.Selector[substrate.LabelComponent], substrate.ComponentProxy)
	assert.Equal(t, svc.Spec.Ports[0].Port, int32(ProxyPort))
}
