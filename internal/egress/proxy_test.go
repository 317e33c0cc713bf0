package egress

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestProxyImageDerivation(t *testing.T) {
	assert.Equal(t,
		ProxyImage("registry.example.com/paude-claude-amd64:1.4.2"),
		"registry.example.com/paude-proxy-amd64:1.4.2")
	assert.Equal(t, ProxyImage("paude-session:abcdef012345"), "paude-proxy:abcdef012345")
	assert.Equal(t, ProxyImage("plainimage"), "paude-proxy:latest")
}

func TestProxyAddress(t *testing.T) {
	assert.Equal(t, ProxyAddress(false, "demo", ""), "paude-proxy:3128")
	assert.Equal(t, ProxyAddress(true, "demo", "dev"), "paude-proxy-demo.dev.svc:3128")
}

func TestProxyNames(t *testing.T) {
	assert.Equal(t, ProxyName("demo"), "paude-proxy-demo")
	assert.Equal(t, PolicyName("demo"), "paude-egress-demo")
}
