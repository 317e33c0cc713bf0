// Package egress implements the Egress Enforcement component (C4): a
// per-session forward proxy that is the session's only permitted path to
// the network, plus the substrate-level confinement that makes bypassing
// it impossible — a dedicated internal engine network locally, a
// NetworkPolicy selecting the proxy pods remotely.
//
// The proxy's own hostname allowlist lives in the proxy image; this
// package only builds and wires the proxy workload and the policy object.
package egress

import "strings"

// ProxyPort is the forward-proxy listen port. The protocol on it is
// plain HTTP CONNECT.
const ProxyPort = 3128

// LocalProxyName is the shared local proxy container, reused across
// sessions and process invocations.
const LocalProxyName = "paude-proxy"

// ProxyName returns the per-session proxy object name used on the remote
// substrate for both the Deployment and its Service.
func ProxyName(sessionName string) string {
	return "paude-proxy-" + sessionName
}

// PolicyName is deterministic per session.
func PolicyName(sessionName string) string {
	return "paude-egress-" + sessionName
}

// ProxyImage derives the proxy image reference from the workload image by
// substituting the component name and preserving the tag, which couples
// proxy and workload versions.
func ProxyImage(workloadImage string) string {
	if strings.Contains(workloadImage, "paude-claude") {
		return strings.Replace(workloadImage, "paude-claude", "paude-proxy", 1)
	}
	// Content-addressed session images keep their tag but swap the repo.
	if idx := strings.LastIndex(workloadImage, ":"); idx > strings.LastIndex(workloadImage, "/") {
		return "paude-proxy" + workloadImage[idx:]
	}
	return "paude-proxy:latest"
}

// ProxyAddress returns the address the workload's HTTP(S)_PROXY variables
// point at: the shared container name locally (resolvable on the internal
// network), the per-session Service DNS name remotely.
func ProxyAddress(backendRemote bool, sessionName, namespace string) string {
	if backendRemote {
		return ProxyName(sessionName) + "." + namespace + ".svc:3128"
	}
	return LocalProxyName + ":3128"
}
