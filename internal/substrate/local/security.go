package local

import (
	"github.com/docker/docker/api/types/container"
)

// Tier represents the level of container hardening applied to a session
// container. Egress confinement assumes the container cannot reroute
// around its network namespace, so NET_ADMIN and NET_RAW never survive
// the hardened tier.
type Tier string

const (
	// TierHardened drops SYS_ADMIN, SYS_MODULE, SYS_PTRACE, NET_ADMIN,
	// NET_RAW. May break ptrace-based debuggers inside the session.
	TierHardened Tier = "hardened"
	// TierModerate drops only SYS_ADMIN and SYS_MODULE. Compatible with
	// most dev images; this is the default.
	TierModerate Tier = "moderate"
	// TierCompat applies no-new-privileges only, no capability drops.
	TierCompat Tier = "compat"
)

func (t Tier) capDrops() []string {
	switch t {
	case TierHardened:
		return []string{"SYS_ADMIN", "SYS_MODULE", "SYS_PTRACE", "NET_ADMIN", "NET_RAW"}
	case TierModerate:
		return []string{"SYS_ADMIN", "SYS_MODULE"}
	default:
		return nil
	}
}

// applyTier sets the HostConfig security fields for the given tier.
func applyTier(hc *container.HostConfig, t Tier) {
	if t == "" {
		t = TierModerate
	}
	hc.CapDrop = t.capDrops()
	hc.SecurityOpt = []string{"no-new-privileges"}
}
