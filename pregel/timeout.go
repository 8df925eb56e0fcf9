package pregel

import "time"

// getNodeTimeout determines the timeout duration for a task attempt by
// precedence: the node's own NodePolicy.Timeout overrides the engine-wide
// default; 0 means unlimited.
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}
