package pregel

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// computeTaskID derives a deterministic task id so that re-planning the
// same superstep (e.g. during Resume) always produces the same task
// identities, which in turn lets an interrupted task be re-executed from
// its start and matched back to its previously suspended call. Generalizes
// the parentNode+edgeIndex order-key hash once used for a single global
// work queue to (namespace, step, node, discriminator).
func computeTaskID(namespace string, step int, node string, discriminator string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	var stepBuf [4]byte
	binary.BigEndian.PutUint32(stepBuf[:], uint32(step))
	h.Write(stepBuf[:])
	h.Write([]byte(node))
	h.Write([]byte{0})
	h.Write([]byte(discriminator))
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum[:12])
}

// planStep computes the batch of tasks to run for one superstep: PUSH
// tasks from pending Sends queued by the previous step, then PULL tasks
// for every node whose trigger channel(s) have advanced past the version
// that node last observed (spec §4.4). PUSH tasks are ordered before PULL
// tasks; within each kind, ordering is deterministic (Send order, then
// node name) so replay reproduces the same schedule.
func planStep(g *Graph, step int, namespace string, channels map[string]Channel, versions map[string]Version, versionsSeen map[string]map[string]Version, pendingSends []Send) []Task {
	var tasks []Task

	for i, send := range pendingSends {
		node, ok := g.nodes[send.Node]
		if !ok {
			continue
		}
		_ = node
		id := computeTaskID(namespace, step, send.Node, fmt.Sprintf("push:%d", i))
		tasks = append(tasks, Task{
			ID:        id,
			Node:      send.Node,
			Kind:      taskPush,
			Input:     send.Payload,
			Namespace: namespace,
		})
	}

	nodeNames := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		nodeNames = append(nodeNames, name)
	}
	sort.Strings(nodeNames)

	for _, name := range nodeNames {
		node := g.nodes[name]
		if len(node.Triggers) == 0 {
			continue
		}
		fired, advancing := pullFires(node, channels, versions, versionsSeen[name])
		if !fired {
			continue
		}
		id := computeTaskID(namespace, step, name, "pull")
		tasks = append(tasks, Task{
			ID:        id,
			Node:      name,
			Kind:      taskPull,
			Namespace: namespace,
			triggers:  advancing,
		})
	}

	return tasks
}

// pullFires decides whether a PULL task should run: for an ordinary node,
// any trigger channel advancing past its last-seen version is enough; for
// a Deferred node (spec §9), every trigger must have advanced.
func pullFires(node *NodeSpec, channels map[string]Channel, versions map[string]Version, seen map[string]Version) (bool, []string) {
	var advancing []string
	allAdvanced := true
	for _, trig := range node.Triggers {
		if trig == START {
			continue
		}
		cur, ok := versions[trig]
		if !ok {
			allAdvanced = false
			continue
		}
		last := seen[trig]
		if cur > last {
			advancing = append(advancing, trig)
		} else {
			allAdvanced = false
		}
	}
	if node.Deferred {
		return allAdvanced && len(advancing) > 0, advancing
	}
	return len(advancing) > 0, advancing
}

// markSeen updates a node's VersionsSeen after a PULL task has been
// planned for it, so the same advancement does not re-fire it next step.
func markSeen(versionsSeen map[string]map[string]Version, node string, channels []string, versions map[string]Version) {
	seen, ok := versionsSeen[node]
	if !ok {
		seen = make(map[string]Version)
		versionsSeen[node] = seen
	}
	for _, ch := range channels {
		seen[ch] = versions[ch]
	}
}
