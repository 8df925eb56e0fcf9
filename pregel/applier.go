package pregel

// applyWrites groups a superstep's task writes by channel and invokes each
// channel's own Update rule, the same concurrent-result-collection shape
// used for merging per-branch deltas through a single reducer, generalized
// to per-channel merge rules instead of one global one. It returns the set
// of channels whose value actually changed (for version bumping and
// PULL-trigger re-evaluation on the next step) and any Write destined for
// tasksChannel, which become the next superstep's pending Sends.
func applyWrites(channels map[string]Channel, results []TaskResult) (changed map[string]bool, nextSends []Send, err error) {
	byChannel := make(map[string][]any)

	for _, res := range results {
		if res.Err != nil || res.Interrupted {
			continue
		}
		writes := res.Writes
		if res.Command != nil {
			writes = append(writes, res.Command.Update...)
			for _, node := range gotoTargets(res.Command) {
				nextSends = append(nextSends, Send{Node: node, Payload: nil})
			}
		}
		for _, w := range writes {
			byChannel[w.Channel] = append(byChannel[w.Channel], w.Value)
		}
	}

	changed = make(map[string]bool, len(byChannel))
	for name, values := range byChannel {
		ch, ok := channels[name]
		if !ok {
			return nil, nil, ErrUnknownChannel
		}
		didChange, uerr := ch.Update(values)
		if uerr != nil {
			return nil, nil, &NodeError{Message: "channel " + name + ": " + uerr.Error(), Cause: uerr}
		}
		if didChange {
			changed[name] = true
		}
	}

	if raw, ok := byChannel[tasksChannel]; ok {
		for _, v := range raw {
			if s, ok := v.(Send); ok {
				nextSends = append(nextSends, s)
			}
		}
	}

	return changed, nextSends, nil
}

func gotoTargets(cmd *Command) []string {
	if cmd == nil || cmd.Graph != GraphCurrent {
		return nil
	}
	return cmd.Goto
}
