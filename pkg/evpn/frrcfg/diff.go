package frrcfg

// Diff computes the commands needed to turn running into target: add is
// every entry present in target but not running, delete is every entry
// present in running but not target. Both lists preserve the order the
// entries first appeared in their source Config — not sorted, not
// grouped — matching the "first occurrence wins" ordering the agent
// relies on when it later dedups its own redundant ensure_*() calls.
func Diff(target, running Config) (add, delete Config) {
	runningSet := make(map[string]bool, len(running))
	for _, e := range running {
		runningSet[e.key()] = true
	}
	targetSet := make(map[string]bool, len(target))
	for _, e := range target {
		targetSet[e.key()] = true
	}

	for _, e := range target {
		if !runningSet[e.key()] {
			add = append(add, e)
		}
	}
	for _, e := range running {
		if !targetSet[e.key()] {
			delete = append(delete, e)
		}
	}
	return add, delete
}

// ToCommands renders a single Entry as the sequence of vtysh configure
// lines needed to apply it: enter every context level in Context, then
// the line itself. Deleting a body line prefixes it with "no "; deleting
// a bare context (Line == "") instead prefixes the final context header
// with "no ", removing the whole sub-mode in one command.
func (e Entry) ToCommands(delete bool) []string {
	cmds := append([]string(nil), e.Context...)
	if e.Line == "" {
		if delete && len(cmds) > 0 {
			cmds[len(cmds)-1] = "no " + cmds[len(cmds)-1]
		}
		return cmds
	}
	line := e.Line
	if delete {
		line = negate(line)
	}
	return append(cmds, line)
}

// negate toggles a line's leading "no " rather than doubling it, so
// deleting a target entry that itself reads "no bgp default ipv4-unicast"
// produces "bgp default ipv4-unicast" and not a double negative.
func negate(line string) string {
	const noPrefix = "no "
	if len(line) > len(noPrefix) && line[:len(noPrefix)] == noPrefix {
		return line[len(noPrefix):]
	}
	return noPrefix + line
}
