package domain

import (
	"fmt"
	"sort"
)

// VerifyLinks walks a wallet's chain from head through preds, which maps
// every snapshot id of the wallet to its predecessor id. It reports missing
// predecessors, cycles, extra roots and snapshots the walk never reaches.
func VerifyLinks(wallet, head string, preds map[string]*string) ChainReport {
	report := ChainReport{Wallet: wallet, HeadID: head}
	if head == "" {
		if len(preds) > 0 {
			report.Broken = append(report.Broken, "snapshots present but no head")
		}
		return report
	}

	visited := make(map[string]bool, len(preds))
	id := head
	for {
		pred, ok := preds[id]
		if !ok {
			report.Broken = append(report.Broken, fmt.Sprintf("missing snapshot %s", id))
			break
		}
		if visited[id] {
			report.Broken = append(report.Broken, fmt.Sprintf("cycle at %s", id))
			break
		}
		visited[id] = true
		report.Length++
		if pred == nil {
			report.RootID = id
			break
		}
		id = *pred
	}

	var unreachable []string
	for sid := range preds {
		if !visited[sid] {
			unreachable = append(unreachable, sid)
		}
	}
	sort.Strings(unreachable)
	for _, sid := range unreachable {
		report.Broken = append(report.Broken, fmt.Sprintf("snapshot %s unreachable from head", sid))
	}
	return report
}
