package scenario

import (
	"fmt"
)

// Validate checks a parsed document for:
//   - Required top-level fields (version, scenario)
//   - A supported version
//   - A well-formed node pool section
//   - Node indices within the pool bounds, everywhere in the task tree
//
// All structural problems are collected into a single SchemaError so a broken
// document is diagnosed in one pass.
func Validate(doc *Document) error {
	if doc.Version == 0 {
		return &SchemaError{Problems: []string{"version is required"}}
	}
	if doc.Version != SupportedVersion {
		return &VersionError{Got: doc.Version}
	}

	var errs []string

	switch doc.Nodes.Mode {
	case ModeManaged:
		if doc.Nodes.Count <= 0 {
			errs = append(errs, "nodes: count must be positive in managed mode")
		}
	case ModeExternal:
		if len(doc.Nodes.List) == 0 {
			errs = append(errs, "nodes: list must not be empty in external mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("nodes: unknown mode %q", doc.Nodes.Mode))
	}

	if gp := doc.Settings.GasPrice; gp.Policy != "" && gp.Policy != "fast" && gp.Policy != "medium" {
		errs = append(errs, fmt.Sprintf("settings: unknown gas_price policy %q", gp.Policy))
	}
	if doc.Settings.TimeoutSec < 0 {
		errs = append(errs, "settings: timeout must not be negative")
	}

	if doc.Scenario == nil {
		errs = append(errs, "scenario is required")
	} else {
		validateTask(doc.Scenario, "scenario", doc.Nodes.PoolSize(), &errs)
	}

	if len(errs) > 0 {
		return &SchemaError{Problems: errs}
	}
	return nil
}

func validateTask(t *Task, path string, pool int, errs *[]string) {
	index := func(field string, i int) {
		if i < 0 {
			*errs = append(*errs, fmt.Sprintf("%s: %s must not be negative", path, field))
		} else if pool > 0 && i >= pool {
			*errs = append(*errs, fmt.Sprintf("%s: %s index %d out of range (pool size %d)", path, field, i, pool))
		}
	}

	switch t.Kind {
	case KindSerial:
		if t.Serial.Repeat < 0 {
			*errs = append(*errs, fmt.Sprintf("%s: repeat must not be negative", path))
		}
		if len(t.Serial.Tasks) == 0 {
			*errs = append(*errs, fmt.Sprintf("%s: serial needs at least one task", path))
		}
		for i, child := range t.Serial.Tasks {
			validateTask(child, fmt.Sprintf("%s.tasks[%d].%s", path, i, child.Kind), pool, errs)
		}
	case KindParallel:
		if len(t.Parallel.Tasks) == 0 {
			*errs = append(*errs, fmt.Sprintf("%s: parallel needs at least one task", path))
		}
		for i, child := range t.Parallel.Tasks {
			validateTask(child, fmt.Sprintf("%s.tasks[%d].%s", path, i, child.Kind), pool, errs)
		}
	case KindOpenChannel:
		index("from", t.OpenChannel.From)
		index("to", t.OpenChannel.To)
		if t.OpenChannel.From == t.OpenChannel.To {
			*errs = append(*errs, fmt.Sprintf("%s: from and to must differ", path))
		}
	case KindDeposit:
		index("from", t.Deposit.From)
		index("to", t.Deposit.To)
	case KindWithdraw:
		index("from", t.Withdraw.From)
		index("to", t.Withdraw.To)
	case KindCloseChannel:
		index("from", t.CloseChannel.From)
		index("to", t.CloseChannel.To)
	case KindTransfer:
		index("from", t.Transfer.From)
		index("to", t.Transfer.To)
		if t.Transfer.Amount == 0 {
			*errs = append(*errs, fmt.Sprintf("%s: amount must be positive", path))
		}
	case KindWait:
		if t.Wait.Seconds < 0 {
			*errs = append(*errs, fmt.Sprintf("%s: wait must not be negative", path))
		}
	case KindWaitBlocks:
		if t.WaitBlocks.Blocks <= 0 {
			*errs = append(*errs, fmt.Sprintf("%s: wait_blocks must be positive", path))
		}
	case KindAssert:
		index("from", t.Assert.From)
		index("to", t.Assert.To)
		if t.Assert.State == "" {
			*errs = append(*errs, fmt.Sprintf("%s: state is required", path))
		}
	case KindAssertPFSRoutes:
		index("from", t.AssertPFSRoutes.From)
		index("to", t.AssertPFSRoutes.To)
		if t.AssertPFSRoutes.ExpectedPaths < 0 {
			*errs = append(*errs, fmt.Sprintf("%s: expected_paths must not be negative", path))
		}
	case KindAssertPFSHistory:
		index("source", t.AssertPFSHistory.Source)
		index("target", t.AssertPFSHistory.Target)
		if t.AssertPFSHistory.RequestCount <= 0 {
			*errs = append(*errs, fmt.Sprintf("%s: request_count must be positive", path))
		}
		if len(t.AssertPFSHistory.ExpectedRoutes) != t.AssertPFSHistory.RequestCount {
			*errs = append(*errs, fmt.Sprintf("%s: expected_routes has %d entries, request_count is %d",
				path, len(t.AssertPFSHistory.ExpectedRoutes), t.AssertPFSHistory.RequestCount))
		}
		for i, route := range t.AssertPFSHistory.ExpectedRoutes {
			for _, hop := range route {
				index(fmt.Sprintf("expected_routes[%d]", i), hop)
			}
		}
	default:
		*errs = append(*errs, fmt.Sprintf("%s: unknown task kind %q", path, t.Kind))
	}
}
