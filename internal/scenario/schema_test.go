package scenario

import (
	"errors"
	"testing"
)

const fullDocument = `
version: 2
name: bf1_basic
settings:
  gas_price: fast
  chain: any
  services:
    pfs:
      url: http://pfs.local:6000
    udc:
      enable: true
      token:
        deposit: true
token: {}
nodes:
  mode: managed
  count: 4
  default_options:
    routing_mode: pfs
    pathfinding_max_paths: 5
    pathfinding_max_fee: 100
scenario:
  serial:
    tasks:
      - open_channel: {from: 0, to: 1, total_deposit: 1101}
      - assert: {from: 0, to: 1, total_deposit: 1101, balance: 1101, state: opened}
      - assert: {from: 1, to: 0, total_deposit: 0, balance: 0, state: opened}
      - parallel:
          tasks:
            - transfer: {from: 0, to: 1, amount: 1}
            - transfer: {from: 0, to: 1, amount: 1}
      - wait: 10
      - assert_pfs_routes: {from: 0, to: 3, amount: 10, expected_paths: 1}
      - assert_pfs_history:
          source: 0
          target: 3
          request_count: 1
          expected_routes:
            - [0, 1, 2, 3]
`

func TestParse_FullDocument(t *testing.T) {
	doc, err := Parse([]byte(fullDocument))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if doc.Version != 2 {
		t.Errorf("version = %d, want 2", doc.Version)
	}
	if doc.Settings.GasPrice.Policy != "fast" {
		t.Errorf("gas_price = %+v, want policy fast", doc.Settings.GasPrice)
	}
	if doc.Settings.Services.PFS.URL != "http://pfs.local:6000" {
		t.Errorf("pfs url = %q", doc.Settings.Services.PFS.URL)
	}
	if !doc.Settings.Services.UDC.Enable || !doc.Settings.Services.UDC.Token.Deposit {
		t.Errorf("udc = %+v, want enabled with token deposit", doc.Settings.Services.UDC)
	}
	if doc.Nodes.Mode != ModeManaged || doc.Nodes.Count != 4 {
		t.Errorf("nodes = %+v", doc.Nodes)
	}

	root := doc.Scenario
	if root.Kind != KindSerial {
		t.Fatalf("root kind = %q, want serial", root.Kind)
	}
	tasks := root.Serial.Tasks
	if len(tasks) != 7 {
		t.Fatalf("root has %d tasks, want 7", len(tasks))
	}
	if oc := tasks[0].OpenChannel; oc == nil || oc.From != 0 || oc.To != 1 || oc.TotalDeposit != 1101 {
		t.Errorf("open_channel = %+v", tasks[0].OpenChannel)
	}
	if a := tasks[1].Assert; a == nil || a.Balance != 1101 || a.State != "opened" {
		t.Errorf("assert = %+v", tasks[1].Assert)
	}
	if p := tasks[3].Parallel; p == nil || len(p.Tasks) != 2 {
		t.Errorf("parallel = %+v", tasks[3].Parallel)
	}
	if w := tasks[4].Wait; w == nil || w.Seconds != 10 {
		t.Errorf("wait = %+v", tasks[4].Wait)
	}
	if h := tasks[6].AssertPFSHistory; h == nil || h.RequestCount != 1 || len(h.ExpectedRoutes) != 1 {
		t.Errorf("assert_pfs_history = %+v", tasks[6].AssertPFSHistory)
	} else if len(h.ExpectedRoutes[0]) != 4 || h.ExpectedRoutes[0][3] != 3 {
		t.Errorf("expected_routes = %v", h.ExpectedRoutes)
	}
}

func TestParse_GasPriceFixedValue(t *testing.T) {
	doc, err := Parse([]byte(`
version: 2
settings:
  gas_price: 20000000000
nodes: {mode: managed, count: 2}
scenario:
  serial:
    tasks:
      - wait: 1
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if doc.Settings.GasPrice.Value != 20000000000 || doc.Settings.GasPrice.Policy != "" {
		t.Errorf("gas_price = %+v, want fixed 20000000000", doc.Settings.GasPrice)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name        string
		doc         string
		wantSchema  bool
		wantVersion bool
	}{
		{
			name:       "missing version",
			doc:        "nodes: {mode: managed, count: 2}\nscenario: {serial: {tasks: [{wait: 1}]}}",
			wantSchema: true,
		},
		{
			name:        "unsupported version",
			doc:         "version: 1\nnodes: {mode: managed, count: 2}\nscenario: {serial: {tasks: [{wait: 1}]}}",
			wantVersion: true,
		},
		{
			name:       "missing scenario",
			doc:        "version: 2\nnodes: {mode: managed, count: 2}",
			wantSchema: true,
		},
		{
			name:       "unknown task variant",
			doc:        "version: 2\nnodes: {mode: managed, count: 2}\nscenario: {serial: {tasks: [{explode: {from: 0}}]}}",
			wantSchema: true,
		},
		{
			name:       "non-integer from index",
			doc:        "version: 2\nnodes: {mode: managed, count: 2}\nscenario: {serial: {tasks: [{transfer: {from: zero, to: 1, amount: 1}}]}}",
			wantSchema: true,
		},
		{
			name:       "negative to index",
			doc:        "version: 2\nnodes: {mode: managed, count: 2}\nscenario: {serial: {tasks: [{transfer: {from: 0, to: -1, amount: 1}}]}}",
			wantSchema: true,
		},
		{
			name:       "task with two keys",
			doc:        "version: 2\nnodes: {mode: managed, count: 2}\nscenario: {serial: {tasks: [{wait: 1, wait_blocks: 1}]}}",
			wantSchema: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var se *SchemaError
			var ve *VersionError
			switch {
			case tc.wantSchema && !errors.As(err, &se):
				t.Errorf("expected SchemaError, got %T: %v", err, err)
			case tc.wantVersion && !errors.As(err, &ve):
				t.Errorf("expected VersionError, got %T: %v", err, err)
			}
		})
	}
}

func TestParse_UnknownTopLevelKeyIgnored(t *testing.T) {
	_, err := Parse([]byte(`
version: 2
future_feature: {shiny: true}
nodes: {mode: managed, count: 2}
scenario:
  serial:
    tasks:
      - wait: 1
`))
	if err != nil {
		t.Fatalf("unknown top-level key should be ignored, got %v", err)
	}
}

func TestParse_Defaults(t *testing.T) {
	doc, err := Parse([]byte(`
version: 2
nodes: {mode: managed, count: 2}
scenario: {serial: {tasks: [{wait: 1}]}}
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if doc.Settings.GasPrice.Policy != "fast" {
		t.Errorf("default gas_price = %+v, want fast", doc.Settings.GasPrice)
	}
	if doc.Settings.Chain != "any" {
		t.Errorf("default chain = %q, want any", doc.Settings.Chain)
	}
	if doc.Nodes.BasePort != 5001 {
		t.Errorf("default base_port = %d, want 5001", doc.Nodes.BasePort)
	}
	if doc.Nodes.DefaultOptions.PathfindingMaxPaths != 5 {
		t.Errorf("default pathfinding_max_paths = %d, want 5", doc.Nodes.DefaultOptions.PathfindingMaxPaths)
	}
}

func TestTask_Contains(t *testing.T) {
	doc, err := Parse([]byte(`
version: 2
nodes: {mode: managed, count: 2}
scenario:
  serial:
    tasks:
      - parallel:
          tasks:
            - wait_blocks: 2
            - wait: 1
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !doc.Scenario.Contains(KindWaitBlocks) {
		t.Error("Contains(wait_blocks) = false, want true")
	}
	if doc.Scenario.Contains(KindTransfer) {
		t.Error("Contains(transfer) = true, want false")
	}
}
