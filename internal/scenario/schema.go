package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only scenario document version this runner accepts.
const SupportedVersion = 2

// Document is the top-level scenario structure.
// Unknown top-level keys are ignored for forward compatibility.
type Document struct {
	Version  int        `yaml:"version"`
	Name     string     `yaml:"name"`
	Settings Settings   `yaml:"settings"`
	Token    TokenConf  `yaml:"token"`
	Nodes    NodesConf  `yaml:"nodes"`
	Scenario *Task      `yaml:"scenario"`
}

// Settings holds run-wide configuration.
type Settings struct {
	GasPrice   GasPrice     `yaml:"gas_price"`
	Chain      string       `yaml:"chain"`
	ChainRPC   string       `yaml:"chain_rpc"`
	TimeoutSec int          `yaml:"timeout"`
	Services   ServicesConf `yaml:"services"`
}

// GasPrice is either a fixed wei value or a named policy ("fast", "medium").
type GasPrice struct {
	Policy string // set when a named policy is used
	Value  uint64 // set when a fixed value is used
}

func (g *GasPrice) UnmarshalYAML(value *yaml.Node) error {
	var fixed uint64
	if err := value.Decode(&fixed); err == nil {
		*g = GasPrice{Value: fixed}
		return nil
	}
	var named string
	if err := value.Decode(&named); err != nil {
		return &SchemaError{Problems: []string{fmt.Sprintf("settings.gas_price: expected integer or policy name, got %q", value.Value)}}
	}
	*g = GasPrice{Policy: named}
	return nil
}

// IsZero reports whether no gas price was configured at all.
func (g GasPrice) IsZero() bool { return g.Policy == "" && g.Value == 0 }

func (g GasPrice) String() string {
	if g.Policy != "" {
		return g.Policy
	}
	return fmt.Sprintf("%d", g.Value)
}

// ServicesConf points the runner at external services.
type ServicesConf struct {
	PFS PFSConf `yaml:"pfs"`
	UDC UDCConf `yaml:"udc"`
}

// PFSConf configures the path-finding service endpoint.
type PFSConf struct {
	URL string `yaml:"url"`
}

// UDCConf configures the user-deposit contract behaviour.
type UDCConf struct {
	Enable bool         `yaml:"enable"`
	Token  UDCTokenConf `yaml:"token"`
}

// UDCTokenConf enables automatic service-token deposits during provisioning.
type UDCTokenConf struct {
	Deposit bool `yaml:"deposit"`
}

// TokenConf selects the token to run against. An empty mapping means the
// runner picks the first token registered on node 0.
type TokenConf struct {
	Address string `yaml:"address"`
}

// NodeMode says who owns the node processes.
type NodeMode string

const (
	// ModeManaged derives node endpoints from base_port and tears them down after the run.
	ModeManaged NodeMode = "managed"
	// ModeExternal uses the endpoints in `list` and leaves them running.
	ModeExternal NodeMode = "external"
)

// NodesConf is the node pool specification.
type NodesConf struct {
	Mode           NodeMode    `yaml:"mode"`
	Count          int         `yaml:"count"`
	BasePort       int         `yaml:"base_port"`
	List           []string    `yaml:"list"`
	DefaultOptions NodeOptions `yaml:"default_options"`
}

// PoolSize returns how many node indices the document may reference.
func (n NodesConf) PoolSize() int {
	if n.Mode == ModeExternal {
		return len(n.List)
	}
	return n.Count
}

// NodeOptions are per-node option overrides applied to managed nodes.
type NodeOptions struct {
	RoutingMode         string `yaml:"routing_mode"`
	PathfindingMaxPaths int    `yaml:"pathfinding_max_paths"`
	PathfindingMaxFee   uint64 `yaml:"pathfinding_max_fee"`
}

// Kind discriminates task variants.
type Kind string

const (
	KindSerial           Kind = "serial"
	KindParallel         Kind = "parallel"
	KindOpenChannel      Kind = "open_channel"
	KindDeposit          Kind = "deposit"
	KindWithdraw         Kind = "withdraw"
	KindCloseChannel     Kind = "close_channel"
	KindTransfer         Kind = "transfer"
	KindWait             Kind = "wait"
	KindWaitBlocks       Kind = "wait_blocks"
	KindAssert           Kind = "assert"
	KindAssertPFSRoutes  Kind = "assert_pfs_routes"
	KindAssertPFSHistory Kind = "assert_pfs_history"
)

// Kinds lists every task variant the runner understands, composites first.
func Kinds() []Kind {
	return []Kind{
		KindSerial, KindParallel,
		KindOpenChannel, KindDeposit, KindWithdraw, KindCloseChannel, KindTransfer,
		KindWait, KindWaitBlocks,
		KindAssert, KindAssertPFSRoutes, KindAssertPFSHistory,
	}
}

// Task is a node in the scenario tree. Exactly one variant field is set,
// matching Kind. The tree is immutable after parsing.
type Task struct {
	Kind Kind

	Serial           *SerialTask
	Parallel         *ParallelTask
	OpenChannel      *ChannelTask
	Deposit          *ChannelTask
	Withdraw         *WithdrawTask
	CloseChannel     *PairTask
	Transfer         *TransferTask
	Wait             *WaitTask
	WaitBlocks       *WaitBlocksTask
	Assert           *ChannelAssertTask
	AssertPFSRoutes  *PFSRoutesAssertTask
	AssertPFSHistory *PFSHistoryAssertTask
}

// UnmarshalYAML decodes the single-key task mapping form, e.g.
//
//	- open_channel: {from: 0, to: 1, total_deposit: 1101}
//
// An unrecognized variant key is a SchemaError, not a silent skip.
func (t *Task) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return &SchemaError{Problems: []string{fmt.Sprintf("line %d: task must be a single-key mapping", value.Line)}}
	}
	key := value.Content[0].Value
	body := value.Content[1]

	decode := func(dst interface{}) error {
		if err := body.Decode(dst); err != nil {
			return &SchemaError{Problems: []string{fmt.Sprintf("line %d: %s: %s", body.Line, key, err)}}
		}
		return nil
	}

	switch Kind(key) {
	case KindSerial:
		t.Kind, t.Serial = KindSerial, new(SerialTask)
		return decode(t.Serial)
	case KindParallel:
		t.Kind, t.Parallel = KindParallel, new(ParallelTask)
		return decode(t.Parallel)
	case KindOpenChannel:
		t.Kind, t.OpenChannel = KindOpenChannel, new(ChannelTask)
		return decode(t.OpenChannel)
	case KindDeposit:
		t.Kind, t.Deposit = KindDeposit, new(ChannelTask)
		return decode(t.Deposit)
	case KindWithdraw:
		t.Kind, t.Withdraw = KindWithdraw, new(WithdrawTask)
		return decode(t.Withdraw)
	case KindCloseChannel:
		t.Kind, t.CloseChannel = KindCloseChannel, new(PairTask)
		return decode(t.CloseChannel)
	case KindTransfer:
		t.Kind, t.Transfer = KindTransfer, new(TransferTask)
		return decode(t.Transfer)
	case KindWait:
		t.Kind, t.Wait = KindWait, new(WaitTask)
		return decode(&t.Wait.Seconds)
	case KindWaitBlocks:
		t.Kind, t.WaitBlocks = KindWaitBlocks, new(WaitBlocksTask)
		return decode(&t.WaitBlocks.Blocks)
	case KindAssert:
		t.Kind, t.Assert = KindAssert, new(ChannelAssertTask)
		return decode(t.Assert)
	case KindAssertPFSRoutes:
		t.Kind, t.AssertPFSRoutes = KindAssertPFSRoutes, new(PFSRoutesAssertTask)
		return decode(t.AssertPFSRoutes)
	case KindAssertPFSHistory:
		t.Kind, t.AssertPFSHistory = KindAssertPFSHistory, new(PFSHistoryAssertTask)
		return decode(t.AssertPFSHistory)
	default:
		return &SchemaError{Problems: []string{fmt.Sprintf("line %d: unknown task %q", value.Line, key)}}
	}
}

// SerialTask runs its children strictly in order, `repeat` full passes.
type SerialTask struct {
	Repeat int     `yaml:"repeat"`
	Tasks  []*Task `yaml:"tasks"`
}

// Passes returns the number of full passes over the child list.
func (s *SerialTask) Passes() int {
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}

// ParallelTask runs its children concurrently and joins on all of them.
type ParallelTask struct {
	Tasks []*Task `yaml:"tasks"`
}

// ChannelTask is the parameter set shared by open_channel and deposit.
type ChannelTask struct {
	From         int    `yaml:"from"`
	To           int    `yaml:"to"`
	TotalDeposit uint64 `yaml:"total_deposit"`
}

// WithdrawTask reduces a channel's capacity from one side.
type WithdrawTask struct {
	From          int    `yaml:"from"`
	To            int    `yaml:"to"`
	TotalWithdraw uint64 `yaml:"total_withdraw"`
}

// PairTask names the two endpoints of a channel and nothing else.
type PairTask struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// TransferTask initiates a payment; completion is observed via assertions.
type TransferTask struct {
	From   int    `yaml:"from"`
	To     int    `yaml:"to"`
	Amount uint64 `yaml:"amount"`
}

// WaitTask suspends its branch for a fixed number of seconds.
type WaitTask struct {
	Seconds int
}

// WaitBlocksTask suspends its branch until the chain advances N blocks.
type WaitBlocksTask struct {
	Blocks int
}

// ChannelAssertTask checks one direction of a channel against expected values.
type ChannelAssertTask struct {
	From         int    `yaml:"from"`
	To           int    `yaml:"to"`
	TotalDeposit uint64 `yaml:"total_deposit"`
	Balance      uint64 `yaml:"balance"`
	State        string `yaml:"state"`
}

// PFSRoutesAssertTask checks that the path-finding service returns exactly
// expected_paths routes for a request.
type PFSRoutesAssertTask struct {
	From          int    `yaml:"from"`
	To            int    `yaml:"to"`
	Amount        uint64 `yaml:"amount"`
	ExpectedPaths int    `yaml:"expected_paths"`
}

// PFSHistoryAssertTask checks the service's request log for a source node.
// Routes are given as node indices and resolved to addresses at run time.
type PFSHistoryAssertTask struct {
	Source         int     `yaml:"source"`
	Target         int     `yaml:"target"`
	RequestCount   int     `yaml:"request_count"`
	ExpectedRoutes [][]int `yaml:"expected_routes"`
}
