// Package model holds the in-memory representation spec.md §3 describes:
// tables, chains, sections, and the dense rule record, plus the smaller
// value types (knock steps, recent operations, state results) a rule's
// match fields decompose into.
package model

import (
	"time"

	"github.com/m2osw/ipload/internal/conntrack"
	"github.com/m2osw/ipload/internal/knock"
	"github.com/m2osw/ipload/internal/stategrammar"
)

// TableName is one of the five reserved iptables tables.
type TableName string

const (
	TableFilter   TableName = "filter"
	TableNAT      TableName = "nat"
	TableMangle   TableName = "mangle"
	TableRaw      TableName = "raw"
	TableSecurity TableName = "security"
)

// ValidTables lists every reserved table name, in the canonical emission
// order (filter first, matching the original tool's output).
var ValidTables = []TableName{TableFilter, TableNAT, TableMangle, TableRaw, TableSecurity}

// ClosingType controls the trailing catch-all rule appended to a chain.
type ClosingType string

const (
	ClosingReturn ClosingType = "RETURN"
	ClosingDrop   ClosingType = "DROP"
	ClosingReject ClosingType = "REJECT"
	ClosingNone   ClosingType = "" // user-defined chain: no closing rule
)

// Policy is a system chain's default verdict.
type Policy string

const (
	PolicyAccept Policy = "ACCEPT"
	PolicyDrop   Policy = "DROP"
)

var systemChains = map[string]bool{
	"INPUT": true, "OUTPUT": true, "FORWARD": true, "PREROUTING": true, "POSTROUTING": true,
}

// IsSystemChain reports whether name is one of the five system chains.
func IsSystemChain(name string) bool {
	return systemChains[name]
}

// Chain is the chain definition shared across every table it applies to.
type Chain struct {
	Name        string
	Condition   string // truthy expression evaluated at load time
	Policy      Policy // system chains only
	Closing     ClosingType
	Tables      []TableName
	LogPrefix   string
}

// ChainRef binds a Chain to one Table and owns that table's ordered list
// of section references.
type ChainRef struct {
	Table    TableName
	Chain    *Chain
	Sections []*SectionRef
}

// Section groups rules within a chain-reference purely to control
// emission order.
type Section struct {
	Name    string
	Before  []string
	After   []string
	Default bool
}

// SectionRef binds a Section to one ChainRef and owns that section's
// ordered list of rules.
type SectionRef struct {
	Section *Section
	Rules   []*Rule
}

// Document is the fully built object graph spec.md §3 describes: the
// chains keyed by name, and the per-table chain-references that actually
// get emitted.
type Document struct {
	Chains    map[string]*Chain
	ChainRefs map[TableName][]*ChainRef
}

// RecentOp is one `-m recent` operation attached to a rule.
type RecentOp struct {
	Op          RecentKind
	ListName    string
	Seconds     int
	HitCount    int
	Reap        bool
	RTTL        bool
	MaskBits    int
	Destination bool
	Negate      bool
}

// RecentKind enumerates the four `-m recent` verbs.
type RecentKind int

const (
	RecentSet RecentKind = iota
	RecentCheck
	RecentUpdate
	RecentRemove
)

// Limit is the rate/burst or connection-limit match a rule may carry.
// Exactly one of the two forms is populated.
type Limit struct {
	HasRate bool
	Rate    int
	RateUnit string // "second", "minute", "hour", "day"
	Burst   int

	HasConnLimit  bool
	ConnLimitUpto bool // true = --connlimit-upto, false = --connlimit-above
	ConnLimitN    int
	ConnLimitMask int
	ConnLimitMass int
	ConnLimitDst  bool
}

// Action is one of the 40+ emission verbs a rule may carry.
type Action struct {
	Verb      string // "ACCEPT", "DROP", "REJECT", "CALL", "DNAT", ...
	Param     string // e.g. REJECT's alias, CALL's target chain, DNAT's address:port
	Param2    string // REJECT's IPv6-specific alias when distinct from Param
}

// Rule is the dense per-rule record spec.md §3 defines.
type Rule struct {
	Name        string
	Description string
	Comment     string

	Tables  []TableName
	Chains  []string
	Section string
	Before  []string
	After   []string

	Enabled   bool
	Condition string

	Source             []string
	Destination        []string
	ExceptSource       []string
	ExceptDestination  []string

	SourceInterfaces      []string
	DestinationInterfaces []string
	Interfaces            []string

	SourcePorts      []string
	DestinationPorts []string

	Protocols []string

	Sets        []string
	SetType     string
	SetData     []string
	SetFromFile []string

	State     *stategrammar.Result
	Conntrack []conntrack.Result

	Recent []RecentOp

	Knocks      []knock.Step
	KnockClear  []string

	Limit *Limit

	Action Action

	Log string

	ForceIPv4 bool
	ForceIPv6 bool
}

// BlockStatus is a block record's lifecycle state.
type BlockStatus int

const (
	BlockUndefined BlockStatus = iota
	BlockBanned
	BlockUnbanned
)

// BlockRecord is the daemon's per-(scheme,ip) bookkeeping entry.
type BlockRecord struct {
	Scheme      string
	IP          string
	BlockUntil  time.Time
	Reason      string
	Status      BlockStatus
	BanCount    int64
	PacketCount int64
	ByteCount   int64
}
