package audit

// Entry kinds.
const (
	KindRoleConstitution = "role_constitution"
	KindPipeline         = "pipeline"
	KindControlRoom      = "control_room"
)

// Subject is the agent and action an entry is about.
type Subject struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Action  string `json:"action,omitempty"`
	Tool    string `json:"tool,omitempty"`
}

// Entry is one line in the hash-chained JSONL audit log.
// All fields are concrete (no map[string]any) so json.Marshal field order
// is deterministic and hashes are reproducible.
type Entry struct {
	Timestamp      string  `json:"ts"`
	Identity       string  `json:"identity"`
	Kind           string  `json:"kind"`
	RecordID       string  `json:"record_id"`
	Subject        Subject `json:"subject"`
	Tier           string  `json:"tier,omitempty"`
	Decision       string  `json:"decision"`
	Reason         string  `json:"reason"`
	RequiresReview bool    `json:"requires_review"`
	Actor          string  `json:"actor,omitempty"`
	PrevHash       string  `json:"prev_hash"`
}

// Recorder appends entries to an audit trail.
type Recorder interface {
	Record(entry Entry) error
}

// Nop is a Recorder that discards entries.
type Nop struct{}

func (Nop) Record(Entry) error { return nil }
