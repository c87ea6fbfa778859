package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/model"
)

// rawCollection is the untyped view used by snapshots.
type rawCollection interface {
	Name() string
	exportRaw(ctx context.Context, identity string) (json.RawMessage, error)
	importRaw(ctx context.Context, identity string, raw json.RawMessage) (written, rejected int, err error)
}

// Store aggregates one typed collection per governance record type.
type Store struct {
	backend  Backend
	log      *zap.Logger
	locks    sync.Map // identity/collection -> *sync.Mutex
	registry []rawCollection

	Roles               *Collection[model.RolePolicy]
	Agents              *Collection[model.AgentProfile]
	RoleAudit           *Collection[model.RoleAuditRecord]
	Budgets             *Collection[model.CostBudget]
	CostEvents          *Collection[model.CostEventRecord]
	RoutingCaps         *Collection[model.CostRoutingCap]
	CostLedger          *Collection[model.CostLedgerEntry]
	Candidates          *Collection[model.ImprovementCandidate]
	CausalChains        *Collection[model.CausalChainRecord]
	Rules               *Collection[model.DistilledRule]
	DriftReports        *Collection[model.DriftReport]
	ValueAnchors        *Collection[model.ValueAnchor]
	ControlProfiles     *Collection[model.HumanControlProfile]
	Goals               *Collection[model.Goal]
	GoalConflicts       *Collection[model.GoalConflict]
	EscalationOverrides *Collection[model.EscalationOverride]
	Freezes             *Collection[model.BehaviorFreeze]
	CooperationMetrics  *Collection[model.CooperationMetric]
	Disagreements       *Collection[model.DisagreementRecord]
	TaskHistory         *Collection[model.TaskHistoryEntry]
	DecisionLog         *Collection[model.DecisionLogEntry]
	EvaluationRuns      *Collection[model.EvaluationRun]
	EvaluationClaims    *Collection[model.EvaluationClaim]
	Rotations           *Collection[model.EvaluationRotation]
	FailureDebt         *Collection[model.FailureDebt]
	TierStates          *Collection[model.AgentTierState]
	ScheduledTasks      *Collection[model.ScheduledTask]
	Norms               *Collection[model.NormRule]
	Commitments         *Collection[model.LongHorizonCommitment]
}

// New creates a Store over backend. A nil logger disables logging.
func New(backend Backend, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{backend: backend, log: log}

	s.Roles = newCollection[model.RolePolicy](s, "roles")
	s.Agents = newCollection[model.AgentProfile](s, "agents")
	s.RoleAudit = newCollection[model.RoleAuditRecord](s, "role_audit")
	s.Budgets = newCollection[model.CostBudget](s, "cost_budgets")
	s.CostEvents = newCollection[model.CostEventRecord](s, "cost_events")
	s.RoutingCaps = newCollection[model.CostRoutingCap](s, "cost_routing_caps")
	s.CostLedger = newCollection[model.CostLedgerEntry](s, "cost_ledger")
	s.Candidates = newCollection[model.ImprovementCandidate](s, "improvement_candidates")
	s.CausalChains = newCollection[model.CausalChainRecord](s, "causal_chains")
	s.Rules = newCollection[model.DistilledRule](s, "distilled_rules")
	s.DriftReports = newCollection[model.DriftReport](s, "drift_reports")
	s.ValueAnchors = newCollection[model.ValueAnchor](s, "value_anchors")
	s.ControlProfiles = newCollection[model.HumanControlProfile](s, "control_profiles")
	s.Goals = newCollection[model.Goal](s, "goals")
	s.GoalConflicts = newCollection[model.GoalConflict](s, "goal_conflicts")
	s.EscalationOverrides = newCollection[model.EscalationOverride](s, "escalation_overrides")
	s.Freezes = newCollection[model.BehaviorFreeze](s, "behavior_freezes")
	s.CooperationMetrics = newCollection[model.CooperationMetric](s, "cooperation_metrics")
	s.Disagreements = newCollection[model.DisagreementRecord](s, "disagreements")
	s.TaskHistory = newCollection[model.TaskHistoryEntry](s, "task_history")
	s.DecisionLog = newCollection[model.DecisionLogEntry](s, "decision_log")
	s.EvaluationRuns = newCollection[model.EvaluationRun](s, "evaluation_runs")
	s.EvaluationClaims = newCollection[model.EvaluationClaim](s, "evaluation_claims")
	s.Rotations = newCollection[model.EvaluationRotation](s, "evaluation_rotations")
	s.FailureDebt = newCollection[model.FailureDebt](s, "failure_debt")
	s.TierStates = newCollection[model.AgentTierState](s, "agent_tiers")
	s.ScheduledTasks = newCollection[model.ScheduledTask](s, "scheduled_tasks")
	s.Norms = newCollection[model.NormRule](s, "norms")
	s.Commitments = newCollection[model.LongHorizonCommitment](s, "horizon_commitments")
	return s
}

// NewMemory returns a Store over a fresh MemoryBackend.
func NewMemory() *Store {
	return New(NewMemoryBackend(), nil)
}

// Open returns a Store for the named backend kind: "memory", "file" or "sqlite".
func Open(kind, path string, log *zap.Logger) (*Store, error) {
	switch kind {
	case "", "memory":
		return New(NewMemoryBackend(), log), nil
	case "file":
		b, err := NewFileBackend(path)
		if err != nil {
			return nil, err
		}
		return New(b, log), nil
	case "sqlite":
		b, err := NewSQLiteBackend(path)
		if err != nil {
			return nil, err
		}
		return New(b, log), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}

// Names returns every collection name in registration order.
func (s *Store) Names() []string {
	out := make([]string, len(s.registry))
	for i, c := range s.registry {
		out[i] = c.Name()
	}
	return out
}

// Identities lists identities with stored state.
func (s *Store) Identities(ctx context.Context) ([]string, error) {
	ids, err := s.backend.Identities(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "identities", Identity: "-", Collection: "-", Err: err}
	}
	return ids, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) lock(identity, collection string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(identity+"/"+collection, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
