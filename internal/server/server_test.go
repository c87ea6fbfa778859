package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

const tenant = "acme"

const rolesYAML = `
roles:
  - role: ops
    version: 1
    jurisdiction: {domains: [ops]}
    authority_ceiling: {max_tier: suggest, max_task_class: routine, max_impact: reversible, max_estimated_cost_cents: 0}
`

const agentsYAML = `
agents:
  - agent_id: ops-bot
    role: ops
    max_permission_tier: suggest
    identities: [acme]
    scope: {domains: [ops], decision_scopes: ["*"], allowed_tools: ["*"]}
`

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

type testEnv struct {
	srv   *Server
	conn  *grpc.ClientConn
	dir   string
	roles string
	agent string
}

// testServer spins up an in-process gRPC server on a random port and dials it.
func testServer(t *testing.T, withFiles bool) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir()}
	cfg := Config{
		Store:      store.NewMemory(),
		Clock:      clock.Fake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
		Identities: []string{tenant},
	}
	if withFiles {
		env.roles = writeTempFile(t, env.dir, "roles.yaml", rolesYAML)
		env.agent = writeTempFile(t, env.dir, "agents.yaml", agentsYAML)
		cfg.RolesFile = env.roles
		cfg.AgentsFile = env.agent
	}

	srv, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.srv = srv

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.ServeOn(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}
	env.conn = conn
	t.Cleanup(func() {
		_ = conn.Close()
		srv.GracefulStop()
	})
	return env
}

func (e *testEnv) evaluate(t *testing.T, rc model.AgentRuntimeContext) EvaluateResponse {
	t.Helper()
	var resp EvaluateResponse
	if err := e.conn.Invoke(context.Background(), MethodEvaluate, &EvaluateRequest{Identity: tenant, Context: rc}, &resp); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return resp
}

func opsRequest(agentID, domain string) model.AgentRuntimeContext {
	return model.AgentRuntimeContext{
		AgentID:       agentID,
		Domain:        domain,
		DecisionType:  "restart_service",
		RequestedTier: model.TierSuggest,
		Impact:        model.ImpactReversible,
	}
}

func TestEvaluateUnknownAgent(t *testing.T) {
	env := testServer(t, false)
	resp := env.evaluate(t, opsRequest("ghost", "ops"))
	if resp.Decision.Allowed {
		t.Fatal("unknown agent must be denied")
	}
	if resp.Decision.Reason != model.ReasonAgentNotRegistered {
		t.Errorf("expected %s, got %s", model.ReasonAgentNotRegistered, resp.Decision.Reason)
	}
}

func TestEvaluateUsesRoleAndAgentFiles(t *testing.T) {
	env := testServer(t, true)
	resp := env.evaluate(t, opsRequest("ops-bot", "support"))
	if resp.Decision.Reason != model.ReasonJurisdictionDomainDenied {
		t.Errorf("expected %s from the ops role file, got %s", model.ReasonJurisdictionDomainDenied, resp.Decision.Reason)
	}

	roles, err := env.srv.cfg.Store.Roles.Load(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range roles {
		found = found || r.Role == "ops"
	}
	if !found {
		t.Error("roles file must be written into the identity's store")
	}
}

func TestEvaluateRequiresIdentity(t *testing.T) {
	env := testServer(t, false)
	var resp EvaluateResponse
	err := env.conn.Invoke(context.Background(), MethodEvaluate, &EvaluateRequest{Context: opsRequest("ghost", "ops")}, &resp)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestEmergencyStopRPC(t *testing.T) {
	env := testServer(t, true)
	ctx := context.Background()

	var prof model.HumanControlProfile
	err := env.conn.Invoke(ctx, MethodSetEmergencyStop, &EmergencyStopRequest{Identity: tenant, Engaged: true}, &prof)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without actor, got %v", err)
	}

	err = env.conn.Invoke(ctx, MethodSetEmergencyStop, &EmergencyStopRequest{Identity: tenant, Actor: "alice", Engaged: true, Reason: "incident"}, &prof)
	if err != nil {
		t.Fatalf("SetEmergencyStop: %v", err)
	}
	if !prof.EmergencyStop || prof.UpdatedBy != "alice" {
		t.Errorf("unexpected profile %+v", prof)
	}

	resp := env.evaluate(t, opsRequest("ops-bot", "ops"))
	if resp.Decision.Reason != model.ReasonEmergencyStop {
		t.Errorf("expected %s, got %s", model.ReasonEmergencyStop, resp.Decision.Reason)
	}

	var pending controlroom.Pending
	if err := env.conn.Invoke(ctx, MethodListPending, &PendingRequest{Identity: tenant}, &pending); err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if !pending.EmergencyStop {
		t.Error("pending must report the emergency stop")
	}
}

func TestReaffirmValuesRPC(t *testing.T) {
	env := testServer(t, false)
	var anchor model.ValueAnchor
	err := env.conn.Invoke(context.Background(), MethodReaffirmValues, &ReaffirmRequest{Identity: tenant, Actor: "alice", Note: "quarterly"}, &anchor)
	if err != nil {
		t.Fatalf("ReaffirmValues: %v", err)
	}
	if anchor.ReaffirmedBy != "alice" {
		t.Errorf("expected reaffirmed by alice, got %q", anchor.ReaffirmedBy)
	}
}

func TestDecideUnknownCandidate(t *testing.T) {
	env := testServer(t, false)
	var resp CandidateDecisionResponse
	err := env.conn.Invoke(context.Background(), MethodDecideCandidate, &CandidateDecision{Identity: tenant, Actor: "alice", CandidateID: "nope", Approve: true, Note: "x"}, &resp)
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestReloadSwapsAgentDirectory(t *testing.T) {
	env := testServer(t, true)
	ctx := context.Background()

	if _, ok, _ := env.srv.Lookup(ctx, tenant, "ops-bot-2"); ok {
		t.Fatal("ops-bot-2 must not exist yet")
	}
	writeTempFile(t, env.dir, "agents.yaml", agentsYAML+`
  - agent_id: ops-bot-2
    role: ops
    max_permission_tier: draft
`)
	if err := env.srv.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok, _ := env.srv.Lookup(ctx, tenant, "ops-bot-2"); !ok {
		t.Error("ops-bot-2 must resolve after reload")
	}

	writeTempFile(t, env.dir, "agents.yaml", "agents: [broken")
	if err := env.srv.Reload(ctx); err == nil {
		t.Fatal("expected reload error for broken file")
	}
	if _, ok, _ := env.srv.Lookup(ctx, tenant, "ops-bot-2"); !ok {
		t.Error("a failed reload must keep the previous directory")
	}
}

func TestHTTPHandlerServesControlRoom(t *testing.T) {
	env := testServer(t, false)
	hs := httptest.NewServer(env.srv.HTTPHandler())
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/v1/identities/" + tenant + "/pending")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error without store")
	}
}
