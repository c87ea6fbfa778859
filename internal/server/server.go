// Package server hosts the governance pipeline and the Control Room over
// gRPC and HTTP, and keeps role and agent files in sync with the store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/agentgov/internal/audit"
	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/controlroom/httpapi"
	"github.com/ppiankov/agentgov/internal/governance"
	"github.com/ppiankov/agentgov/internal/identity"
	"github.com/ppiankov/agentgov/internal/improve"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/referee"
	"github.com/ppiankov/agentgov/internal/roles"
	"github.com/ppiankov/agentgov/internal/store"
)

// Config holds server dependencies and the files it keeps in sync.
type Config struct {
	Store  *store.Store
	Audit  audit.Recorder
	Clock  clock.Clock
	Logger *zap.Logger

	// Governance tunes the pipeline. Store, Directory, Audit, Clock and
	// Logger are filled in by New.
	Governance governance.Config

	Identities []string // bootstrapped with default seeds on start
	RolesFile  string
	AgentsFile string
}

// Server implements GovernanceServer and serves the Control Room HTTP API.
type Server struct {
	cfg      Config
	log      *zap.Logger
	clock    clock.Clock
	pipeline *governance.Pipeline
	control  *controlroom.Service

	mu       sync.RWMutex
	registry *identity.Registry

	grpcServer *grpc.Server
}

// New bootstraps the configured identities, loads role and agent files, and
// wires the pipeline and Control Room.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store required")
	}
	s := &Server{
		cfg:   cfg,
		log:   cfg.Logger,
		clock: clock.OrReal(cfg.Clock),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.registry = identity.NewRegistry(nil, governance.StoreDirectory{Store: cfg.Store})

	gov := cfg.Governance
	gov.Store = cfg.Store
	gov.Directory = s
	gov.Audit = cfg.Audit
	gov.Clock = s.clock
	gov.Logger = s.log
	pipeline, err := governance.New(gov)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	s.pipeline = pipeline

	loop := improve.New(improve.Config{Store: cfg.Store, Clock: s.clock, Logger: s.log, Trust: pipeline.Trust()})
	s.control = controlroom.New(controlroom.Config{
		Store:   cfg.Store,
		Improve: loop,
		Goals:   pipeline.Goals(),
		Referee: pipeline.Referee(),
		Audit:   cfg.Audit,
		Clock:   s.clock,
		Logger:  s.log,
	})

	for _, id := range cfg.Identities {
		rep, err := cfg.Store.Bootstrap(ctx, id, governance.DefaultSeeds(s.clock.Now()))
		if err != nil {
			return nil, fmt.Errorf("failed to bootstrap identity %q: %w", id, err)
		}
		s.log.Info("identity bootstrapped", zap.String("identity", id),
			zap.Int("written", rep.Written), zap.Int("skipped", rep.Skipped))
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s, nil
}

// Pipeline returns the governance pipeline.
func (s *Server) Pipeline() *governance.Pipeline { return s.pipeline }

// Control returns the Control Room service.
func (s *Server) Control() *controlroom.Service { return s.control }

// HTTPHandler returns the Control Room HTTP routes.
func (s *Server) HTTPHandler() http.Handler {
	return httpapi.NewRouter(s.control, s.pipeline, s.log)
}

// Serve listens on addr and serves gRPC. Blocks until stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn serves gRPC on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Lookup resolves agents from the agent file first, then the store.
func (s *Server) Lookup(ctx context.Context, identity, agentID string) (model.AgentProfile, bool, error) {
	s.mu.RLock()
	r := s.registry
	s.mu.RUnlock()
	return r.Lookup(ctx, identity, agentID)
}

// Reload re-reads the role and agent files. Roles are upserted into every
// configured identity; the agent directory is swapped atomically. A file
// that fails to parse leaves the previous state in place.
func (s *Server) Reload(ctx context.Context) error {
	if s.cfg.RolesFile != "" {
		policies, err := roles.LoadFile(s.cfg.RolesFile)
		if err != nil {
			return fmt.Errorf("failed to reload roles: %w", err)
		}
		for _, id := range s.cfg.Identities {
			for _, p := range policies {
				if err := s.cfg.Store.Roles.Upsert(ctx, id, p); err != nil {
					return fmt.Errorf("failed to store role %s for %s: %w", p.Role, id, err)
				}
			}
		}
	}
	if s.cfg.AgentsFile != "" {
		entries, err := identity.LoadFile(s.cfg.AgentsFile)
		if err != nil {
			return fmt.Errorf("failed to reload agents: %w", err)
		}
		r := identity.NewRegistry(entries, governance.StoreDirectory{Store: s.cfg.Store})
		s.mu.Lock()
		s.registry = r
		s.mu.Unlock()
	}
	return nil
}

// Evaluate implements the Evaluate RPC. Pipeline failures come back as the
// fail-closed decision with Error set.
func (s *Server) Evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluateResponse, error) {
	if req.Identity == "" {
		return nil, status.Error(codes.InvalidArgument, "identity required")
	}
	d, err := s.pipeline.Evaluate(ctx, req.Identity, &req.Context)
	resp := &EvaluateResponse{Decision: d}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

// ListPending implements the ListPending RPC.
func (s *Server) ListPending(ctx context.Context, req *PendingRequest) (*controlroom.Pending, error) {
	p, err := s.control.ListPending(ctx, req.Identity)
	if err != nil {
		return nil, rpcError(err)
	}
	return &p, nil
}

// SetEmergencyStop implements the SetEmergencyStop RPC.
func (s *Server) SetEmergencyStop(ctx context.Context, req *EmergencyStopRequest) (*model.HumanControlProfile, error) {
	p, err := s.control.SetEmergencyStop(ctx, req.Identity, req.Actor, req.Engaged, req.Reason, req.Until)
	if err != nil {
		return nil, rpcError(err)
	}
	return &p, nil
}

// ReaffirmValues implements the ReaffirmValues RPC.
func (s *Server) ReaffirmValues(ctx context.Context, req *ReaffirmRequest) (*model.ValueAnchor, error) {
	a, err := s.control.ReaffirmValues(ctx, req.Identity, req.Actor, req.Note)
	if err != nil {
		return nil, rpcError(err)
	}
	return &a, nil
}

// DecideCandidate implements the DecideCandidate RPC.
func (s *Server) DecideCandidate(ctx context.Context, req *CandidateDecision) (*CandidateDecisionResponse, error) {
	if !req.Approve {
		c, err := s.control.RejectCandidate(ctx, req.Identity, req.CandidateID, req.Actor, req.Note)
		if err != nil {
			return nil, rpcError(err)
		}
		return &CandidateDecisionResponse{CandidateID: c.ID, Status: c.Status}, nil
	}
	chain, err := s.control.ApproveCandidate(ctx, req.Identity, req.CandidateID, req.Actor, req.Note)
	if err != nil {
		return nil, rpcError(err)
	}
	return &CandidateDecisionResponse{CandidateID: req.CandidateID, Status: model.CandidateApplied, Chain: &chain}, nil
}

func rpcError(err error) error {
	var ce *model.ContractError
	switch {
	case errors.Is(err, controlroom.ErrCandidateNotFound),
		errors.Is(err, controlroom.ErrRuleNotFound),
		errors.Is(err, referee.ErrDisagreementNotFound),
		errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, controlroom.ErrActorRequired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, controlroom.ErrExplanationRequired),
		errors.Is(err, controlroom.ErrValueAnchorMissing),
		errors.Is(err, controlroom.ErrMissingHumanControls),
		errors.Is(err, improve.ErrCandidateClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &ce):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
