package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/alert"
	"github.com/ppiankov/agentgov/internal/assess"
	"github.com/ppiankov/agentgov/internal/audit"
	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/config"
	"github.com/ppiankov/agentgov/internal/drift"
	"github.com/ppiankov/agentgov/internal/evalharness"
	"github.com/ppiankov/agentgov/internal/governance"
	"github.com/ppiankov/agentgov/internal/referee"
	"github.com/ppiankov/agentgov/internal/server"
	"github.com/ppiankov/agentgov/internal/store"
)

// runtime is everything a command needs to govern locally.
type runtime struct {
	store  *store.Store
	audit  *audit.Log
	alerts *alert.Dispatcher
	srv    *server.Server
}

// openRuntime opens the configured store and audit log and wires the server.
func openRuntime(ctx context.Context, c *config.Config, log *zap.Logger) (*runtime, error) {
	st, err := store.Open(c.Store.Backend, c.Store.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	rt := &runtime{store: st}

	var recorder audit.Recorder = audit.Nop{}
	if c.AuditLog != "" {
		rt.audit, err = audit.Open(c.AuditLog)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		recorder = rt.audit
	}
	rt.alerts = alert.NewDispatcher(c.Alerts, log)
	recorder = alert.Recorder(recorder, rt.alerts)

	clk := clock.Real()
	g := c.Governance
	harness, err := evalharness.New(evalharness.Config{
		Store:      st,
		Clock:      clk,
		Logger:     log,
		Thresholds: g.Evaluation,
		Trust:      g.Promotion,
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to build evaluation harness: %w", err)
	}

	rt.srv, err = server.New(ctx, server.Config{
		Store:  st,
		Audit:  recorder,
		Clock:  clk,
		Logger: log,
		Governance: governance.Config{
			Drift:       drift.NewEvaluator(drift.Config{Store: st, Clock: clk, Thresholds: g.Drift, Logger: log}),
			Referee:     referee.New(referee.Config{Store: st, Clock: clk, Thresholds: g.Referee, Logger: log}),
			Harness:     harness,
			Horizons:    assess.NewHorizons(st, clk, g.Horizons),
			Promotion:   g.Promotion,
			Epistemic:   g.Epistemic,
			InitialTier: g.InitialTier,
		},
		Identities: c.Identities,
		RolesFile:  c.RolesFile,
		AgentsFile: c.AgentsFile,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close drains pending alerts and releases the store and audit log.
func (rt *runtime) Close() error {
	if rt.alerts != nil {
		rt.alerts.Wait()
	}
	var errs []error
	if rt.audit != nil {
		errs = append(errs, rt.audit.Close())
	}
	errs = append(errs, rt.store.Close())
	return errors.Join(errs...)
}
