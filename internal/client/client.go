// Package client talks to a remote agentgov server over gRPC.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/server"
)

// DefaultTimeout bounds every call that does not carry its own deadline.
const DefaultTimeout = 5 * time.Second

// Client connects to an agentgov gRPC server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New creates a gRPC client for the given address.
// Fail-closed: if the server cannot be reached, Evaluate returns a denial.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to governance server: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.conn.Invoke(ctx, method, req, resp)
}

// Evaluate sends a runtime context to the remote pipeline.
// Fail-closed: any RPC error or server-side failure yields a denial that
// requires human review.
func (c *Client) Evaluate(ctx context.Context, identity string, rc *model.AgentRuntimeContext) model.RuntimeGovernanceDecision {
	req := &server.EvaluateRequest{Identity: identity}
	if rc != nil {
		req.Context = *rc
	}
	var resp server.EvaluateResponse
	if err := c.invoke(ctx, server.MethodEvaluate, req, &resp); err != nil {
		// Fail-closed: unreachable server → deny
		return model.RuntimeGovernanceDecision{
			Reason:              model.ReasonServerUnreachable,
			RequiresHumanReview: true,
			Details:             map[string]any{"error": err.Error()},
			EvaluatedAt:         time.Now().UTC(),
		}
	}
	d := resp.Decision
	if resp.Error != "" {
		d.Allowed = false
		d.RequiresHumanReview = true
		if d.Reason == "" {
			d.Reason = model.ReasonInternalError
		}
	}
	return d
}

// ListPending returns what waits on a human for identity.
func (c *Client) ListPending(ctx context.Context, identity string) (controlroom.Pending, error) {
	var p controlroom.Pending
	err := c.invoke(ctx, server.MethodListPending, &server.PendingRequest{Identity: identity}, &p)
	return p, err
}

// SetEmergencyStop engages or clears the emergency stop.
func (c *Client) SetEmergencyStop(ctx context.Context, req server.EmergencyStopRequest) (model.HumanControlProfile, error) {
	var p model.HumanControlProfile
	err := c.invoke(ctx, server.MethodSetEmergencyStop, &req, &p)
	return p, err
}

// ReaffirmValues reaffirms the identity's value anchor.
func (c *Client) ReaffirmValues(ctx context.Context, identity, actor, note string) (model.ValueAnchor, error) {
	var a model.ValueAnchor
	err := c.invoke(ctx, server.MethodReaffirmValues, &server.ReaffirmRequest{Identity: identity, Actor: actor, Note: note}, &a)
	return a, err
}

// DecideCandidate approves or rejects an improvement candidate.
func (c *Client) DecideCandidate(ctx context.Context, req server.CandidateDecision) (server.CandidateDecisionResponse, error) {
	var resp server.CandidateDecisionResponse
	err := c.invoke(ctx, server.MethodDecideCandidate, &req, &resp)
	return resp, err
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
