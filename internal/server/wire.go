package server

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/model"
)

// CodecName is the gRPC content subtype carried by every call.
const CodecName = "json"

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "agentgov.v1.Governance"

// Full method names, for clients.
const (
	MethodEvaluate         = "/" + ServiceName + "/Evaluate"
	MethodListPending      = "/" + ServiceName + "/ListPending"
	MethodSetEmergencyStop = "/" + ServiceName + "/SetEmergencyStop"
	MethodReaffirmValues   = "/" + ServiceName + "/ReaffirmValues"
	MethodDecideCandidate  = "/" + ServiceName + "/DecideCandidate"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// EvaluateRequest runs one runtime context through the pipeline.
type EvaluateRequest struct {
	Identity string                    `json:"identity"`
	Context  model.AgentRuntimeContext `json:"context"`
}

// EvaluateResponse carries the decision. Error is set when the pipeline
// failed; Decision is then the fail-closed denial.
type EvaluateResponse struct {
	Decision model.RuntimeGovernanceDecision `json:"decision"`
	Error    string                          `json:"error,omitempty"`
}

// PendingRequest lists what waits on a human for one identity.
type PendingRequest struct {
	Identity string `json:"identity"`
}

// EmergencyStopRequest engages or clears the emergency stop.
type EmergencyStopRequest struct {
	Identity string     `json:"identity"`
	Actor    string     `json:"actor"`
	Engaged  bool       `json:"engaged"`
	Reason   string     `json:"reason,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}

// ReaffirmRequest reaffirms the identity's value anchor.
type ReaffirmRequest struct {
	Identity string `json:"identity"`
	Actor    string `json:"actor"`
	Note     string `json:"note,omitempty"`
}

// CandidateDecision approves or rejects an improvement candidate.
type CandidateDecision struct {
	Identity    string `json:"identity"`
	Actor       string `json:"actor"`
	CandidateID string `json:"candidateId"`
	Approve     bool   `json:"approve"`
	Note        string `json:"note,omitempty"`
}

// CandidateDecisionResponse reports the candidate's resulting status.
type CandidateDecisionResponse struct {
	CandidateID string                   `json:"candidateId"`
	Status      model.CandidateStatus    `json:"status"`
	Chain       *model.CausalChainRecord `json:"chain,omitempty"`
}

// GovernanceServer is the service implemented by Server.
type GovernanceServer interface {
	Evaluate(context.Context, *EvaluateRequest) (*EvaluateResponse, error)
	ListPending(context.Context, *PendingRequest) (*controlroom.Pending, error)
	SetEmergencyStop(context.Context, *EmergencyStopRequest) (*model.HumanControlProfile, error)
	ReaffirmValues(context.Context, *ReaffirmRequest) (*model.ValueAnchor, error)
	DecideCandidate(context.Context, *CandidateDecision) (*CandidateDecisionResponse, error)
}

func unary[Req any, Resp any](name string, call func(GovernanceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GovernanceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GovernanceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the governance service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GovernanceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Evaluate", GovernanceServer.Evaluate),
		unary("ListPending", GovernanceServer.ListPending),
		unary("SetEmergencyStop", GovernanceServer.SetEmergencyStop),
		unary("ReaffirmValues", GovernanceServer.ReaffirmValues),
		unary("DecideCandidate", GovernanceServer.DecideCandidate),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentgov/v1/governance",
}
