package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgov/internal/client"
	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/server"
)

var (
	ctlIdentity string
	ctlActor    string
	ctlRemote   string
	ctlNote     string
	ctlJSON     bool
	ctlReason   string
	ctlFor      string

	profAutonomy  string
	profModelTier string
	profMinConf   float64
	profNovelty   float64
	profAmbiguity int
)

func init() {
	rootCmd.AddCommand(controlCmd)
	pf := controlCmd.PersistentFlags()
	pf.StringVar(&ctlIdentity, "identity", "", "Identity to act on (default first configured identity)")
	pf.StringVar(&ctlActor, "actor", defaultActor(), "Human recorded as making the decision")
	pf.StringVar(&ctlRemote, "remote", "", "Act through a running server at this gRPC address")

	controlCmd.AddCommand(pendingCmd, approveCmd, rejectCmd, rollbackCmd, ruleCmd,
		reaffirmCmd, stopCmd, resumeCmd, freezeCmd, unfreezeCmd, profileCmd)
	ruleCmd.AddCommand(ruleApproveCmd, ruleRejectCmd)

	pendingCmd.Flags().BoolVar(&ctlJSON, "json", false, "Output JSON")
	for _, c := range []*cobra.Command{approveCmd, rejectCmd, rollbackCmd, ruleApproveCmd, ruleRejectCmd, reaffirmCmd} {
		c.Flags().StringVarP(&ctlNote, "note", "m", "", "Explanation recorded with the decision")
	}
	for _, c := range []*cobra.Command{stopCmd, freezeCmd} {
		c.Flags().StringVar(&ctlReason, "reason", "", "Why")
		c.Flags().StringVar(&ctlFor, "for", "", "Expire after this duration (e.g. 2h); default until lifted")
	}

	f := profileCmd.Flags()
	f.StringVar(&profAutonomy, "autonomy-ceiling", "", "Highest tier any agent may act at (draft|suggest|execute)")
	f.StringVar(&profModelTier, "max-model-tier", "", "Highest model tier agents may route to")
	f.Float64Var(&profMinConf, "min-confidence", 0, "Minimum self-reported confidence")
	f.Float64Var(&profNovelty, "novelty-threshold", 0, "Novelty score that forces review")
	f.IntVar(&profAmbiguity, "max-ambiguity", 0, "Ambiguity level that forces review")
}

var controlCmd = &cobra.Command{
	Use:     "control",
	Aliases: []string{"ctl"},
	Short:   "Control Room: human decisions over agent governance",
}

// controlRoom is the subset of Control Room operations available both
// locally and over gRPC.
type controlRoom interface {
	ListPending(ctx context.Context, identity string) (controlroom.Pending, error)
	SetEmergencyStop(ctx context.Context, req server.EmergencyStopRequest) (model.HumanControlProfile, error)
	ReaffirmValues(ctx context.Context, identity, actor, note string) (model.ValueAnchor, error)
	DecideCandidate(ctx context.Context, req server.CandidateDecision) (server.CandidateDecisionResponse, error)
}

// localControl adapts the in-process service to controlRoom.
type localControl struct{ svc *controlroom.Service }

func (l localControl) ListPending(ctx context.Context, identity string) (controlroom.Pending, error) {
	return l.svc.ListPending(ctx, identity)
}

func (l localControl) SetEmergencyStop(ctx context.Context, req server.EmergencyStopRequest) (model.HumanControlProfile, error) {
	return l.svc.SetEmergencyStop(ctx, req.Identity, req.Actor, req.Engaged, req.Reason, req.Until)
}

func (l localControl) ReaffirmValues(ctx context.Context, identity, actor, note string) (model.ValueAnchor, error) {
	return l.svc.ReaffirmValues(ctx, identity, actor, note)
}

func (l localControl) DecideCandidate(ctx context.Context, req server.CandidateDecision) (server.CandidateDecisionResponse, error) {
	if !req.Approve {
		c, err := l.svc.RejectCandidate(ctx, req.Identity, req.CandidateID, req.Actor, req.Note)
		return server.CandidateDecisionResponse{CandidateID: c.ID, Status: c.Status}, err
	}
	chain, err := l.svc.ApproveCandidate(ctx, req.Identity, req.CandidateID, req.Actor, req.Note)
	if err != nil {
		return server.CandidateDecisionResponse{}, err
	}
	return server.CandidateDecisionResponse{CandidateID: req.CandidateID, Status: model.CandidateApplied, Chain: &chain}, nil
}

// withControl runs fn against a remote server when --remote is set, else
// against a locally opened store.
func withControl(cmd *cobra.Command, fn func(controlRoom) error) error {
	if ctlRemote != "" {
		c, err := client.New(ctlRemote)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(c)
	}
	return withService(cmd, func(svc *controlroom.Service) error {
		return fn(localControl{svc})
	})
}

var errLocalOnly = errors.New("this operation is not exposed over gRPC; drop --remote or use the HTTP Control Room")

// withService runs fn against a locally opened Control Room.
func withService(cmd *cobra.Command, fn func(*controlroom.Service) error) error {
	if ctlRemote != "" {
		return errLocalOnly
	}
	rt, err := openRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt.srv.Control())
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List everything waiting on a human",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(cmd, func(c controlRoom) error {
			p, err := c.ListPending(cmd.Context(), identityOr(ctlIdentity))
			if err != nil {
				return err
			}
			if ctlJSON {
				return printJSON(cmd, p)
			}
			printPending(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

func printPending(w io.Writer, p controlroom.Pending) {
	if p.EmergencyStop {
		fmt.Fprintln(w, "EMERGENCY STOP ENGAGED")
	}
	if p.ReaffirmationDue {
		fmt.Fprintln(w, "Value anchor reaffirmation is due")
	}
	fmt.Fprintf(w, "Candidates (%d)\n", len(p.Candidates))
	for _, c := range p.Candidates {
		fmt.Fprintf(w, "  %s  %s  %s\n", c.ID, c.Target, c.Description)
	}
	fmt.Fprintf(w, "Rules (%d)\n", len(p.Rules))
	for _, r := range p.Rules {
		fmt.Fprintf(w, "  %s  %s\n", r.ID, r.Statement)
	}
	fmt.Fprintf(w, "Goal conflicts (%d)\n", len(p.GoalConflicts))
	for _, g := range p.GoalConflicts {
		fmt.Fprintf(w, "  %s  %s vs %s\n", g.ID, g.GoalA, g.GoalB)
	}
	fmt.Fprintf(w, "Disagreements (%d)\n", len(p.Disagreements))
	for _, d := range p.Disagreements {
		fmt.Fprintf(w, "  %s  %s (%d proposals)\n", d.ID, d.Subject, len(d.Proposals))
	}
	fmt.Fprintf(w, "Freezes (%d)\n", len(p.Freezes))
	for _, f := range p.Freezes {
		fmt.Fprintf(w, "  %s  %s  %s\n", f.ID, f.TaskType, f.Reason)
	}
}

func decideCandidate(approve bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withControl(cmd, func(c controlRoom) error {
			resp, err := c.DecideCandidate(cmd.Context(), server.CandidateDecision{
				Identity:    identityOr(ctlIdentity),
				Actor:       ctlActor,
				CandidateID: args[0],
				Approve:     approve,
				Note:        ctlNote,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.CandidateID, resp.Status)
			return nil
		})
	}
}

var approveCmd = &cobra.Command{
	Use:   "approve <candidate-id>",
	Short: "Approve and apply an improvement candidate",
	Args:  cobra.ExactArgs(1),
	RunE:  decideCandidate(true),
}

var rejectCmd = &cobra.Command{
	Use:   "reject <candidate-id>",
	Short: "Reject an improvement candidate",
	Args:  cobra.ExactArgs(1),
	RunE:  decideCandidate(false),
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <candidate-id>",
	Short: "Roll back an applied improvement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *controlroom.Service) error {
			c, err := svc.RollbackCandidate(cmd.Context(), identityOr(ctlIdentity), args[0], ctlActor, ctlNote)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", c.ID, c.Status)
			return nil
		})
	},
}

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Decide distilled rules",
}

func decideRule(approve bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *controlroom.Service) error {
			decide := svc.RejectRule
			if approve {
				decide = svc.ApproveRule
			}
			r, err := decide(cmd.Context(), identityOr(ctlIdentity), args[0], ctlActor, ctlNote)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", r.ID, r.Status)
			return nil
		})
	}
}

var ruleApproveCmd = &cobra.Command{
	Use:   "approve <rule-id>",
	Short: "Adopt a distilled rule",
	Args:  cobra.ExactArgs(1),
	RunE:  decideRule(true),
}

var ruleRejectCmd = &cobra.Command{
	Use:   "reject <rule-id>",
	Short: "Reject a distilled rule",
	Args:  cobra.ExactArgs(1),
	RunE:  decideRule(false),
}

var reaffirmCmd = &cobra.Command{
	Use:   "reaffirm",
	Short: "Reaffirm the value anchor and lift drift freezes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControl(cmd, func(c controlRoom) error {
			a, err := c.ReaffirmValues(cmd.Context(), identityOr(ctlIdentity), ctlActor, ctlNote)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "value anchor v%d reaffirmed by %s\n", a.Version, a.ReaffirmedBy)
			return nil
		})
	},
}

func setStop(engaged bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		until, err := parseUntil(ctlFor, time.Now())
		if err != nil {
			return err
		}
		return withControl(cmd, func(c controlRoom) error {
			p, err := c.SetEmergencyStop(cmd.Context(), server.EmergencyStopRequest{
				Identity: identityOr(ctlIdentity),
				Actor:    ctlActor,
				Engaged:  engaged,
				Reason:   ctlReason,
				Until:    until,
			})
			if err != nil {
				return err
			}
			state := "released"
			if p.EmergencyStop {
				state = "engaged"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "emergency stop %s\n", state)
			return nil
		})
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Engage the emergency stop: every evaluation is denied",
	Args:  cobra.NoArgs,
	RunE:  setStop(true),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Release the emergency stop",
	Args:  cobra.NoArgs,
	RunE:  setStop(false),
}

var freezeCmd = &cobra.Command{
	Use:   "freeze <task-type>",
	Short: "Freeze autonomous work on a task type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		until, err := parseUntil(ctlFor, time.Now())
		if err != nil {
			return err
		}
		return withService(cmd, func(svc *controlroom.Service) error {
			f, err := svc.FreezeTaskType(cmd.Context(), identityOr(ctlIdentity), ctlActor, args[0], ctlReason, until)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "froze %s (%s)\n", f.TaskType, f.ID)
			return nil
		})
	},
}

var unfreezeCmd = &cobra.Command{
	Use:   "unfreeze <task-type>",
	Short: "Lift freezes on a task type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *controlroom.Service) error {
			n, err := svc.UnfreezeTaskType(cmd.Context(), identityOr(ctlIdentity), ctlActor, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lifted %d freeze(s)\n", n)
			return nil
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or change the human control profile",
	Long:  "With no flags, prints the profile. Flags that are set are changed; the\nrest keep their values.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, changed := profilePatch(cmd)
		return withService(cmd, func(svc *controlroom.Service) error {
			identity := identityOr(ctlIdentity)
			var (
				p   model.HumanControlProfile
				err error
			)
			if changed {
				p, err = svc.UpdateControlProfile(cmd.Context(), identity, ctlActor, patch)
			} else {
				p, err = svc.ControlProfile(cmd.Context(), identity)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		})
	},
}

func profilePatch(cmd *cobra.Command) (controlroom.ProfilePatch, bool) {
	var patch controlroom.ProfilePatch
	f := cmd.Flags()
	if f.Changed("autonomy-ceiling") {
		t := model.PermissionTier(profAutonomy)
		patch.AutonomyCeiling = &t
	}
	if f.Changed("max-model-tier") {
		t := model.ModelTier(profModelTier)
		patch.MaxModelTier = &t
	}
	if f.Changed("min-confidence") {
		patch.MinConfidence = &profMinConf
	}
	if f.Changed("novelty-threshold") {
		patch.NoveltyThreshold = &profNovelty
	}
	if f.Changed("max-ambiguity") {
		patch.MaxAmbiguity = &profAmbiguity
	}
	changed := patch.AutonomyCeiling != nil || patch.MaxModelTier != nil ||
		patch.MinConfidence != nil || patch.NoveltyThreshold != nil || patch.MaxAmbiguity != nil
	return patch, changed
}
