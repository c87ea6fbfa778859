package model

// Reason codes are a stable wire protocol consumed by callers.
// They must not change between releases.
const (
	// --- Role constitution ---
	ReasonRolePolicyMissing         = "role_policy_missing"
	ReasonJurisdictionDomainDenied  = "jurisdiction_domain_denied"
	ReasonJurisdictionActionDenied  = "jurisdiction_action_denied"
	ReasonDeniedAction              = "denied_action"
	ReasonToolAccessDenied          = "tool_access_denied"
	ReasonDataAccessDenied          = "data_access_denied"
	ReasonHandoffTargetMismatch     = "handoff_target_mismatch"
	ReasonHandoffRequesterMissing   = "handoff_requester_policy_missing"
	ReasonHandoffRequestNotAllowed  = "handoff_request_not_permitted"
	ReasonHandoffApprovalNotAllowed = "handoff_approval_not_permitted"
	ReasonHandoffOutsideDomain      = "handoff_request_outside_jurisdiction"
	ReasonHandoffOutsideAction      = "handoff_action_outside_jurisdiction"
	ReasonHandoffDeniedAction       = "handoff_denied_action"
	ReasonHandoffToolDenied         = "handoff_tool_access_denied"
	ReasonHandoffDataDenied         = "handoff_data_access_denied"
	ReasonAuthorityTierExceeded     = "authority_tier_exceeded"
	ReasonAuthorityClassExceeded    = "authority_task_class_exceeded"
	ReasonAuthorityImpactExceeded   = "authority_impact_exceeded"
	ReasonAuthorityCostExceeded     = "authority_cost_exceeded"
	ReasonEscalationRuleAction      = "escalation_rule_action"
	ReasonEscalationRuleDomain      = "escalation_rule_domain"
	ReasonEscalationRuleClass       = "escalation_rule_task_class"
	ReasonEscalationRuleImpact      = "escalation_rule_impact"
	ReasonEscalationRuleCost        = "escalation_rule_cost"
	ReasonRolePolicyOK              = "role_policy_ok"
	ReasonAuditRequirementsFailed   = "audit_requirements_failed"
	ReasonRoleRequestInvalid        = "role_request_invalid"

	// --- Pipeline ---
	ReasonContextMissing            = "runtime_context_missing"
	ReasonContextInvalid            = "runtime_context_invalid"
	ReasonAgentNotRegistered        = "agent_not_registered"
	ReasonEmergencyStop             = "human_emergency_stop"
	ReasonAutonomyCeilingExceeded   = "human_autonomy_ceiling_exceeded"
	ReasonValueDriftFreeze          = "value_drift_freeze"
	ReasonValueDriftThrottle        = "value_drift_throttle_execute_blocked"
	ReasonConfidenceMissing         = "confidence_disclosure_missing"
	ReasonConfidenceInvalid         = "confidence_disclosure_invalid"
	ReasonExplainabilityRequired    = "explainability_snapshot_required"
	ReasonExplainabilityInvalid     = "explainability_snapshot_invalid"
	ReasonScopeDomain               = "agent_scope_domain_denied"
	ReasonScopeDecision             = "agent_scope_decision_denied"
	ReasonScopeTool                 = "agent_scope_tool_denied"
	ReasonScopeProhibited           = "agent_scope_prohibited_action"
	ReasonAgentMaxTierExceeded      = "agent_max_tier_exceeded"
	ReasonHandoffContractInvalid    = "handoff_contract_invalid"
	ReasonHandoffContractExpired    = "handoff_contract_expired"
	ReasonCooperationEscalated      = "cooperation_escalated"
	ReasonCooperationNotSelected    = "cooperation_proposal_not_selected"
	ReasonGoalRequired              = "goal_id_required"
	ReasonGoalNotFound              = "goal_not_found"
	ReasonGoalExpired               = "goal_expired_requires_reaffirmation"
	ReasonGoalSuspended             = "goal_suspended"
	ReasonGoalConflict              = "goal_conflict_arbitration_required"
	ReasonTaskDescriptionRequired   = "task_description_required"
	ReasonBehaviorFrozen            = "behavior_frozen"
	ReasonCostContextInvalid        = "cost_context_invalid"
	ReasonEpistemicOverconfident    = "epistemic_overconfidence"
	ReasonEpistemicInsufficient     = "epistemic_evidence_insufficient"
	ReasonExplorationExecuteBlocked = "epistemic_exploration_execute_blocked"
	ReasonSecondOrderBlocked        = "second_order_effects_blocked"
	ReasonNormViolation             = "norm_violation"
	ReasonHorizonCommitmentExceeded = "long_horizon_commitment_exceeded"
	ReasonHorizonDebtExceeded       = "long_horizon_debt_exceeded"
	ReasonEvaluationRotationInvalid = "evaluation_rotation_invalid"
	ReasonEvaluationPassRate        = "evaluation_pass_rate_below_threshold"
	ReasonEvaluationFailureDebt     = "evaluation_failure_debt_blocking"
	ReasonEvaluationRegression      = "evaluation_regression_detected"
	ReasonCostHardLimit             = "cost_hard_limit_exceeded"
	ReasonDraftCannotExecute        = "draft_tier_cannot_execute"
	ReasonPromotionBlocked          = "autonomy_promotion_blocked"
	ReasonPromotionReaffirmation    = "autonomy_promotion_blocked_reaffirmation_required"
	ReasonTrustEscalation           = "trust_escalation_required"
	ReasonSchedulingDeferred        = "scheduling_deferred"
	ReasonAllowed                   = "governance_allowed"
	ReasonInternalError             = "governance_internal_error"
	ReasonServerUnreachable         = "governance_server_unreachable"

	// --- Non-fatal detail codes ---
	ReasonCostSoftLimitDemoted = "cost_soft_limit_tier_demoted"
	ReasonCostModelTierCapped  = "cost_model_tier_capped"
)
