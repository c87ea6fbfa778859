package roles

import "github.com/ppiankov/agentgov/internal/model"

var standardAuditFields = []string{
	model.AuditFieldIdentityKey,
	model.AuditFieldAgentID,
	model.AuditFieldRole,
	model.AuditFieldPolicyVersion,
	model.AuditFieldDomain,
	model.AuditFieldDecision,
	model.AuditFieldReasonCode,
	model.AuditFieldTimestamp,
}

func cents(v int64) *int64 { return &v }

// DefaultRoles returns the built-in role constitutions seeded for new identities.
func DefaultRoles() []model.RolePolicy {
	return []model.RolePolicy{
		{
			Role:        "ceo",
			Version:     1,
			Description: "Executive agent; broad jurisdiction, irreversible actions escalate.",
			Jurisdiction: model.Jurisdiction{
				Domains: []string{"ceo", "strategy", "revenue_ops", "marketing", "support", "finance"},
			},
			AuthorityCeiling: model.AuthorityCeiling{
				MaxTier:               model.TierExecute,
				MaxTaskClass:          model.ClassHighRisk,
				MaxImpact:             model.ImpactDifficult,
				MaxEstimatedCostCents: 500_000,
			},
			DeniedActions: []string{"system_override"},
			EscalationRules: model.EscalationRules{
				AlwaysEscalateActions:  []string{"acquisition", "workforce_reduction"},
				EscalateAboveCostCents: cents(250_000),
			},
			ChainOfCommand: model.ChainOfCommand{
				CanRequestFrom: []string{"revenue_ops", "marketing", "support", "finance"},
				CanApproveFor:  []string{"revenue_ops", "marketing", "support", "finance"},
			},
			DataAccess:        model.DataAccess{AllowedCategories: []string{"*"}},
			ToolAccess:        model.ToolAccess{AllowedTools: []string{"*"}},
			AuditRequirements: model.AuditRequirements{RequiredFields: standardAuditFields},
		},
		{
			Role:        "revenue_ops",
			Version:     1,
			Description: "Pipeline, pricing and quoting.",
			Jurisdiction: model.Jurisdiction{
				Domains: []string{"revenue_ops", "sales", "pricing"},
			},
			AuthorityCeiling: model.AuthorityCeiling{
				MaxTier:               model.TierExecute,
				MaxTaskClass:          model.ClassNovel,
				MaxImpact:             model.ImpactDifficult,
				MaxEstimatedCostCents: 50_000,
			},
			DeniedActions: []string{"system_override", "delete_customer_data"},
			EscalationRules: model.EscalationRules{
				AlwaysEscalateActions:  []string{"discount_over_threshold"},
				EscalateAboveCostCents: cents(25_000),
			},
			ChainOfCommand: model.ChainOfCommand{
				CanRequestFrom: []string{"ceo", "finance", "marketing"},
				CanApproveFor:  []string{"support"},
			},
			DataAccess: model.DataAccess{AllowedCategories: []string{"customer_contact", "pipeline", "pricing"}},
			ToolAccess: model.ToolAccess{AllowedTools: []string{"crm_update", "email_send", "quote_generate", "lead_score"}},
			AuditRequirements: model.AuditRequirements{
				RequiredFields: append([]string{model.AuditFieldDecisionType}, standardAuditFields...),
			},
		},
		{
			Role:        "marketing",
			Version:     1,
			Description: "Content and campaigns; publishing stays at suggest.",
			Jurisdiction: model.Jurisdiction{
				Domains: []string{"marketing", "content", "brand"},
			},
			AuthorityCeiling: model.AuthorityCeiling{
				MaxTier:               model.TierSuggest,
				MaxTaskClass:          model.ClassNovel,
				MaxImpact:             model.ImpactReversible,
				MaxEstimatedCostCents: 20_000,
			},
			DeniedActions: []string{"publish_without_review", "purchase_contact_list"},
			EscalationRules: model.EscalationRules{
				AlwaysEscalateDomains: []string{"brand"},
			},
			ChainOfCommand: model.ChainOfCommand{
				CanRequestFrom: []string{"ceo", "revenue_ops"},
			},
			DataAccess:        model.DataAccess{AllowedCategories: []string{"campaign", "audience_segment"}},
			ToolAccess:        model.ToolAccess{AllowedTools: []string{"content_generate", "social_post", "email_campaign"}},
			AuditRequirements: model.AuditRequirements{RequiredFields: standardAuditFields},
		},
		{
			Role:        "support",
			Version:     1,
			Description: "Customer support; refunds always escalate.",
			Jurisdiction: model.Jurisdiction{
				Domains: []string{"support"},
				Actions: []string{"ticket_reply", "ticket_triage", "kb_lookup", "refund_issue"},
			},
			AuthorityCeiling: model.AuthorityCeiling{
				MaxTier:               model.TierExecute,
				MaxTaskClass:          model.ClassRoutine,
				MaxImpact:             model.ImpactReversible,
				MaxEstimatedCostCents: 5_000,
			},
			DeniedActions: []string{"close_account"},
			EscalationRules: model.EscalationRules{
				AlwaysEscalateActions: []string{"refund_issue"},
			},
			ChainOfCommand: model.ChainOfCommand{
				CanRequestFrom: []string{"revenue_ops", "ceo"},
			},
			DataAccess:        model.DataAccess{AllowedCategories: []string{"customer_contact", "ticket"}},
			ToolAccess:        model.ToolAccess{AllowedTools: []string{"ticket_reply", "knowledge_base", "refund_issue"}},
			AuditRequirements: model.AuditRequirements{RequiredFields: standardAuditFields},
		},
		{
			Role:        "finance",
			Version:     1,
			Description: "Billing and ledger; payroll and large spend escalate.",
			Jurisdiction: model.Jurisdiction{
				Domains: []string{"finance", "billing", "payroll"},
			},
			AuthorityCeiling: model.AuthorityCeiling{
				MaxTier:               model.TierSuggest,
				MaxTaskClass:          model.ClassNovel,
				MaxImpact:             model.ImpactDifficult,
				MaxEstimatedCostCents: 100_000,
			},
			DeniedActions: []string{"wire_transfer_unreviewed"},
			EscalationRules: model.EscalationRules{
				AlwaysEscalateDomains:   []string{"payroll"},
				EscalateAtOrAboveImpact: model.ImpactDifficult,
				EscalateAboveCostCents:  cents(50_000),
			},
			ChainOfCommand: model.ChainOfCommand{
				CanRequestFrom: []string{"ceo"},
				CanApproveFor:  []string{"revenue_ops", "marketing"},
			},
			DataAccess: model.DataAccess{AllowedCategories: []string{"financial", "billing", "payroll"}},
			ToolAccess: model.ToolAccess{AllowedTools: []string{"ledger_read", "invoice_create", "payment_schedule"}},
			AuditRequirements: model.AuditRequirements{
				RequiredFields: append([]string{model.AuditFieldCost}, standardAuditFields...),
			},
		},
	}
}
