package recon

import "bitbucket.org/mmdatafocus/regsync_backend/models"

// LinkRule declares one repairable relation: rows of SourceKind whose
// SourceField is dangling get matched to unclaimed rows of TargetKind that
// share the secondary key. Adding a relation pair means adding a rule
// here, not new code.
type LinkRule struct {
	Name           string
	SourceKind     models.EntityKind
	SourceField    string
	TargetKind     models.EntityKind
	SourceKeyField string
	TargetKeyField string
}

// DefaultLinkRules covers the relation pairs the upstream base is known to
// drop during partial syncs.
var DefaultLinkRules = []LinkRule{
	{
		Name:           "invoice-registration",
		SourceKind:     models.KindInvoice,
		SourceField:    "registration_id",
		TargetKind:     models.KindRegistration,
		SourceKeyField: "customer_id",
		TargetKeyField: "customer_id",
	},
	{
		Name:           "registration-invoice",
		SourceKind:     models.KindRegistration,
		SourceField:    "invoice_id",
		TargetKind:     models.KindInvoice,
		SourceKeyField: "customer_id",
		TargetKeyField: "customer_id",
	},
	{
		Name:           "payment-invoice",
		SourceKind:     models.KindPayment,
		SourceField:    "invoice_id",
		TargetKind:     models.KindInvoice,
		SourceKeyField: "customer_id",
		TargetKeyField: "customer_id",
	},
}

// LinkRuleByName returns the rule with the given name, or false.
func LinkRuleByName(name string) (LinkRule, bool) {
	for _, rule := range DefaultLinkRules {
		if rule.Name == name {
			return rule, true
		}
	}
	return LinkRule{}, false
}

// LinkRulesForKind returns the rules whose source is the given kind.
func LinkRulesForKind(kind models.EntityKind) []LinkRule {
	var out []LinkRule
	for _, rule := range DefaultLinkRules {
		if rule.SourceKind == kind {
			out = append(out, rule)
		}
	}
	return out
}
