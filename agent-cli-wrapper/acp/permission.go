package acp

import (
	"fmt"
	"strings"
)

// Permission outcomes.
const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

// PermissionPolicy answers session/request_permission without asking a
// person.
type PermissionPolicy interface {
	Decide(req RequestPermissionRequest) PermissionOutcome
}

// PermissionPolicyFunc adapts a function to PermissionPolicy.
type PermissionPolicyFunc func(req RequestPermissionRequest) PermissionOutcome

// Decide calls f.
func (f PermissionPolicyFunc) Decide(req RequestPermissionRequest) PermissionOutcome {
	return f(req)
}

// AutoAllow selects the first option whose id, name or kind mentions
// "allow" or "yes", else the first option. With no options the request is
// cancelled.
var AutoAllow PermissionPolicy = PermissionPolicyFunc(func(req RequestPermissionRequest) PermissionOutcome {
	if len(req.Options) == 0 {
		return PermissionOutcome{Outcome: OutcomeCancelled}
	}
	for _, opt := range req.Options {
		if looksAffirmative(opt) {
			return PermissionOutcome{Outcome: OutcomeSelected, OptionID: opt.ID}
		}
	}
	return PermissionOutcome{Outcome: OutcomeSelected, OptionID: req.Options[0].ID}
})

// Reject selects the first rejecting option, else cancels.
var Reject PermissionPolicy = PermissionPolicyFunc(func(req RequestPermissionRequest) PermissionOutcome {
	for _, opt := range req.Options {
		if looksNegative(opt) {
			return PermissionOutcome{Outcome: OutcomeSelected, OptionID: opt.ID}
		}
	}
	return PermissionOutcome{Outcome: OutcomeCancelled}
})

func looksAffirmative(opt PermissionOption) bool {
	if looksNegative(opt) {
		return false
	}
	for _, s := range []string{opt.Name, opt.ID, opt.Kind} {
		l := strings.ToLower(s)
		if strings.Contains(l, "allow") || strings.Contains(l, "yes") {
			return true
		}
	}
	return false
}

func looksNegative(opt PermissionOption) bool {
	for _, s := range []string{opt.Kind, opt.Name, opt.ID} {
		l := strings.ToLower(s)
		if l == "no" || strings.Contains(l, "reject") || strings.Contains(l, "deny") || strings.Contains(l, "disallow") {
			return true
		}
	}
	return false
}

// PolicyByName returns the policy for a config value: "auto_allow" (or
// empty) or "reject".
func PolicyByName(name string) (PermissionPolicy, error) {
	switch strings.ToLower(name) {
	case "", "auto_allow", "auto-allow", "allow":
		return AutoAllow, nil
	case "reject", "deny":
		return Reject, nil
	}
	return nil, fmt.Errorf("unknown permission policy %q", name)
}

// isPermissionMethod matches session/request_permission and its
// camel-case spellings.
func isPermissionMethod(method string) bool {
	m := strings.ToLower(method)
	return strings.Contains(m, "request_permission") || strings.Contains(m, "requestpermission")
}
