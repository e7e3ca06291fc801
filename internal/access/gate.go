// Package access implements the policy-based AccessControlGate of the key management
// system.
//
// Policies are granted per requester. Each policy pairs a resource path pattern with the
// actions it allows. Key names are path-like ("payments/db-password"), so patterns use
// the same wildcard forms as paths:
//   - "*" matches every resource, including the administrative wildcard resource
//   - "payments/*" matches every name below "payments/"
//   - "teams/*/db-password" matches exactly one segment in place of "*"
//
// Policies granted to the requester "*" apply to every requester.
package access

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/kms/internal/errors"
	kmsDomain "github.com/allisson/kms/internal/kms/domain"
	customValidation "github.com/allisson/kms/internal/validation"
)

// AnyRequester grants policies to every requester.
const AnyRequester = "*"

var knownActions = []kmsDomain.Action{
	kmsDomain.ActionCreate,
	kmsDomain.ActionRead,
	kmsDomain.ActionRotate,
	kmsDomain.ActionDelete,
	kmsDomain.ActionList,
	kmsDomain.ActionEncrypt,
	kmsDomain.ActionDecrypt,
}

// Policy allows a set of actions on the resources matching Path.
type Policy struct {
	Path    string             `json:"path"`
	Actions []kmsDomain.Action `json:"actions"`
}

// Validate checks the policy path and actions.
func (p Policy) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Path, validation.Required, customValidation.NotBlank, customValidation.NoWhitespace),
		validation.Field(&p.Actions, validation.Required, validation.Each(validation.In(actionValues()...))),
	)
	return customValidation.WrapValidationError(err)
}

func actionValues() []interface{} {
	values := make([]interface{}, 0, len(knownActions))
	for _, a := range knownActions {
		values = append(values, a)
	}
	return values
}

// Policies maps requesters to the policies granted to them.
type Policies map[string][]Policy

// ParsePolicies decodes and validates a JSON policy set such as
//
//	{"alice": [{"path": "payments/*", "actions": ["read", "encrypt"]}]}
//
// An empty string yields an empty set, which denies everything.
func ParsePolicies(raw string) (Policies, error) {
	policies := Policies{}
	if strings.TrimSpace(raw) == "" {
		return policies, nil
	}
	if err := json.Unmarshal([]byte(raw), &policies); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Sprintf("invalid access policies: %v", err))
	}
	for requester, list := range policies {
		for i, p := range list {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("policy %d of %q: %w", i, requester, err)
			}
		}
	}
	return policies, nil
}

// matchPath reports whether resource matches the policy pattern.
func matchPath(pattern, resource string) bool {
	if pattern == "*" {
		return true
	}

	if !strings.Contains(pattern, "*") {
		return pattern == resource
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if !strings.Contains(prefix, "*") {
			return strings.HasPrefix(resource, prefix+"/")
		}
	}

	// each remaining "*" stands for exactly one segment
	patternParts := strings.Split(pattern, "/")
	resourceParts := strings.Split(resource, "/")
	if len(patternParts) != len(resourceParts) {
		return false
	}
	for i := range patternParts {
		if patternParts[i] != "*" && patternParts[i] != resourceParts[i] {
			return false
		}
	}
	return true
}

// PolicyGate authorizes requesters against a static policy set.
type PolicyGate struct {
	policies Policies
	logger   *slog.Logger
}

// NewPolicyGate creates a gate over policies. The gate keeps its own copy.
func NewPolicyGate(policies Policies, logger *slog.Logger) *PolicyGate {
	copied := make(Policies, len(policies))
	for requester, list := range policies {
		copied[requester] = slices.Clone(list)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyGate{policies: copied, logger: logger}
}

// Check reports whether requester may perform action on resource.
func (g *PolicyGate) Check(ctx context.Context, resource string, action kmsDomain.Action, requester string) bool {
	if resource == "" || action == "" || requester == "" {
		return false
	}

	if g.allowed(g.policies[requester], resource, action) ||
		g.allowed(g.policies[AnyRequester], resource, action) {
		return true
	}

	g.logger.DebugContext(ctx, "access denied",
		slog.String("requester", requester),
		slog.String("resource", resource),
		slog.String("action", string(action)),
	)
	return false
}

func (g *PolicyGate) allowed(policies []Policy, resource string, action kmsDomain.Action) bool {
	for _, p := range policies {
		if matchPath(p.Path, resource) && slices.Contains(p.Actions, action) {
			return true
		}
	}
	return false
}
