package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// RequirementKind tags the predicate a Requirement applies.
type RequirementKind int

const (
	KindPublic RequirementKind = iota
	KindAuthenticated
	KindAnyOf
	KindExactly
	KindServiceSigned
)

// Requirement is the authority a route demands.
type Requirement struct {
	Kind  RequirementKind
	Roles []string
}

// Public lets anyone through.
func Public() Requirement { return Requirement{Kind: KindPublic} }

// Authenticated accepts any resolved principal.
func Authenticated() Requirement { return Requirement{Kind: KindAuthenticated} }

// AnyOf accepts a principal holding at least one of roles.
func AnyOf(roles ...string) Requirement {
	return Requirement{Kind: KindAnyOf, Roles: normalizeRoles(roles)}
}

// Exactly accepts a principal holding the single named role.
func Exactly(role string) Requirement {
	return Requirement{Kind: KindExactly, Roles: []string{NormalizeRole(role)}}
}

// ServiceSigned accepts requests carrying a verified service signature.
func ServiceSigned() Requirement { return Requirement{Kind: KindServiceSigned} }

func (r Requirement) String() string {
	switch r.Kind {
	case KindPublic:
		return "public"
	case KindAuthenticated:
		return "authenticated"
	case KindAnyOf:
		return "any_of(" + strings.Join(r.Roles, ",") + ")"
	case KindExactly:
		return "exactly(" + strings.Join(r.Roles, ",") + ")"
	case KindServiceSigned:
		return "service_signed"
	default:
		return fmt.Sprintf("unknown(%d)", int(r.Kind))
	}
}

// Access is what the policy knows about a request's caller.
type Access struct {
	Principal *Principal
	Service   bool
}

// Decision is the outcome of evaluating a requirement.
type Decision int

const (
	Allow Decision = iota
	Unauthenticated
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "forbidden"
	}
}

// Evaluate applies the requirement. Unknown kinds are denied.
func (r Requirement) Evaluate(a Access) Decision {
	switch r.Kind {
	case KindPublic:
		return Allow
	case KindServiceSigned:
		if a.Service {
			return Allow
		}
		return Unauthenticated
	}
	if a.Principal == nil {
		return Unauthenticated
	}
	switch r.Kind {
	case KindAuthenticated:
		return Allow
	case KindAnyOf:
		if a.Principal.HasAnyRole(r.Roles...) {
			return Allow
		}
	case KindExactly:
		if len(r.Roles) == 1 && a.Principal.HasRole(r.Roles[0]) {
			return Allow
		}
	}
	return Forbidden
}

// Rule binds a path pattern (and optionally a method) to a requirement.
//
// Pattern segments are literals, {name} for exactly one segment, or a
// trailing ** for zero or more segments.
type Rule struct {
	Method      string
	Pattern     string
	Requirement Requirement

	segments []string
}

// Policy is an ordered rule table; the first matching rule wins.
type Policy struct {
	rules    []Rule
	fallback Rule
}

// NewPolicy compiles rules in order. Requests matching no rule require an
// authenticated principal.
func NewPolicy(rules ...Rule) (*Policy, error) {
	p := &Policy{
		rules:    make([]Rule, 0, len(rules)),
		fallback: Rule{Pattern: "/**", Requirement: Authenticated(), segments: []string{"**"}},
	}
	for i, rule := range rules {
		segments, err := compilePattern(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rule.Method = strings.ToUpper(strings.TrimSpace(rule.Method))
		rule.segments = segments
		p.rules = append(p.rules, rule)
	}
	return p, nil
}

// MustPolicy is NewPolicy that panics on malformed patterns.
func MustPolicy(rules ...Rule) *Policy {
	p, err := NewPolicy(rules...)
	if err != nil {
		panic(err)
	}
	return p
}

// Rules returns a copy of the compiled table.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Match returns the first rule matching method and path, or the fallback.
func (p *Policy) Match(method, path string) Rule {
	parts := splitPath(path)
	for _, rule := range p.rules {
		if rule.Method != "" && rule.Method != method {
			continue
		}
		if matchSegments(rule.segments, parts) {
			return rule
		}
	}
	return p.fallback
}

// Decide evaluates the first matching rule against access.
func (p *Policy) Decide(method, path string, a Access) (Decision, Rule) {
	if method == http.MethodHead {
		method = http.MethodGet
	}
	rule := p.Match(method, path)
	return rule.Requirement.Evaluate(a), rule
}

func compilePattern(pattern string) ([]string, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("pattern %q must start with /", pattern)
	}
	segments := splitPath(pattern)
	for i, seg := range segments {
		switch {
		case seg == "**":
			if i != len(segments)-1 {
				return nil, fmt.Errorf("pattern %q: ** must be the last segment", pattern)
			}
		case strings.Contains(seg, "*"):
			return nil, fmt.Errorf("pattern %q: unsupported wildcard %q", pattern, seg)
		case strings.HasPrefix(seg, "{") != strings.HasSuffix(seg, "}"):
			return nil, fmt.Errorf("pattern %q: malformed parameter %q", pattern, seg)
		}
	}
	return segments, nil
}

func matchSegments(pattern, path []string) bool {
	for i, seg := range pattern {
		if seg == "**" {
			return true
		}
		if i >= len(path) {
			return false
		}
		if isParam(seg) {
			if path[i] == "" {
				return false
			}
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return len(path) == len(pattern)
}

func isParam(seg string) bool {
	return len(seg) > 2 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

func splitPath(path string) []string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
