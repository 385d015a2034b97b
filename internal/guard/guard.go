package guard

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines the limits of a conversation turn and the blob layout a
// tenant may write to.
type Policy struct {
	MaxSteps          int      `json:"max_steps" yaml:"max_steps"`
	MaxResponseTokens int      `json:"max_response_tokens" yaml:"max_response_tokens"`
	BlobGlobs         []string `json:"blob_globs" yaml:"blob_globs"` // relative to the tenant root
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	MaxSteps:          5,
	MaxResponseTokens: 350,
	BlobGlobs:         []string{"data/raw/*", "data/*/text.txt"},
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
	Fatal   bool
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	if p.MaxSteps <= 0 {
		p.MaxSteps = DefaultPolicy.MaxSteps
	}
	if p.MaxResponseTokens <= 0 {
		p.MaxResponseTokens = DefaultPolicy.MaxResponseTokens
	}
	if len(p.BlobGlobs) == 0 {
		p.BlobGlobs = DefaultPolicy.BlobGlobs
	}
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckStep reports whether the zero-based step may run.
func (g *Guard) CheckStep(step int) *Violation {
	if step >= g.policy.MaxSteps {
		return &Violation{Rule: "max_steps", Message: fmt.Sprintf("step %d exceeds limit of %d", step+1, g.policy.MaxSteps), Fatal: true}
	}
	return nil
}

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// CheckTenant rejects identifiers that could escape a key or path namespace.
func (g *Guard) CheckTenant(tenant string) *Violation {
	if !tenantPattern.MatchString(tenant) {
		return &Violation{Rule: "tenant", Message: "invalid tenant id: " + tenant, Fatal: true}
	}
	return nil
}

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// CheckSession rejects client-supplied session ids that are not plain
// tokens. UUIDs pass.
func (g *Guard) CheckSession(id string) *Violation {
	if !sessionPattern.MatchString(id) {
		return &Violation{Rule: "session", Message: "invalid session id", Fatal: true}
	}
	return nil
}

// CheckBlobPath verifies a blob path stays inside the tenant's tree and
// matches one of the allowed layouts.
func (g *Guard) CheckBlobPath(tenant, p string) *Violation {
	if v := g.CheckTenant(tenant); v != nil {
		return v
	}
	if v := g.CheckDangerousPath(p); v != nil {
		return v
	}

	rel, ok := strings.CutPrefix(p, tenant+"/")
	if !ok {
		return &Violation{Rule: "blob_tenant", Message: "blob outside tenant root: " + p, Fatal: true}
	}
	for _, pattern := range g.policy.BlobGlobs {
		match, err := doublestar.Match(pattern, rel)
		if err == nil && match {
			return nil
		}
	}
	return &Violation{Rule: "blob_globs", Message: "blob path not allowed: " + p, Fatal: true}
}

// CheckDangerousPath blocks absolute paths and parent traversal.
func (g *Guard) CheckDangerousPath(p string) *Violation {
	if p == "" || path.IsAbs(p) || strings.HasPrefix(p, "\\") {
		return &Violation{Rule: "path", Message: "absolute or empty path: " + p, Fatal: true}
	}
	if path.Clean(p) != p {
		return &Violation{Rule: "path", Message: "path is not canonical: " + p, Fatal: true}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return &Violation{Rule: "path", Message: "path escapes root: " + p, Fatal: true}
		}
	}
	return nil
}
