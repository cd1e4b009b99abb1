// Package template renders campaign subjects and bodies.
//
// Rendering is two phases: variable substitution, then spintax
// expansion. Substitution knows a fixed set of variables; anything else
// wrapped in braces survives rendering and is caught by
// HasUnresolvedPlaceholders, which blocks delivery upstream.
package template

import (
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Vars holds the per-recipient substitution values.
type Vars struct {
	FirstName      string
	Email          string
	UnsubscribeURL string
}

// Engine renders templates. Safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewEngine creates an engine seeded from the clock.
func NewEngine() *Engine {
	return NewEngineWithSeed(time.Now().UnixNano())
}

// NewEngineWithSeed creates an engine with a fixed seed. Tests use this
// to make spintax choices reproducible.
func NewEngineWithSeed(seed int64) *Engine {
	return &Engine{rnd: rand.New(rand.NewSource(seed))}
}

// Render substitutes variables and expands spintax, in that order.
// Unknown {{...}} tokens are left verbatim for the caller to detect.
func (e *Engine) Render(text string, vars Vars) string {
	return e.expandSpintax(substitute(text, vars))
}

func substitute(text string, vars Vars) string {
	replacements := map[string]string{
		"{{firstName}}":      vars.FirstName,
		"{{email}}":          vars.Email,
		"{{unsubscribeUrl}}": vars.UnsubscribeURL,
	}
	for token, value := range replacements {
		text = strings.ReplaceAll(text, token, value)
	}
	return text
}

// spintaxGroup matches an innermost alternation group: braces containing
// at least one pipe and no nested braces. Groups without a pipe are not
// spintax and are deliberately left alone so the unresolved-placeholder
// scan can reject them.
var spintaxGroup = regexp.MustCompile(`\{([^{}|]*\|[^{}]*)\}`)

func (e *Engine) expandSpintax(text string) string {
	for {
		loc := spintaxGroup.FindStringSubmatchIndex(text)
		if loc == nil {
			return text
		}
		options := strings.Split(text[loc[2]:loc[3]], "|")
		e.mu.Lock()
		choice := options[e.rnd.Intn(len(options))]
		e.mu.Unlock()
		text = text[:loc[0]] + choice + text[loc[1]:]
	}
}

// unresolvedPattern matches any leftover {{...}} or {...} group after
// rendering. Either form in output means a typoed variable or malformed
// spintax reached the final content.
var unresolvedPattern = regexp.MustCompile(`\{\{[^{}]+\}\}|\{[^{}]+\}`)

// HasUnresolvedPlaceholders reports whether rendered text still contains
// brace-wrapped tokens.
func HasUnresolvedPlaceholders(text string) bool {
	return unresolvedPattern.MatchString(text)
}

// UnsubscribeURL builds the per-recipient unsubscribe link.
func UnsubscribeURL(baseURL, email string) string {
	return strings.TrimRight(baseURL, "/") + "/unsubscribe?email=" + url.QueryEscape(email)
}
