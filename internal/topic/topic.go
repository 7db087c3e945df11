// Package topic implements topic-pattern token substitution and filter
// matching (spec.md §3 "Topic pattern").
package topic

import (
	"maps"
	"regexp"
	"strings"

	"github.com/nimblerpc/core/errors"
)

type (
	// Pattern applies tokens to a named topic pattern to resolve a
	// concrete topic for publishing.
	Pattern struct {
		name    string
		pattern string
		tokens  map[string]string
	}

	// Filter is a subscription filter derived from a Pattern (unresolved
	// tokens become "+" wildcards) that can also parse tokens back out of a
	// matching topic.
	Filter struct {
		filter string
		regex  *regexp.Regexp
		names  []string
		tokens map[string]string
	}
)

const (
	label = `[^ "+#{}/]+`
	token = `\{` + label + `\}`
	level = `(` + label + `|` + token + `)`
	match = `(` + label + `)`
)

var (
	matchLabel   = regexp.MustCompile(`^` + label + `$`)
	matchToken   = regexp.MustCompile(token) // no anchors: used for replacement
	matchTopic   = regexp.MustCompile(`^` + label + `(/` + label + `)*$`)
	matchPattern = regexp.MustCompile(`^` + level + `(/` + level + `)*$`)
)

// ValidateComponent validates a standalone pattern fragment, such as a
// response-topic prefix or suffix, before it is spliced into a larger
// pattern.
func ValidateComponent(name, msgOnErr, pattern string) error {
	if !matchPattern.MatchString(pattern) {
		return &errors.Error{
			Message:       msgOnErr,
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  name,
			PropertyValue: pattern,
		}
	}
	return nil
}

// NewPattern creates a new topic pattern, resolving any namespace and the
// provided token values that are known at construction time.
func NewPattern(name, pattern string, tokens map[string]string, namespace string) (*Pattern, error) {
	if namespace != "" {
		if !ValidTopic(namespace) {
			return nil, &errors.Error{
				Message:       "invalid topic namespace",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "TopicNamespace",
				PropertyValue: namespace,
			}
		}
		pattern = namespace + "/" + pattern
	}

	if !matchPattern.MatchString(pattern) {
		return nil, &errors.Error{
			Message:       "invalid topic pattern",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  name,
			PropertyValue: pattern,
		}
	}

	if err := validateTokens(errors.ConfigurationInvalid, tokens); err != nil {
		return nil, err
	}
	for t, v := range tokens {
		pattern = strings.ReplaceAll(pattern, "{"+t+"}", v)
	}

	return &Pattern{name, pattern, tokens}, nil
}

// Topic fully resolves the pattern for publishing, applying any
// additional per-call tokens. Resolution fails if any remaining token is
// missing or its replacement is not a valid single-level segment.
func (p *Pattern) Topic(tokens map[string]string) (string, error) {
	out := p.pattern

	if err := validateTokens(errors.ArgumentInvalid, tokens); err != nil {
		return "", err
	}
	for t, v := range tokens {
		out = strings.ReplaceAll(out, "{"+t+"}", v)
	}

	if !ValidTopic(out) {
		if missing := matchToken.FindString(out); missing != "" {
			return "", &errors.Error{
				Message:      "topic token not resolved",
				Kind:         errors.ArgumentInvalid,
				PropertyName: missing[1 : len(missing)-1],
			}
		}
		return "", &errors.Error{
			Message:       "invalid topic",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  p.name,
			PropertyValue: out,
		}
	}
	return out, nil
}

// Filter builds a subscription filter from the pattern, turning any
// unresolved tokens into "+" wildcards.
func (p *Pattern) Filter() (*Filter, error) {
	names := matchToken.FindAllString(p.pattern, -1)
	for i, t := range names {
		names[i] = t[1 : len(t)-1]
	}

	escaped := regexp.QuoteMeta(p.pattern)
	for _, t := range names {
		escaped = strings.ReplaceAll(escaped, `\{`+t+`\}`, match)
	}
	regex, err := regexp.Compile(`^` + escaped + `$`)
	if err != nil {
		return nil, err
	}

	filter := matchToken.ReplaceAllString(p.pattern, "+")
	return &Filter{filter, regex, names, p.tokens}, nil
}

// String returns the MQTT topic filter string.
func (f *Filter) String() string {
	return f.filter
}

// Tokens reports whether topic matches the filter and, if so, resolves
// its topic tokens (both the ones parsed out of topic and the ones fixed
// at construction time).
func (f *Filter) Tokens(topic string) (map[string]string, bool) {
	m := f.regex.FindStringSubmatch(topic)
	if m == nil {
		return nil, false
	}

	tokens := make(map[string]string, len(f.names)+len(f.tokens))
	for i, val := range m[1:] {
		tokens[f.names[i]] = val
	}
	maps.Copy(tokens, f.tokens)
	return tokens, true
}

// ValidTopic reports whether topic is a fully-resolved (no tokens, no
// wildcards) MQTT topic.
func ValidTopic(topic string) bool {
	return matchTopic.MatchString(topic)
}

// ValidateShareName reports whether shareName is valid for use in a
// "$share/{group}/" subscription prefix.
func ValidateShareName(shareName string) error {
	if shareName != "" && !matchLabel.MatchString(shareName) {
		return &errors.Error{
			Message:       "invalid share name",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "ShareName",
			PropertyValue: shareName,
		}
	}
	return nil
}

// validateTokens checks that every token name and value is a valid single
// topic label. kind lets the caller distinguish construction-time token
// errors (ConfigurationInvalid) from call-time ones (ArgumentInvalid).
func validateTokens(kind errors.Kind, tokens map[string]string) error {
	for k, v := range tokens {
		if !matchLabel.MatchString(k) || !matchLabel.MatchString(v) {
			return &errors.Error{
				Message:       "invalid topic token",
				Kind:          kind,
				PropertyName:  k,
				PropertyValue: v,
			}
		}
	}
	return nil
}
