package membership

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Unbounded is the capacity of a topic class that admits any number of members.
const Unbounded = 0

const (
	// DefaultCapacity is the member limit of the bounded (public) topic class.
	DefaultCapacity = 2

	// DefaultPrivatePattern matches pairwise topics such as /topic/private.alice.bob.
	DefaultPrivatePattern = `^/topic/private\.`
)

// Class names.
const (
	PublicClass  = "public"
	PrivateClass = "private"
)

// Class is a family of topics sharing one capacity limit.
type Class struct {
	Name     string
	Pattern  *regexp.Regexp
	Capacity int
}

// Bounded reports whether the class enforces a member limit.
func (c Class) Bounded() bool {
	return c.Capacity > Unbounded
}

// Policy resolves the class of a topic. Classes are matched in order and the
// first match wins; topics matching no class fall into Default.
type Policy struct {
	Classes []Class
	Default Class
}

// DefaultPolicy returns a bounded public class of DefaultCapacity and an
// unbounded private class for pairwise topics.
func DefaultPolicy() Policy {
	return Policy{
		Classes: []Class{{
			Name:     PrivateClass,
			Pattern:  regexp.MustCompile(DefaultPrivatePattern),
			Capacity: Unbounded,
		}},
		Default: Class{Name: PublicClass, Capacity: DefaultCapacity},
	}
}

// NewPolicy builds a two-class policy from configuration values. An empty
// privatePattern disables the private class.
func NewPolicy(publicCapacity int, privatePattern string, privateCapacity int) (Policy, error) {
	if publicCapacity < 0 || privateCapacity < 0 {
		return Policy{}, fmt.Errorf("negative topic capacity: public=%d private=%d", publicCapacity, privateCapacity)
	}

	policy := Policy{Default: Class{Name: PublicClass, Capacity: publicCapacity}}
	if privatePattern == "" {
		return policy, nil
	}

	re, err := regexp.Compile(privatePattern)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid private topic pattern %q: %w", privatePattern, err)
	}
	policy.Classes = append(policy.Classes, Class{
		Name:     PrivateClass,
		Pattern:  re,
		Capacity: privateCapacity,
	})
	return policy, nil
}

// ClassOf returns the class governing topic.
func (p Policy) ClassOf(topic string) Class {
	for _, c := range p.Classes {
		if c.Pattern != nil && c.Pattern.MatchString(topic) {
			return c
		}
	}
	return p.Default
}

// Capacity returns the effective member limit of topic, Unbounded for none.
func (p Policy) Capacity(topic string) int {
	return p.ClassOf(topic).Capacity
}

// Peers splits a private-class topic into the two identities it is named
// after: the part following the class pattern must be two distinct
// alphanumeric names joined by a single separator, as in
// /topic/private.alice.bob. ok is false for any other topic.
func (p Policy) Peers(topic string) (a, b string, ok bool) {
	class := p.ClassOf(topic)
	if class.Name != PrivateClass || class.Pattern == nil {
		return "", "", false
	}
	loc := class.Pattern.FindStringIndex(topic)
	rest := topic[loc[1]:]

	names := strings.FieldsFunc(rest, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(names) != 2 || names[0] == names[1] || len(rest) != len(names[0])+len(names[1])+1 {
		return "", "", false
	}
	return names[0], names[1], true
}
