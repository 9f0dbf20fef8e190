// Package selflink produces the id, edit and read links of emitted
// entities.
//
// A builder pairs a link factory with a flag telling whether the factory
// is the protocol convention. The serializer always invokes custom
// factories and suppresses convention ones unless the client asked for
// full metadata; builders themselves carry no policy.
package selflink

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/primitive"
)

// ResourceContext describes one entity being serialized.
type ResourceContext struct {
	// BaseURL is the service root without the route prefix.
	BaseURL *url.URL

	// Prefix is the route prefix the request matched.
	Prefix string

	Model *edm.Model

	// NavigationSource is the entity set or singleton name.
	NavigationSource string

	EntityType *edm.EntityType

	// Values are the entity's property values by property name.
	Values map[string]any
}

// Builder is the contract shared by IDBuilder and LinkBuilder.
type Builder interface {
	FollowsConventions() bool
}

// IDBuilder produces entity ids.
type IDBuilder struct {
	factory func(*ResourceContext) string
	follows bool
}

// NewIDBuilder panics with *ArgumentError when factory is nil.
func NewIDBuilder(factory func(*ResourceContext) string, followsConventions bool) *IDBuilder {
	if factory == nil {
		panic(&ArgumentError{Name: "factory"})
	}
	return &IDBuilder{factory: factory, follows: followsConventions}
}

// Build invokes the factory.
func (b *IDBuilder) Build(ctx *ResourceContext) string {
	return b.factory(ctx)
}

// FollowsConventions reports whether the factory is the convention.
func (b *IDBuilder) FollowsConventions() bool {
	return b.follows
}

// LinkBuilder produces edit and read links.
type LinkBuilder struct {
	factory func(*ResourceContext) *url.URL
	follows bool
}

// NewLinkBuilder panics with *ArgumentError when factory is nil.
func NewLinkBuilder(factory func(*ResourceContext) *url.URL, followsConventions bool) *LinkBuilder {
	if factory == nil {
		panic(&ArgumentError{Name: "factory"})
	}
	return &LinkBuilder{factory: factory, follows: followsConventions}
}

// Build invokes the factory.
func (b *LinkBuilder) Build(ctx *ResourceContext) *url.URL {
	return b.factory(ctx)
}

// FollowsConventions reports whether the factory is the convention.
func (b *LinkBuilder) FollowsConventions() bool {
	return b.follows
}

// ConventionID returns "{base}/{prefix}/{Set}({key})", or the singleton
// path. It returns "" when a key value is missing.
func ConventionID(ctx *ResourceContext) string {
	u := ConventionEditLink(ctx)
	if u == nil {
		return ""
	}
	return u.String()
}

// ConventionEditLink is the URL form of ConventionID, nil when a key value
// is missing.
func ConventionEditLink(ctx *ResourceContext) *url.URL {
	path, ok := canonicalPath(ctx)
	if !ok {
		return nil
	}

	var base url.URL
	if ctx.BaseURL != nil {
		base = *ctx.BaseURL
	}
	segments := []string{strings.TrimRight(base.Path, "/")}
	if p := strings.Trim(ctx.Prefix, "/"); p != "" {
		segments = append(segments, p)
	}
	segments = append(segments, path)
	base.Path = strings.Join(segments, "/")
	base.RawPath = escapePath(base.Path)
	base.RawQuery = ""
	base.Fragment = ""
	return &base
}

// escapePath percent-encodes path but keeps the sub-delimiters key
// predicates are made of, so "Customers('a b')" renders as
// "Customers('a%20b')".
func escapePath(path string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if keepInPath(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

func keepInPath(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~!$&'()*+,;=:@/", c) >= 0
}

// ConventionReadLink equals the edit link.
func ConventionReadLink(ctx *ResourceContext) *url.URL {
	return ConventionEditLink(ctx)
}

// canonicalPath renders the navigation source and key predicate.
func canonicalPath(ctx *ResourceContext) (string, bool) {
	if ctx.Model != nil {
		if _, ok := ctx.Model.Singleton(ctx.NavigationSource); ok {
			return ctx.NavigationSource, true
		}
	}
	if ctx.EntityType == nil {
		return "", false
	}

	keys := ctx.EntityType.Key()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := ctx.Values[k.Name]
		if !ok || v == nil {
			return "", false
		}
		wire, err := primitive.ToWire(v, nil)
		if err != nil {
			return "", false
		}
		lit := primitive.FormatLiteral(wire)
		if len(keys) == 1 {
			parts = append(parts, lit)
		} else {
			parts = append(parts, k.Name+"="+lit)
		}
	}
	return ctx.NavigationSource + "(" + strings.Join(parts, ",") + ")", true
}

// Links is the set of builders for one navigation source.
type Links struct {
	ID   *IDBuilder
	Edit *LinkBuilder
	Read *LinkBuilder
}

// DefaultLinks returns the convention builders.
func DefaultLinks() Links {
	return Links{
		ID:   NewIDBuilder(ConventionID, true),
		Edit: NewLinkBuilder(ConventionEditLink, true),
		Read: NewLinkBuilder(ConventionReadLink, true),
	}
}

// Registry maps navigation sources to their builders. Overrides are
// registered before Freeze; lookups after Freeze need no locking.
type Registry struct {
	mu       sync.Mutex
	links    map[string]Links
	defaults Links
	frozen   atomic.Bool
}

// NewRegistry creates a registry that falls back to DefaultLinks.
func NewRegistry() *Registry {
	return &Registry{
		links:    make(map[string]Links),
		defaults: DefaultLinks(),
	}
}

// Set overrides builders for a navigation source. Nil fields keep the
// convention builder.
func (r *Registry) Set(source string, links Links) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("selflink: registry is frozen, cannot set links for %q", source)
	}

	if links.ID == nil {
		links.ID = r.defaults.ID
	}
	if links.Edit == nil {
		links.Edit = r.defaults.Edit
	}
	if links.Read == nil {
		links.Read = r.defaults.Read
	}
	r.links[source] = links
	return nil
}

// Freeze forbids further Set calls.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// For returns the builders for a navigation source.
func (r *Registry) For(source string) Links {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	if l, ok := r.links[source]; ok {
		return l
	}
	return r.defaults
}

// ArgumentError reports a missing required argument. It is raised by panic.
type ArgumentError struct {
	Name string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("selflink: argument %q must not be nil", e.Name)
}
