// Package serializer writes protocol JSON responses for bound endpoints.
//
// It reads the endpoint metadata attached during convention binding to
// find the navigation source and entity type of a response, asks the
// self-link registry for links, and bridges host values to wire values with
// primitive.ToWire.
package serializer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/odatagate/core/convention"
	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/primitive"
	"github.com/artpar/odatagate/core/selflink"
	"github.com/artpar/odatagate/core/template"
	"github.com/artpar/odatagate/pkg/odataerr"
)

// Entity is a host entity keyed by property name.
type Entity map[string]any

// Serializer writes entities, collections and operation results.
type Serializer struct {
	links    *selflink.Registry
	location *time.Location
	logger   zerolog.Logger
}

// Config configures a Serializer.
type Config struct {
	// Links defaults to a registry with convention builders only.
	Links *selflink.Registry

	// Location interprets naive date/time values; nil means time.Local.
	Location *time.Location

	Logger zerolog.Logger
}

// New creates a serializer.
func New(cfg Config) *Serializer {
	links := cfg.Links
	if links == nil {
		links = selflink.NewRegistry()
		links.Freeze()
	}
	return &Serializer{links: links, location: cfg.Location, logger: cfg.Logger}
}

// target is the resolved shape of a response.
type target struct {
	meta       *convention.EndpointMetadata
	level      MetadataLevel
	base       *url.URL
	source     string
	entityType *edm.EntityType
}

func (s *Serializer) resolve(r *http.Request) (target, error) {
	level, err := RequestMetadataLevel(r)
	if err != nil {
		return target{}, odataerr.NotAcceptable(err.Error())
	}
	t := target{level: level, base: BaseURL(r)}
	if ep := convention.EndpointFrom(r.Context()); ep != nil && ep.Metadata != nil {
		t.meta = ep.Metadata
		t.source, t.entityType = entityTarget(ep.Metadata)
	}
	return t, nil
}

// entityTarget finds the navigation source and type of the entities a
// template returns. Navigation results use the first entity set of the
// target type.
func entityTarget(meta *convention.EndpointMetadata) (string, *edm.EntityType) {
	tmpl := meta.Template
	et := tmpl.EntityType()
	segs := tmpl.Segments()
	if segs[len(segs)-1].Kind != template.SegmentNavigation {
		return tmpl.NavigationSource(), et
	}
	for _, set := range meta.Model.EntitySets {
		if set.EntityType == et {
			return set.Name, et
		}
	}
	return "", et
}

// WriteEntity writes a single entity.
func (s *Serializer) WriteEntity(w http.ResponseWriter, r *http.Request, status int, entity Entity) {
	t, err := s.resolve(r)
	if err != nil {
		s.WriteError(w, r, err)
		return
	}

	var buf bytes.Buffer
	obj := newObject(&buf)
	if t.meta != nil && t.level != MetadataNone {
		obj.field("@odata.context", s.contextURL(t, false))
	}
	if err := s.writeEntityBody(obj, t, entity); err != nil {
		s.WriteError(w, r, err)
		return
	}
	if err := obj.close(); err != nil {
		s.WriteError(w, r, err)
		return
	}

	s.write(w, t.level, status, buf.Bytes())
}

// WriteCollection writes entities as a "value" array.
func (s *Serializer) WriteCollection(w http.ResponseWriter, r *http.Request, entities []Entity) {
	t, err := s.resolve(r)
	if err != nil {
		s.WriteError(w, r, err)
		return
	}

	var buf bytes.Buffer
	obj := newObject(&buf)
	if t.meta != nil && t.level != MetadataNone {
		obj.field("@odata.context", s.contextURL(t, true))
	}
	obj.key("value")
	buf.WriteByte('[')
	for i, e := range entities {
		if i > 0 {
			buf.WriteByte(',')
		}
		inner := newObject(&buf)
		if err := s.writeEntityBody(inner, t, e); err != nil {
			s.WriteError(w, r, err)
			return
		}
		if err := inner.close(); err != nil {
			s.WriteError(w, r, err)
			return
		}
	}
	buf.WriteByte(']')
	if err := obj.close(); err != nil {
		s.WriteError(w, r, err)
		return
	}

	s.write(w, t.level, http.StatusOK, buf.Bytes())
}

// WriteValue writes an operation result. A nil value yields 204.
func (s *Serializer) WriteValue(w http.ResponseWriter, r *http.Request, value any) {
	t, err := s.resolve(r)
	if err != nil {
		s.WriteError(w, r, err)
		return
	}
	if value == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	wire, err := s.wireValue(value)
	if err != nil {
		s.WriteError(w, r, err)
		return
	}

	var buf bytes.Buffer
	obj := newObject(&buf)
	if t.meta != nil && t.level != MetadataNone {
		if op := t.meta.Template.Operation(); op != nil && op.ReturnType != "" {
			obj.field("@odata.context", s.metadataURL(t)+"#"+op.ReturnType)
		}
	}
	obj.field("value", wire)
	if err := obj.close(); err != nil {
		s.WriteError(w, r, err)
		return
	}

	s.write(w, t.level, http.StatusOK, buf.Bytes())
}

// WriteError writes err as a protocol error. Validation failures become
// 400 responses naming the violated constraint.
func (s *Serializer) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var oerr odataerr.Error
	var verr *primitive.ValidationError
	switch {
	case errors.As(err, &oerr):
	case errors.As(err, &verr):
		oerr = odataerr.New(http.StatusBadRequest, "ValidationError", verr.Error()).
			Inner("constraint", verr.Constraint).
			Build()
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		oerr = odataerr.Internal("")
	}
	odataerr.Write(w, oerr)
}

func (s *Serializer) write(w http.ResponseWriter, level MetadataLevel, status int, body []byte) {
	w.Header().Set("Content-Type", ContentType(level))
	w.Header().Set("OData-Version", "4.0")
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Serializer) writeEntityBody(obj *object, t target, entity Entity) error {
	if t.entityType != nil {
		ctx := &selflink.ResourceContext{
			BaseURL:          t.base,
			Prefix:           t.meta.Prefix,
			Model:            t.meta.Model,
			NavigationSource: t.source,
			EntityType:       t.entityType,
			Values:           entity,
		}
		s.writeLinks(obj, t.level, ctx)
	}

	if t.entityType == nil {
		for _, k := range sortedKeys(entity) {
			v, err := s.wireValue(entity[k])
			if err != nil {
				return fmt.Errorf("property %s: %w", k, err)
			}
			obj.field(k, v)
		}
		return nil
	}

	for _, p := range t.entityType.Properties {
		v, ok := entity[p.Name]
		if !ok {
			continue
		}
		wire, err := s.wireValue(v)
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		obj.field(p.Name, wire)
	}
	return nil
}

// writeLinks applies the link policy: custom builders always run, even at
// odata.metadata=none; convention builders only at full metadata.
func (s *Serializer) writeLinks(obj *object, level MetadataLevel, ctx *selflink.ResourceContext) {
	if level == MetadataFull {
		obj.field("@odata.type", "#"+ctx.EntityType.FullName())
	}

	links := s.links.For(ctx.NavigationSource)
	emit := func(b selflink.Builder) bool {
		return b != nil && (!b.FollowsConventions() || level == MetadataFull)
	}

	if emit(links.ID) {
		if id := links.ID.Build(ctx); id != "" {
			obj.field("@odata.id", id)
		}
	}

	var edit string
	if emit(links.Edit) {
		if u := links.Edit.Build(ctx); u != nil {
			edit = u.String()
			obj.field("@odata.editLink", edit)
		}
	}
	if emit(links.Read) {
		if u := links.Read.Build(ctx); u != nil && u.String() != edit {
			obj.field("@odata.readLink", u.String())
		}
	}
}

func (s *Serializer) contextURL(t target, collection bool) string {
	tmpl := t.meta.Template
	fragment := t.source
	switch {
	case t.source == "" && t.entityType != nil:
		fragment = t.entityType.FullName()
		if collection {
			fragment = "Collection(" + fragment + ")"
		}
	case !collection && !isSingleton(t.meta.Model, tmpl):
		fragment += "/$entity"
	}
	return s.metadataURL(t) + "#" + fragment
}

func isSingleton(m *edm.Model, tmpl *template.PathTemplate) bool {
	_, ok := m.Singleton(tmpl.NavigationSource())
	return ok && tmpl.Segments()[len(tmpl.Segments())-1].Kind == template.SegmentSingleton
}

func (s *Serializer) metadataURL(t target) string {
	u := *t.base
	path := strings.TrimRight(u.Path, "/")
	if t.meta.Prefix != "" {
		path += "/" + t.meta.Prefix
	}
	u.Path = path + "/$metadata"
	u.RawQuery = ""
	return u.String()
}

// wireValue bridges a host value and adjusts the kinds encoding/json
// renders differently from the protocol.
func (s *Serializer) wireValue(v any) (any, error) {
	wire, err := primitive.ToWire(v, s.location)
	if err != nil {
		return nil, err
	}
	switch val := wire.(type) {
	case time.Duration:
		return primitive.FormatDuration(val), nil
	case []byte:
		return base64.RawURLEncoding.EncodeToString(val), nil
	}
	return wire, nil
}

// BaseURL returns the service root of r, honoring X-Forwarded-Proto and
// X-Forwarded-Host.
func BaseURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = h
	}
	return &url.URL{Scheme: scheme, Host: host}
}

// object writes a JSON object with fields in call order.
type object struct {
	buf   *bytes.Buffer
	first bool
	err   error
}

func newObject(buf *bytes.Buffer) *object {
	buf.WriteByte('{')
	return &object{buf: buf, first: true}
}

func (o *object) key(k string) {
	if !o.first {
		o.buf.WriteByte(',')
	}
	o.first = false
	kb, _ := json.Marshal(k)
	o.buf.Write(kb)
	o.buf.WriteByte(':')
}

func (o *object) field(k string, v any) {
	o.key(k)
	vb, err := json.Marshal(v)
	if err != nil {
		if o.err == nil {
			o.err = fmt.Errorf("encode %s: %w", k, err)
		}
		vb = []byte("null")
	}
	o.buf.Write(vb)
}

// close ends the object and reports the first encoding failure.
func (o *object) close() error {
	o.buf.WriteByte('}')
	return o.err
}

func sortedKeys(e Entity) []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
