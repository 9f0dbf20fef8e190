package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/artpar/odatagate/core/convention"
	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/primitive"
	"github.com/artpar/odatagate/core/selflink"
	"github.com/artpar/odatagate/core/serializer"
	"github.com/artpar/odatagate/core/storage"
	"github.com/artpar/odatagate/pkg/odataerr"
)

// maxBodySize limits request bodies.
const maxBodySize = 1 << 20

func (f *Factory) list(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := f.store.List(r.Context(), source, storage.ListOptions{})
		if err != nil {
			f.fail(w, r, err)
			return
		}
		f.serializer.WriteCollection(w, r, entities(records))
	}
}

func (f *Factory) read(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := f.routeKeys(r)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		rec, err := f.store.Get(r.Context(), source, keys)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		f.serializer.WriteEntity(w, r, http.StatusOK, serializer.Entity(rec))
	}
}

func (f *Factory) create(source string, et *edm.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := decodeEntity(r, et)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		created, err := f.store.Insert(r.Context(), source, rec)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		f.logger.Debug().Str("source", source).Msg("entity created")

		if meta := endpointMetadata(r); meta != nil {
			link := selflink.ConventionEditLink(&selflink.ResourceContext{
				BaseURL:          serializer.BaseURL(r),
				Prefix:           meta.Prefix,
				Model:            f.model,
				NavigationSource: source,
				EntityType:       et,
				Values:           created,
			})
			if link != nil {
				w.Header().Set("Location", link.String())
			}
		}
		f.serializer.WriteEntity(w, r, http.StatusCreated, serializer.Entity(created))
	}
}

// replace overwrites every non-key property; absent ones become null.
func (f *Factory) replace(source string, et *edm.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := decodeEntity(r, et)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		for _, p := range et.Properties {
			if _, ok := rec[p.Name]; !ok {
				rec[p.Name] = nil
			}
		}
		f.write(w, r, source, rec)
	}
}

func (f *Factory) update(source string, et *edm.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := decodeEntity(r, et)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		f.write(w, r, source, rec)
	}
}

func (f *Factory) write(w http.ResponseWriter, r *http.Request, source string, rec storage.Record) {
	keys, err := f.targetKeys(r, source)
	if err != nil {
		f.fail(w, r, err)
		return
	}
	if err := f.store.Update(r.Context(), source, keys, rec); err != nil {
		f.fail(w, r, err)
		return
	}
	f.logger.Debug().Str("source", source).Msg("entity updated")
	w.WriteHeader(http.StatusNoContent)
}

func (f *Factory) remove(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := f.routeKeys(r)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		if err := f.store.Delete(r.Context(), source, keys); err != nil {
			f.fail(w, r, err)
			return
		}
		f.logger.Debug().Str("source", source).Msg("entity deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}

// navigate follows a navigation property by naming convention: a
// collection-valued property of a Customer is matched by the target's
// CustomerID (type name plus key name) properties; a single-valued property
// Customer is matched by the source's CustomerID properties.
func (f *Factory) navigate(source string, et *edm.EntityType, nav edm.NavigationProperty) http.HandlerFunc {
	target := f.entitySetOf(nav.Target)
	return func(w http.ResponseWriter, r *http.Request) {
		if target == "" {
			f.fail(w, r, odataerr.NotImplemented("Navigation to "+nav.Target.Name))
			return
		}
		keys, err := f.routeKeys(r)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		parent, err := f.store.Get(r.Context(), source, keys)
		if err != nil {
			f.fail(w, r, err)
			return
		}

		if nav.Collection {
			filters, ok := foreignKeys(nav.Target, et.Name, et.Key(), parent)
			if !ok {
				f.fail(w, r, odataerr.NotImplemented("Navigation "+nav.Name))
				return
			}
			records, err := f.store.List(r.Context(), target, storage.ListOptions{Filters: filters})
			if err != nil {
				f.fail(w, r, err)
				return
			}
			f.serializer.WriteCollection(w, r, entities(records))
			return
		}

		targetKeys := make(map[string]any, len(nav.Target.Keys))
		for _, k := range nav.Target.Key() {
			v, ok := parent[nav.Name+k.Name]
			if !ok || v == nil {
				f.fail(w, r, odataerr.NotFound(nav.Name))
				return
			}
			targetKeys[k.Name] = v
		}
		rec, err := f.store.Get(r.Context(), target, targetKeys)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		f.serializer.WriteEntity(w, r, http.StatusOK, serializer.Entity(rec))
	}
}

// foreignKeys maps the owner's keys onto the target's {Owner}{Key}
// properties.
func foreignKeys(target *edm.EntityType, owner string, keys []edm.KeyProperty, parent storage.Record) (map[string]any, bool) {
	filters := make(map[string]any, len(keys))
	for _, k := range keys {
		if _, ok := target.Property(owner + k.Name); !ok {
			return nil, false
		}
		filters[owner+k.Name] = parent[k.Name]
	}
	return filters, true
}

func (f *Factory) invoke(source string, op *edm.Operation) http.HandlerFunc {
	name := op.FullName()
	return func(w http.ResponseWriter, r *http.Request) {
		fn, ok := f.operations[name]
		if !ok {
			f.fail(w, r, odataerr.NotImplemented(name))
			return
		}

		inv := &Invocation{Operation: op, Source: source, Store: f.store}
		if !op.BindingCollection {
			keys, err := f.routeKeys(r)
			if err != nil {
				f.fail(w, r, err)
				return
			}
			rec, err := f.store.Get(r.Context(), source, keys)
			if err != nil {
				f.fail(w, r, err)
				return
			}
			inv.Entity = rec
		}

		params, err := f.operationArguments(r, op)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		inv.Parameters = params

		result, err := fn(r.Context(), inv)
		if err != nil {
			f.fail(w, r, err)
			return
		}
		f.serializer.WriteValue(w, r, result)
	}
}

// operationArguments reads function parameters from the route and action
// parameters from the JSON body.
func (f *Factory) operationArguments(r *http.Request, op *edm.Operation) (map[string]any, error) {
	params := make(map[string]any, len(op.Parameters))
	if op.Kind == edm.OperationFunction {
		values := convention.RouteValuesFrom(r.Context())
		for _, p := range op.Parameters {
			params[p.Name] = values[p.Name]
		}
		return params, nil
	}

	body, err := decodeBody(r)
	if err != nil {
		return nil, err
	}
	for _, p := range op.Parameters {
		raw, ok := body[p.Name]
		if !ok {
			return nil, odataerr.InvalidParameter(p.Name, fmt.Sprintf("The parameter %s is required.", p.Name))
		}
		v, err := storage.Normalize(p.Kind, raw)
		if err != nil {
			return nil, err
		}
		if v, err = primitive.Convert(v, p.Kind.Type(), f.location); err != nil {
			return nil, err
		}
		params[p.Name] = v
	}
	return params, nil
}

// targetKeys returns the keys of the addressed entity. Singletons have no
// route keys, so the stored record supplies them.
func (f *Factory) targetKeys(r *http.Request, source string) (map[string]any, error) {
	keys, err := f.routeKeys(r)
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		return keys, nil
	}
	rec, err := f.store.Get(r.Context(), source, nil)
	if err != nil {
		return nil, err
	}
	et := f.entityTypeOf(source)
	keys = make(map[string]any, len(et.Keys))
	for _, k := range et.Keys {
		keys[k.Name] = rec[k.Name]
	}
	return keys, nil
}

func (f *Factory) entityTypeOf(source string) *edm.EntityType {
	if set, ok := f.model.EntitySet(source); ok {
		return set.EntityType
	}
	s, _ := f.model.Singleton(source)
	return s.EntityType
}

func (f *Factory) entitySetOf(et *edm.EntityType) string {
	for _, set := range f.model.EntitySets {
		if set.EntityType == et {
			return set.Name
		}
	}
	return ""
}

// fail maps storage errors onto protocol errors and writes them.
func (f *Factory) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err = odataerr.NotFound("entity")
	case errors.Is(err, storage.ErrConflict):
		err = odataerr.Conflict("An entity with the same key already exists.")
	}
	f.serializer.WriteError(w, r, err)
}

// routeKeys collects the key values of the matched template by property
// name. Values converted to a declared host type are mapped back to their
// wire form, which is what the store understands.
func (f *Factory) routeKeys(r *http.Request) (map[string]any, error) {
	meta := endpointMetadata(r)
	if meta == nil {
		return nil, nil
	}
	values := convention.RouteValuesFrom(r.Context())
	keys := make(map[string]any)
	for _, p := range meta.Template.Parameters() {
		if p.Property == "" {
			continue
		}
		v, ok := values[p.Name]
		if !ok {
			continue
		}
		wire, err := primitive.ToWire(v, f.location)
		if err != nil {
			return nil, err
		}
		keys[p.Property] = wire
	}
	return keys, nil
}

func endpointMetadata(r *http.Request) *convention.EndpointMetadata {
	if ep := convention.EndpointFrom(r.Context()); ep != nil {
		return ep.Metadata
	}
	return nil
}

func decodeBody(r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, odataerr.BadRequest("The request body is not a valid JSON object.")
	}
	return body, nil
}

// decodeEntity reads a JSON entity body. Control annotations are dropped;
// unknown properties are rejected.
func decodeEntity(r *http.Request, et *edm.EntityType) (storage.Record, error) {
	body, err := decodeBody(r)
	if err != nil {
		return nil, err
	}
	rec := make(storage.Record, len(body))
	for name, v := range body {
		if strings.HasPrefix(name, "@") || strings.Contains(name, "@odata.") {
			continue
		}
		if _, ok := et.Property(name); !ok {
			return nil, odataerr.InvalidParameter(name, fmt.Sprintf("The property %s does not exist on %s.", name, et.FullName()))
		}
		rec[name] = v
	}
	return rec, nil
}

func entities(records []storage.Record) []serializer.Entity {
	out := make([]serializer.Entity, len(records))
	for i, rec := range records {
		out[i] = serializer.Entity(rec)
	}
	return out
}
