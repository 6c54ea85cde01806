// Package registry owns compiled schemas and their datasource clients.
//
// A Registry is not safe for concurrent use. It is meant to be confined to
// the loop goroutine: Create, Lookup, Remove and Drain run there. Record.Execute
// runs on the loop too, inside a loop routine, and steps off it only while
// datasource requests are in flight. Record.Close runs off the loop through
// loop.Await. A Record is immutable once created.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	datasource "github.com/hanpama/restygraph/internal/datasource"
	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	executor "github.com/hanpama/restygraph/internal/executor"
	filter "github.com/hanpama/restygraph/internal/filter"
	httprt "github.com/hanpama/restygraph/internal/httprt"
	introspection "github.com/hanpama/restygraph/internal/introspection"
	language "github.com/hanpama/restygraph/internal/language"
	"github.com/hanpama/restygraph/internal/logging"
	schema "github.com/hanpama/restygraph/internal/schema"
	"go.uber.org/zap"
)

var (
	// ErrSchemaNotFound is returned for ids that are not (or no longer) registered.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrUnknownDatasource is returned when a resolver names a datasource the
	// configuration does not declare.
	ErrUnknownDatasource = errors.New("unknown datasource")
)

// Options configures a Registry.
//
// Defaults:
// - Introspection: true
type Options struct {
	Introspection     bool
	DatasourceOptions []datasource.Option
}

type Option func(*Options)

func WithIntrospection(on bool) Option { return func(o *Options) { o.Introspection = on } }

// WithDatasourceOptions is applied to every datasource the registry opens.
func WithDatasourceOptions(opts ...datasource.Option) Option {
	return func(o *Options) { o.DatasourceOptions = append(o.DatasourceOptions, opts...) }
}

type Registry struct {
	opts    Options
	nextID  int64
	records map[int64]*Record
}

func New(opts ...Option) *Registry {
	o := Options{Introspection: true}
	for _, f := range opts {
		f(&o)
	}
	return &Registry{opts: o, nextID: 1, records: make(map[int64]*Record)}
}

// Create compiles cfg and opens its datasources. The record is inserted, and
// an id consumed, only when everything succeeded.
func (r *Registry) Create(cfg Config) (int64, error) {
	src, err := language.LoadSchema("schema.graphql", cfg.Schema)
	if err != nil {
		return 0, fmt.Errorf("compile schema: %w", err)
	}

	clients, err := r.openDatasources(cfg.Datasources)
	if err != nil {
		return 0, err
	}
	bindings, err := compileBindings(src, cfg.Resolvers, clients)
	if err != nil {
		closeAll(context.Background(), clients)
		return 0, err
	}

	sch := schema.Build(src, schema.WithAsync(bindings.Has))
	var rt executor.Runtime = httprt.NewRuntime(sch, bindings)
	if r.opts.Introspection {
		w := introspection.Wrap(rt, sch)
		rt, sch = w.Runtime, w.Schema
	}

	id := r.nextID
	r.nextID++
	rec := &Record{
		ID:          id,
		Config:      cfg,
		source:      src,
		schema:      sch,
		exec:        executor.NewExecutor(rt, sch),
		datasources: clients,
	}
	r.records[id] = rec

	logging.Logger().Info("schema created", zap.Int64("schema", id), zap.Int("datasources", len(clients)))
	eventbus.Publish(context.Background(), events.SchemaCreated{SchemaID: id, Datasources: len(clients)})
	return id, nil
}

func (r *Registry) openDatasources(cfgs map[string]datasource.Config) (map[string]datasource.Datasource, error) {
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	clients := make(map[string]datasource.Datasource, len(cfgs))
	for _, name := range names {
		ds, err := datasource.Open(name, cfgs[name], r.opts.DatasourceOptions...)
		if err != nil {
			closeAll(context.Background(), clients)
			return nil, err
		}
		clients[name] = ds
	}
	return clients, nil
}

func compileBindings(src *language.Schema, resolvers map[string]map[string]ResolverConfig, clients map[string]datasource.Datasource) (httprt.Bindings, error) {
	bindings := httprt.Bindings{}
	for typeName, fields := range resolvers {
		def := src.Types[typeName]
		if def == nil {
			return nil, fmt.Errorf("resolver on unknown type %q", typeName)
		}
		for fieldName, rc := range fields {
			if def.Fields.ForName(fieldName) == nil || strings.HasPrefix(fieldName, "__") {
				return nil, fmt.Errorf("resolver on unknown field %s.%s", typeName, fieldName)
			}
			ds, ok := clients[rc.Datasource]
			if !ok {
				return nil, fmt.Errorf("resolver %s.%s: %w %q", typeName, fieldName, ErrUnknownDatasource, rc.Datasource)
			}
			uri, rawQuery, _ := strings.Cut(rc.URI, "?")
			query, err := url.ParseQuery(rawQuery)
			if err != nil {
				return nil, fmt.Errorf("resolver %s.%s: uri %q: %w", typeName, fieldName, rc.URI, err)
			}
			b := &httprt.Binding{
				Datasource:   ds,
				URI:          uri,
				Method:       strings.ToUpper(rc.Method),
				Headers:      rc.Headers,
				SendJSONBody: rc.SendJSONBody,
			}
			if len(query) > 0 {
				b.Query = query
			}
			if b.Method == "" {
				b.Method = "GET"
			}
			if rc.JQ != "" {
				f, err := filter.Compile(rc.JQ)
				if err != nil {
					return nil, fmt.Errorf("resolver %s.%s: %w", typeName, fieldName, err)
				}
				b.Filter = f
			}
			bindings.Set(typeName, fieldName, b)
		}
	}
	return bindings, nil
}

// Lookup returns the record with id.
func (r *Registry) Lookup(id int64) (*Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSchemaNotFound, id)
	}
	return rec, nil
}

// Remove unregisters id and returns its record. The caller owns closing it.
func (r *Registry) Remove(id int64) (*Record, error) {
	rec, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	delete(r.records, id)
	return rec, nil
}

// Drain removes and returns every record, ordered by id.
func (r *Registry) Drain() []*Record {
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	r.records = make(map[int64]*Record)
	return out
}

func (r *Registry) Len() int { return len(r.records) }

func closeAll(ctx context.Context, clients map[string]datasource.Datasource) error {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := clients[name].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close datasource %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
