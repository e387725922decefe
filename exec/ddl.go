package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/catalog"
	"github.com/hupe1980/vecsql/schema"
)

// ddl runs a catalog change once.
type ddl struct {
	run  func(ctx context.Context) error
	done bool
}

func (d *ddl) Next(ctx context.Context) (*Batch, error) {
	if d.done {
		return nil, nil
	}
	d.done = true
	return nil, d.run(ctx)
}

func (d *ddl) Close() error { return nil }

func (d *ddl) Affected() int64 { return 0 }

func ddlPlan(b *binder, run func(ctx context.Context, ec *evalContext) error) *prepared {
	return &prepared{
		typ:    TypeDDL,
		binder: b,
		exec: func(ctx context.Context, ec *evalContext) (int64, error) {
			return runSink(ctx, &ddl{run: func(ctx context.Context) error { return run(ctx, ec) }})
		},
	}
}

func (p *planner) createTable(s *ast.CreateTable) (*prepared, error) {
	cols := make([]catalog.ColumnDef, len(s.Columns))
	for i, c := range s.Columns {
		t, err := schema.ParseDataType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		cols[i] = catalog.ColumnDef{Name: c.Name, Type: t, NotNull: c.NotNull}
	}
	return ddlPlan(p.binder, func(ctx context.Context, _ *evalContext) error {
		_, err := p.env.Catalog.CreateTable(ctx, p.env.Op, s.Name, cols, s.IfNotExists)
		return err
	}), nil
}

func (p *planner) dropTable(s *ast.DropTable) (*prepared, error) {
	return ddlPlan(p.binder, func(context.Context, *evalContext) error {
		t, err := p.env.Catalog.DropTable(p.env.Op, s.Name, s.IfExists)
		if err != nil || t == nil {
			return err
		}
		p.env.Changes.dropTable(t.ID)
		return nil
	}), nil
}

// indexOption is a WITH (...) parameter of CREATE INDEX.
type indexOption struct {
	typ schema.DataType
	// kinds lists the index kinds accepting the option.
	kinds []schema.IndexKind
	set   func(o *schema.VectorIndexOptions, v schema.Value)
}

var vectorKinds = []schema.IndexKind{schema.IndexFlat, schema.IndexHNSW}

var indexOptions = map[string]indexOption{
	"metric": {typ: schema.Text, kinds: vectorKinds,
		set: func(o *schema.VectorIndexOptions, v schema.Value) { o.Metric = strings.ToLower(v.S) }},
	"namespace": {typ: schema.Text, kinds: vectorKinds,
		set: func(o *schema.VectorIndexOptions, v schema.Value) { o.Namespace = v.S }},
	"dim": {typ: schema.Int8, kinds: vectorKinds,
		set: func(o *schema.VectorIndexOptions, v schema.Value) { o.Dim = int(v.I) }},
	"m": {typ: schema.Int8, kinds: []schema.IndexKind{schema.IndexHNSW},
		set: func(o *schema.VectorIndexOptions, v schema.Value) { o.M = int(v.I) }},
	"ef_construction": {typ: schema.Int8, kinds: []schema.IndexKind{schema.IndexHNSW},
		set: func(o *schema.VectorIndexOptions, v schema.Value) { o.EfConstruction = int(v.I) }},
	"ef": {typ: schema.Int8, kinds: []schema.IndexKind{schema.IndexHNSW},
		set: func(o *schema.VectorIndexOptions, v schema.Value) { o.Ef = int(v.I) }},
}

func parseIndexKind(using string) (schema.IndexKind, error) {
	switch k := schema.IndexKind(strings.ToLower(strings.TrimSpace(using))); k {
	case "":
		return schema.IndexBTree, nil
	case schema.IndexBTree, schema.IndexFlat, schema.IndexHNSW:
		return k, nil
	default:
		return "", fmt.Errorf("%w: index method %q", ErrUnsupported, using)
	}
}

func (p *planner) createIndex(s *ast.CreateIndex) (*prepared, error) {
	kind, err := parseIndexKind(s.Using)
	if err != nil {
		return nil, err
	}

	type boundOption struct {
		opt   indexOption
		value *expr
		name  string
	}
	c := p.compiler(nil)
	var opts []boundOption
	for _, w := range s.With {
		name := strings.ToLower(w.Name)
		opt, ok := indexOptions[name]
		if !ok {
			return nil, fmt.Errorf("%w: index option %q", ErrUnsupported, w.Name)
		}
		accepted := false
		for _, k := range opt.kinds {
			accepted = accepted || k == kind
		}
		if !accepted {
			return nil, fmt.Errorf("index option %q is not valid for %s indexes", w.Name, kind)
		}
		e, err := c.compile(w.Value, opt.typ)
		if err != nil {
			return nil, err
		}
		if !e.constant {
			return nil, fmt.Errorf("index option %q must be a constant", w.Name)
		}
		opts = append(opts, boundOption{opt: opt, value: e, name: name})
	}

	return ddlPlan(p.binder, func(ctx context.Context, ec *evalContext) error {
		def := catalog.IndexDef{
			Name:    s.Name,
			Table:   s.Table,
			Columns: s.Columns,
			Kind:    kind,
			Unique:  s.Unique,
		}
		for _, o := range opts {
			v, err := o.value.eval(ec, nil)
			if err != nil {
				return err
			}
			if v, err = schema.Coerce(o.opt.typ, v); err != nil {
				return fmt.Errorf("index option %q: %w", o.name, err)
			}
			if v.IsNull() {
				continue
			}
			o.opt.set(&def.Vector, v)
		}
		if kind == schema.IndexHNSW {
			d := p.env.Config.HNSW
			if def.Vector.M == 0 {
				def.Vector.M = d.M
			}
			if def.Vector.EfConstruction == 0 {
				def.Vector.EfConstruction = d.EfConstruction
			}
			if def.Vector.Ef == 0 {
				def.Vector.Ef = d.Ef
			}
		}

		t, idx, err := p.env.Catalog.CreateIndex(ctx, p.env.Op, def, s.IfNotExists)
		if err != nil || t == nil {
			return err
		}
		if idx.Kind == schema.IndexBTree {
			return backfillBTree(ctx, p.env, t, idx)
		}
		return nil
	}), nil
}

// backfillBTree adds entries for the rows that exist when the index is
// created. Vector indexes are built from committed rows at commit instead.
func backfillBTree(ctx context.Context, env *Env, t *schema.Table, idx schema.Index) error {
	pos, ok := t.ColumnPos(idx.Columns[0])
	if !ok {
		return fmt.Errorf("%w: index %q column", catalog.ErrColumnNotFound, idx.Name)
	}
	n := 0
	for e, err := range env.Op.ScanRows(t) {
		if err != nil {
			return err
		}
		if n++; n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := env.Op.AddIndexEntry(idx, e.Row[pos], e.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *planner) dropIndex(s *ast.DropIndex) (*prepared, error) {
	return ddlPlan(p.binder, func(context.Context, *evalContext) error {
		_, _, err := p.env.Catalog.DropIndex(p.env.Op, s.Name, s.IfExists)
		return err
	}), nil
}
