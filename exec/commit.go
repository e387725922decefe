package exec

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/vecsql/catalog"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
	"github.com/hupe1980/vecsql/vector"
)

// RowSource reads the committed rows of a table.
type RowSource func(t *schema.Table) iter.Seq2[storage.RowEntry, error]

// Publish mirrors a committed transaction into the vector indexes: indexes
// created by the transaction are registered, dropped ones are forgotten, and
// the recorded row changes are applied. It keeps going after a failure and
// returns every error joined.
//
// Publish must run after the kv commit and before the next commit, so that
// indexes see commits in order. The created indexes are returned; they stay
// hidden from queries until Build has filled them.
func Publish(vectors *vector.Manager, ddl []catalog.Change, changes *Changes) ([]catalog.Change, error) {
	var (
		created []catalog.Change
		errs    []error
	)
	for _, ch := range ddl {
		switch ch.Kind {
		case catalog.ChangeCreateIndex:
			if !ch.Index.Kind.IsVector() {
				continue
			}
			if _, err := vectors.Create(ch.Table, ch.Index); err != nil {
				errs = append(errs, err)
				continue
			}
			created = append(created, ch)
		case catalog.ChangeDropIndex:
			vectors.Drop(ch.Index.ID)
		case catalog.ChangeDropTable:
			vectors.DropTable(ch.Table.ID)
		}
	}

	for table, ops := range changes.All() {
		if err := vectors.Apply(table, ops); err != nil {
			errs = append(errs, err)
		}
	}
	return created, errors.Join(errs...)
}

// Build fills the indexes returned by Publish from committed rows. It does
// not need the commit lock: row changes committed while it runs are queued
// by the manager and replayed when the backfill ends. An index that fails to
// build is dropped.
func Build(ctx context.Context, vectors *vector.Manager, created []catalog.Change, rows RowSource) error {
	var errs []error
	for _, ch := range created {
		if _, err := vectors.Backfill(ctx, ch.Index.ID, rows(ch.Table)); err != nil {
			vectors.Drop(ch.Index.ID)
			errs = append(errs, fmt.Errorf("build vector index %q: %w", ch.Index.Name, err))
		}
	}
	return errors.Join(errs...)
}
