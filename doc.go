// Package vecsql provides an embeddable SQL engine with vector search for Go.
//
// Tables live in an ordered key-value store, either in memory or in a badger
// database on disk. Statements arrive as parsed syntax trees (package ast);
// vecsql has no SQL text parser. Queries return lazy row streams.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := vecsql.Open(ctx, vecsql.WithPath("./data"))
//	defer db.Close()
//
//	db.Execute(ctx, &ast.CreateTable{Name: "docs", Columns: []ast.ColumnDef{
//	    {Name: "id", Type: "INT8", NotNull: true},
//	    {Name: "embedding", Type: "VECTOR(3)"},
//	}})
//	db.Execute(ctx, &ast.CreateIndex{Name: "docs_embedding", Table: "docs",
//	    Columns: []string{"embedding"}, Using: "hnsw"})
//	db.Execute(ctx, &ast.Insert{Table: "docs", Rows: [][]ast.Expr{
//	    {ast.Int(1), ast.Param(1)},
//	}}, []float32{0.1, 0.2, 0.3})
//
// # Similarity Search
//
// A query ordered by a distance function with a LIMIT, or filtered by a
// distance threshold, is answered through a matching vector index:
//
//	resp, _ := db.Execute(ctx, &ast.Select{
//	    Items:   ast.Items(ast.Col("id")),
//	    From:    "docs",
//	    OrderBy: []ast.OrderItem{{Expr: ast.Fn("l2_distance", ast.Col("embedding"), ast.Param(1))}},
//	    Limit:   ast.Int(10),
//	}, query)
//	for row, err := range resp.Rows(ctx) {
//	    // ...
//	}
//
// Without a matching index the same query scans the table.
//
// # Transactions
//
// DB.Execute runs every statement in its own transaction. DB.Begin and
// Session (BEGIN, COMMIT and ROLLBACK statements) group statements. Commits
// are optimistic: a write conflict fails the later commit with ErrConflict.
//
// Vector indexes live in memory, see only committed rows and are rebuilt
// on Open.
package vecsql
