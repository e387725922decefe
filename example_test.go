package vecsql_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/vecsql"
	"github.com/hupe1980/vecsql/ast"
)

// Example_similaritySearch demonstrates a nearest-neighbor query served by a
// vector index.
func Example_similaritySearch() {
	ctx := context.Background()
	db, err := vecsql.Open(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	stmts := []ast.Statement{
		&ast.CreateTable{Name: "docs", Columns: []ast.ColumnDef{
			{Name: "id", Type: "INT8", NotNull: true},
			{Name: "title", Type: "VARCHAR(64)"},
			{Name: "embedding", Type: "VECTOR(2)"},
		}},
		&ast.CreateIndex{Name: "docs_embedding", Table: "docs", Columns: []string{"embedding"}, Using: "flat"},
		&ast.Insert{Table: "docs", Rows: [][]ast.Expr{
			{ast.Int(1), ast.String("north"), ast.String("[0, 1]")},
			{ast.Int(2), ast.String("east"), ast.String("[1, 0]")},
			{ast.Int(3), ast.String("south"), ast.String("[0, -1]")},
		}},
	}
	for _, stmt := range stmts {
		if _, err := db.Execute(ctx, stmt); err != nil {
			log.Fatal(err)
		}
	}

	resp, err := db.Execute(ctx, &ast.Select{
		Items:   []ast.SelectItem{{Expr: ast.Col("title")}, {Expr: ast.Fn("l2_distance", ast.Col("embedding"), ast.Param(1)), Alias: "dist"}},
		From:    "docs",
		OrderBy: []ast.OrderItem{{Expr: ast.Col("dist")}},
		Limit:   ast.Int(2),
	}, []float32{0.9, 0.1})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(resp.Access)
	for row, err := range resp.Rows(ctx) {
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s %.3f\n", row[0].S, row[1].F)
	}
	// Output:
	// vector scan using docs_embedding
	// east 0.141
	// north 1.273
}

// Example_session demonstrates explicit transactions through statements.
func Example_session() {
	ctx := context.Background()
	db, err := vecsql.Open(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	s := db.Session()
	defer s.Close()

	run := func(stmt ast.Statement) {
		resp, err := s.Execute(ctx, stmt)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(resp.Tag, resp.RowsAffected)
	}
	run(&ast.CreateTable{Name: "kv", Columns: []ast.ColumnDef{{Name: "k", Type: "TEXT"}}})
	run(&ast.Begin{})
	run(&ast.Insert{Table: "kv", Rows: [][]ast.Expr{{ast.String("a")}, {ast.String("b")}}})
	run(&ast.Rollback{})
	run(&ast.Delete{Table: "kv"})
	// Output:
	// CREATE TABLE 0
	// BEGIN 0
	// INSERT 2
	// ROLLBACK 0
	// DELETE 0
}
