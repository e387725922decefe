// Package ast defines the parsed-statement boundary of the engine.
//
// SQL text is parsed outside this module; a parser (or a test) builds these
// nodes and hands one Statement at a time to the executor. Identifiers are
// matched case-insensitively.
package ast

import "github.com/hupe1980/vecsql/schema"

// Statement is a parsed SQL statement.
type Statement interface {
	statementNode()
}

// Expr is a scalar expression.
type Expr interface {
	exprNode()
}

// ColumnDef is a column of CREATE TABLE. Type is a SQL type name such as
// "int8", "varchar(64)" or "vector(384)".
type ColumnDef struct {
	Name    string
	Type    string
	NotNull bool
}

// CreateTable is CREATE TABLE [IF NOT EXISTS] name (columns).
type CreateTable struct {
	Name        string
	Columns     []ColumnDef
	IfNotExists bool
}

// DropTable is DROP TABLE [IF EXISTS] name.
type DropTable struct {
	Name     string
	IfExists bool
}

// IndexOption is one entry of WITH (name = value, ...).
type IndexOption struct {
	Name  string
	Value Expr
}

// CreateIndex is
//
//	CREATE [UNIQUE] INDEX [IF NOT EXISTS] name ON table
//	    [USING {btree|flat|hnsw}] (columns) [WITH (options)]
type CreateIndex struct {
	Name        string
	Table       string
	Columns     []string
	Using       string
	Unique      bool
	With        []IndexOption
	IfNotExists bool
}

// DropIndex is DROP INDEX [IF EXISTS] name.
type DropIndex struct {
	Name     string
	IfExists bool
}

// Insert is INSERT INTO table [(columns)] VALUES (...), (...).
type Insert struct {
	Table   string
	Columns []string
	Rows    [][]Expr
}

// SelectItem is one projection. Star selects every column.
type SelectItem struct {
	Expr  Expr
	Alias string
	Star  bool
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Select is SELECT items [FROM table] [WHERE] [ORDER BY] [LIMIT] [OFFSET].
// An empty From evaluates the projection once.
type Select struct {
	Items   []SelectItem
	From    string
	Where   Expr
	OrderBy []OrderItem
	Limit   Expr
	Offset  Expr
}

// Assignment is one SET column = value.
type Assignment struct {
	Column string
	Value  Expr
}

// Update is UPDATE table SET ... [WHERE].
type Update struct {
	Table string
	Set   []Assignment
	Where Expr
}

// Delete is DELETE FROM table [WHERE].
type Delete struct {
	Table string
	Where Expr
}

// Begin, Commit and Rollback control explicit transactions.
type (
	Begin    struct{}
	Commit   struct{}
	Rollback struct{}
)

func (*CreateTable) statementNode() {}
func (*DropTable) statementNode()   {}
func (*CreateIndex) statementNode() {}
func (*DropIndex) statementNode()   {}
func (*Insert) statementNode()      {}
func (*Select) statementNode()      {}
func (*Update) statementNode()      {}
func (*Delete) statementNode()      {}
func (*Begin) statementNode()       {}
func (*Commit) statementNode()      {}
func (*Rollback) statementNode()    {}

// Literal is a constant.
type Literal struct {
	Value schema.Value
}

// ColumnRef names a column, optionally qualified by its table.
type ColumnRef struct {
	Table string
	Name  string
}

// Placeholder is a positional parameter $N, 1-based.
type Placeholder struct {
	N int
}

// BinaryOp is a binary operator.
type BinaryOp string

const (
	OpEq  BinaryOp = "="
	OpNe  BinaryOp = "<>"
	OpLt  BinaryOp = "<"
	OpLe  BinaryOp = "<="
	OpGt  BinaryOp = ">"
	OpGe  BinaryOp = ">="
	OpAnd BinaryOp = "AND"
	OpOr  BinaryOp = "OR"
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
)

// IsComparison reports whether op compares its operands.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Binary is Left Op Right.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// UnaryOp is a prefix operator.
type UnaryOp string

const (
	OpNot UnaryOp = "NOT"
	OpNeg UnaryOp = "-"
)

// Unary is Op Expr.
type Unary struct {
	Op   UnaryOp
	Expr Expr
}

// IsNull is Expr IS [NOT] NULL.
type IsNull struct {
	Expr Expr
	Not  bool
}

// Call is a scalar function call.
type Call struct {
	Name string
	Args []Expr
}

func (*Literal) exprNode()     {}
func (*ColumnRef) exprNode()   {}
func (*Placeholder) exprNode() {}
func (*Binary) exprNode()      {}
func (*Unary) exprNode()       {}
func (*IsNull) exprNode()      {}
func (*Call) exprNode()        {}
