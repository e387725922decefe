package exec

import (
	"errors"

	"github.com/hupe1980/vecsql/ast"
)

// ErrInsufficientPrivilege is returned for a statement the session's
// privileges do not cover.
var ErrInsufficientPrivilege = errors.New("insufficient privilege")

// Privilege is a set of statement classes a session may run.
type Privilege uint64

const (
	PrivilegeNone Privilege = 0

	PrivilegeCreateTable     Privilege = 1 << 31
	PrivilegeDropTable       Privilege = 1 << 30
	PrivilegeReadTableSchema Privilege = 1 << 28

	PrivilegeSelectRows Privilege = 1 << 12
	PrivilegeInsertRows Privilege = 1 << 13
	// Updates and deletes read the rows they change.
	PrivilegeUpdateRows Privilege = 1<<14 | PrivilegeSelectRows
	PrivilegeDeleteRows Privilege = 1<<15 | PrivilegeSelectRows

	PrivilegeRows = PrivilegeSelectRows | PrivilegeInsertRows | PrivilegeUpdateRows | PrivilegeDeleteRows

	PrivilegeReadOnly = PrivilegeReadTableSchema | PrivilegeSelectRows
	PrivilegeTable    = PrivilegeCreateTable | PrivilegeDropTable | PrivilegeReadTableSchema | PrivilegeRows

	PrivilegeSuperUser Privilege = ^Privilege(0)
)

// RequiredPrivilege returns the privilege stmt needs. Transaction control
// needs none; unknown statements need PrivilegeSuperUser.
func RequiredPrivilege(stmt ast.Statement) Privilege {
	switch stmt.(type) {
	case *ast.CreateTable, *ast.CreateIndex:
		return PrivilegeCreateTable
	case *ast.DropTable, *ast.DropIndex:
		return PrivilegeDropTable
	case *ast.Insert:
		return PrivilegeInsertRows
	case *ast.Update:
		return PrivilegeUpdateRows
	case *ast.Delete:
		return PrivilegeDeleteRows
	case *ast.Select:
		return PrivilegeSelectRows
	case *ast.Begin, *ast.Commit, *ast.Rollback:
		return PrivilegeNone
	}
	return PrivilegeSuperUser
}

// CanExecute reports whether p covers the privilege stmt needs.
func (p Privilege) CanExecute(stmt ast.Statement) bool {
	required := RequiredPrivilege(stmt)
	return p&required == required
}
