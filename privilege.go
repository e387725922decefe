package vecsql

import "github.com/hupe1980/vecsql/exec"

// Privilege is a set of statement classes a Session may run. Privileges
// combine with |.
type Privilege = exec.Privilege

const (
	PrivilegeNone            = exec.PrivilegeNone
	PrivilegeCreateTable     = exec.PrivilegeCreateTable
	PrivilegeDropTable       = exec.PrivilegeDropTable
	PrivilegeReadTableSchema = exec.PrivilegeReadTableSchema
	PrivilegeSelectRows      = exec.PrivilegeSelectRows
	PrivilegeInsertRows      = exec.PrivilegeInsertRows
	PrivilegeUpdateRows      = exec.PrivilegeUpdateRows
	PrivilegeDeleteRows      = exec.PrivilegeDeleteRows
	PrivilegeRows            = exec.PrivilegeRows
	PrivilegeReadOnly        = exec.PrivilegeReadOnly
	PrivilegeTable           = exec.PrivilegeTable
	PrivilegeSuperUser       = exec.PrivilegeSuperUser
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithPrivilege restricts the statements a session may run. A statement
// outside p fails with ErrInsufficientPrivilege.
func WithPrivilege(p Privilege) SessionOption {
	return func(s *Session) {
		s.cfg.privilege = p
	}
}
