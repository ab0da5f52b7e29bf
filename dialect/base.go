package dialect

import (
	"context"
	"strconv"
	"strings"

	"github.com/kulezi/clusterdriver/clientwrapper"
)

// statementClassifier implements the five DoesStatementSet* predicates by
// simple, conservative prefix/keyword matching. spec.md §1 scopes SQL
// parsing out ("does not parse SQL beyond detecting session-state-mutating
// statements"), so this deliberately does not attempt a real SQL parse —
// false negatives (an unusual statement form going undetected) are
// acceptable; false positives are not, so each matcher requires an
// unambiguous keyword sequence.
type statementClassifier struct{}

func normalize(sql string) string {
	return strings.ToUpper(strings.TrimSpace(sql))
}

func (statementClassifier) doesStatementSetAutoCommit(sql string) (bool, *bool) {
	s := normalize(sql)
	switch {
	case strings.HasPrefix(s, "SET AUTOCOMMIT"), strings.Contains(s, "AUTOCOMMIT"):
		v := !strings.Contains(s, "OFF") && !strings.HasSuffix(s, "= 0") && !strings.HasSuffix(s, "=0")
		return true, &v
	default:
		return false, nil
	}
}

func (statementClassifier) doesStatementSetReadOnly(sql string) (bool, *bool) {
	s := normalize(sql)
	if !strings.Contains(s, "READ ONLY") && !strings.Contains(s, "READ WRITE") && !strings.Contains(s, "READ_ONLY") {
		return false, nil
	}
	v := strings.Contains(s, "READ ONLY") || strings.Contains(s, "READ_ONLY")
	return true, &v
}

func (statementClassifier) doesStatementSetCatalog(sql string) (bool, string) {
	s := normalize(sql)
	if strings.HasPrefix(s, "USE ") {
		return true, strings.TrimSpace(strings.TrimPrefix(sql[3:], " "))
	}
	if strings.HasPrefix(s, "SET DBNAME") || strings.HasPrefix(s, "SET DATABASE") {
		parts := strings.SplitN(sql, "=", 2)
		if len(parts) == 2 {
			return true, strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		}
	}
	return false, ""
}

func (statementClassifier) doesStatementSetSchema(sql string) (bool, string) {
	s := normalize(sql)
	if !strings.HasPrefix(s, "SET SEARCH_PATH") {
		return false, ""
	}
	parts := strings.SplitN(s, "TO", 2)
	if len(parts) != 2 {
		return false, ""
	}
	return true, strings.Trim(strings.TrimSpace(parts[1]), `"'`)
}

func (statementClassifier) doesStatementSetTransactionIsolation(sql string) (bool, clientwrapper.IsolationLevel) {
	s := normalize(sql)
	if !strings.Contains(s, "ISOLATION LEVEL") && !strings.Contains(s, "TRANSACTION_ISOLATION") {
		return false, clientwrapper.IsolationUnspecified
	}
	switch {
	case strings.Contains(s, "READ UNCOMMITTED"):
		return true, clientwrapper.IsolationReadUncommitted
	case strings.Contains(s, "READ COMMITTED"):
		return true, clientwrapper.IsolationReadCommitted
	case strings.Contains(s, "REPEATABLE READ"):
		return true, clientwrapper.IsolationRepeatableRead
	case strings.Contains(s, "SERIALIZABLE"):
		return true, clientwrapper.IsolationSerializable
	default:
		return false, clientwrapper.IsolationUnspecified
	}
}

// IsTransactionBegin/Commit/Rollback support hostservice's inTransaction
// tracking (spec.md §4.2's updateState).
func IsTransactionBegin(sql string) bool {
	s := normalize(sql)
	return strings.HasPrefix(s, "BEGIN") || strings.HasPrefix(s, "START TRANSACTION")
}

func IsTransactionCommit(sql string) bool {
	return strings.HasPrefix(normalize(sql), "COMMIT")
}

func IsTransactionRollback(sql string) bool {
	return strings.HasPrefix(normalize(sql), "ROLLBACK")
}

// base is embedded by every concrete dialect to share the statement
// classifier and the common TryClosingTargetClient/Rollback/IsClientValid
// behavior; concrete dialects override Code/DefaultPort/IsDialect/
// DialectUpdateCandidates/GetHostListProvider/HostAliasQuery as needed.
type base struct {
	statementClassifier
	code        Code
	defaultPort int
}

func (b base) Code() Code      { return b.code }
func (b base) DefaultPort() int { return b.defaultPort }

func (b base) IsClientValid(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	return client.IsValid(ctx)
}

func (b base) TryClosingTargetClient(ctx context.Context, client clientwrapper.ClientWrapper) {
	_ = client.End(ctx)
}

func (b base) Rollback(ctx context.Context, client clientwrapper.ClientWrapper) error {
	return client.Rollback(ctx)
}

func (b base) DoesStatementSetReadOnly(sql string) (bool, *bool) {
	return b.statementClassifier.doesStatementSetReadOnly(sql)
}
func (b base) DoesStatementSetAutoCommit(sql string) (bool, *bool) {
	return b.statementClassifier.doesStatementSetAutoCommit(sql)
}
func (b base) DoesStatementSetCatalog(sql string) (bool, string) {
	return b.statementClassifier.doesStatementSetCatalog(sql)
}
func (b base) DoesStatementSetSchema(sql string) (bool, string) {
	return b.statementClassifier.doesStatementSetSchema(sql)
}
func (b base) DoesStatementSetTransactionIsolation(sql string) (bool, clientwrapper.IsolationLevel) {
	return b.statementClassifier.doesStatementSetTransactionIsolation(sql)
}

// portString is a small shared helper for building alias query parameters.
func portString(p int) string { return strconv.Itoa(p) }
