package dialect

import (
	"testing"

	"github.com/kulezi/clusterdriver/clientwrapper"
)

func TestDoesStatementSetAutoCommit(t *testing.T) {
	var c statementClassifier
	if ok, v := c.doesStatementSetAutoCommit("SET autocommit = 0"); !ok || *v {
		t.Fatalf("got ok=%v v=%v, want true/false", ok, v)
	}
	if ok, v := c.doesStatementSetAutoCommit("SET autocommit = 1"); !ok || !*v {
		t.Fatalf("got ok=%v v=%v, want true/true", ok, v)
	}
	if ok, _ := c.doesStatementSetAutoCommit("SELECT 1"); ok {
		t.Fatal("unrelated statement misclassified")
	}
}

func TestDoesStatementSetReadOnly(t *testing.T) {
	var c statementClassifier
	ok, v := c.doesStatementSetReadOnly("SET TRANSACTION READ ONLY")
	if !ok || !*v {
		t.Fatalf("got ok=%v v=%v, want true/true", ok, v)
	}
	ok, v = c.doesStatementSetReadOnly("SET TRANSACTION READ WRITE")
	if !ok || *v {
		t.Fatalf("got ok=%v v=%v, want true/false", ok, v)
	}
}

func TestDoesStatementSetSchema(t *testing.T) {
	var c statementClassifier
	ok, schema := c.doesStatementSetSchema(`SET search_path TO "myschema"`)
	if !ok || schema != "MYSCHEMA" {
		t.Fatalf("got ok=%v schema=%q", ok, schema)
	}
}

func TestDoesStatementSetTransactionIsolation(t *testing.T) {
	var c statementClassifier
	ok, level := c.doesStatementSetTransactionIsolation("SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if !ok || level != clientwrapper.IsolationSerializable {
		t.Fatalf("got ok=%v level=%v", ok, level)
	}
}

func TestTransactionBoundaryDetectors(t *testing.T) {
	if !IsTransactionBegin("BEGIN") || !IsTransactionBegin("start transaction") {
		t.Fatal("expected BEGIN detection")
	}
	if !IsTransactionCommit("COMMIT") {
		t.Fatal("expected COMMIT detection")
	}
	if !IsTransactionRollback("rollback") {
		t.Fatal("expected ROLLBACK detection")
	}
}
