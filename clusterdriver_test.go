package clusterdriver

import (
	"context"
	"strings"
	"testing"

	"github.com/kulezi/clusterdriver/hostinfo"
)

func TestBuildDSNPostgresIncludesCredentialsAndDefaultsSSLMode(t *testing.T) {
	host := hostinfo.NewBuilder().Host("writer.example.com").Port(5432).Build()
	dsn := buildDSN(DriverPostgres, &host, map[string]string{
		"user": "app", "password": "secret", "database": "appdb",
	})
	for _, want := range []string{"host=writer.example.com", "port=5432", "user=app", "password=secret", "dbname=appdb", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("expected dsn to contain %q, got %q", want, dsn)
		}
	}
}

func TestBuildDSNPostgresHonorsExplicitSSLMode(t *testing.T) {
	host := hostinfo.NewBuilder().Host("writer.example.com").Port(5432).Build()
	dsn := buildDSN(DriverPostgres, &host, map[string]string{"sslmode": "require"})
	if !strings.Contains(dsn, "sslmode=require") {
		t.Fatalf("expected explicit sslmode to be honored, got %q", dsn)
	}
	if strings.Contains(dsn, "sslmode=disable") {
		t.Fatalf("explicit sslmode should not be overridden, got %q", dsn)
	}
}

func TestBuildDSNMySQLShape(t *testing.T) {
	host := hostinfo.NewBuilder().Host("writer.example.com").Port(3306).Build()
	dsn := buildDSN(DriverMySQL, &host, map[string]string{
		"user": "app", "password": "secret", "database": "appdb",
	})
	want := "app:secret@tcp(writer.example.com:3306)/appdb"
	if dsn != want {
		t.Fatalf("expected mysql dsn %q, got %q", want, dsn)
	}
}

func TestOpenRejectsUnknownDriverFamily(t *testing.T) {
	_, err := Open(context.Background(), Config{
		InitialHost: "writer.example.com",
		Family:      DriverFamily("oracle"),
	})
	if err == nil {
		t.Fatal("expected an error for an unknown driver family")
	}
}
