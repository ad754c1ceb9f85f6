package cloudsql

import (
	"fmt"
	"strings"
)

// BuildDatabaseURL resolves the topic history connection string for both
// local development and Google Cloud SQL on Cloud Run.
//
// For local development set DATABASE_URL directly. On Cloud Run set
// INSTANCE_CONNECTION_NAME (project:region:instance), DB_USER, DB_NAME and
// optionally DB_PASSWORD; the instance socket is mounted under /cloudsql.
//
// An empty result with a nil error means no database is configured.
func BuildDatabaseURL(getenv func(string) string) (string, error) {
	if dbURL := getenv("DATABASE_URL"); dbURL != "" {
		return dbURL, nil
	}

	instance := getenv("INSTANCE_CONNECTION_NAME")
	if instance == "" {
		return "", nil
	}

	user, name := getenv("DB_USER"), getenv("DB_NAME")
	if user == "" || name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	parts := []string{
		"host=" + socketPath(instance),
		"user=" + user,
	}
	// No password means IAM authentication.
	if password := getenv("DB_PASSWORD"); password != "" {
		parts = append(parts, "password="+password)
	}
	parts = append(parts, "dbname="+name, "sslmode=disable")

	return strings.Join(parts, " "), nil
}

// Describe returns loggable connection details with secrets removed.
func Describe(connStr string) map[string]string {
	switch {
	case connStr == "":
		return map[string]string{"connection_type": "none"}
	case strings.HasPrefix(connStr, "host=/cloudsql/"):
		return map[string]string{"connection_type": "cloud_sql", "dsn": redactKeyword(connStr)}
	default:
		return map[string]string{"connection_type": "direct", "database_url": redactPassword(connStr)}
	}
}

func socketPath(instance string) string {
	return "/cloudsql/" + instance
}

// redactPassword masks the password of a postgres:// URL.
func redactPassword(connStr string) string {
	if !strings.HasPrefix(connStr, "postgresql://") && !strings.HasPrefix(connStr, "postgres://") {
		return redactKeyword(connStr)
	}
	scheme, rest, _ := strings.Cut(connStr, "://")
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return connStr
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return connStr
	}
	return scheme + "://" + user + ":***@" + host
}

// redactKeyword masks password=... in a keyword/value DSN.
func redactKeyword(connStr string) string {
	fields := strings.Fields(connStr)
	for i, field := range fields {
		if strings.HasPrefix(field, "password=") {
			fields[i] = "password=***"
		}
	}
	return strings.Join(fields, " ")
}
