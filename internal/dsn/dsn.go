// Package dsn dispatches a catalog/receiver DSN string to the right SQL
// driver: mysql:// (or mysql+pymysql://, kept for receiver DSNs minted
// by older tooling) selects MySQL, anything else is a SQLite file path.
package dsn

import (
	"fmt"
	"net/url"
	"strings"
)

// MySQLParams is the parsed form of a mysql:// DSN, shaped for
// building a database/sql DSN string for go-sql-driver/mysql.
type MySQLParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Charset  string
}

// IsMySQLDSN reports whether dsn selects the MySQL backend. Grounded on
// original_source/converter/adapters/mysql_common.py's is_mysql_dsn.
func IsMySQLDSN(value string) bool {
	token := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(token, "mysql://") || strings.HasPrefix(token, "mysql+pymysql://")
}

// ParseMySQLDSN parses a mysql:// (or mysql+pymysql://) DSN into
// connection parameters, rejecting a DSN with no database name.
// Grounded on original_source/converter/adapters/mysql_common.py's
// parse_mysql_dsn.
func ParseMySQLDSN(value string) (MySQLParams, error) {
	token := strings.TrimSpace(value)
	if strings.HasPrefix(strings.ToLower(token), "mysql+pymysql://") {
		token = "mysql://" + token[len("mysql+pymysql://"):]
	}

	parsed, err := url.Parse(token)
	if err != nil {
		return MySQLParams{}, fmt.Errorf("dsn: invalid mysql dsn: %w", err)
	}
	if strings.ToLower(parsed.Scheme) != "mysql" {
		return MySQLParams{}, fmt.Errorf("dsn: unsupported dsn scheme %q", parsed.Scheme)
	}

	database := strings.TrimPrefix(parsed.Path, "/")
	if database == "" {
		return MySQLParams{}, fmt.Errorf("dsn: mysql dsn must include database name")
	}

	host := parsed.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := 3306
	if p := parsed.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}

	user := ""
	password := ""
	if parsed.User != nil {
		user = parsed.User.Username()
		password, _ = parsed.User.Password()
	}

	charset := parsed.Query().Get("charset")
	if charset == "" {
		charset = "utf8mb4"
	}

	return MySQLParams{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Database: database,
		Charset:  charset,
	}, nil
}

// ToGoSQLDriverDSN renders params into a github.com/go-sql-driver/mysql
// formatted DSN string suitable for sql.Open("mysql", ...).
func (p MySQLParams) ToGoSQLDriverDSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=UTC",
		p.User, p.Password, p.Host, p.Port, p.Database, p.Charset,
	)
}

// Driver names a database/sql driver as registered via a blank import.
type Driver string

const (
	DriverSQLite Driver = "sqlite3"
	DriverMySQL  Driver = "mysql"
)

// Resolve turns a raw DSN into the driver to open it with and the
// driver-specific connection string database/sql expects.
func Resolve(raw string) (Driver, string, error) {
	if IsMySQLDSN(raw) {
		params, err := ParseMySQLDSN(raw)
		if err != nil {
			return "", "", err
		}
		return DriverMySQL, params.ToGoSQLDriverDSN(), nil
	}
	path := strings.TrimSpace(raw)
	if path == "" {
		return "", "", fmt.Errorf("dsn: sqlite dsn must be a non-empty file path")
	}
	return DriverSQLite, path, nil
}
