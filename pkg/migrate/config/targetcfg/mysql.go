package targetcfg

import (
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// MYSQL : connection settings for the target server. Read only to the engine.
type MYSQL struct {
	SessionVariableValues map[string]string `json:"session_vars" yaml:"session_vars"`
	Host                  string            `json:"host" yaml:"host"`
	UserName              string            `json:"user_name" yaml:"user_name"`
	Password              string            `json:"password" yaml:"password"`
	Port                  int               `json:"port" yaml:"port"`
	DB                    string            `json:"db" yaml:"db"`
	QueryLogging          bool              `json:"query_log" yaml:"query_log"`
}

// DefaultPort : mysql default
const DefaultPort = 3306

// Validate : host, user and database must be set before any transfer starts
func (m *MYSQL) Validate() error {
	var finalErr error
	if m.Host == "" {
		finalErr = multierror.Append(finalErr, errors.New("target host is required"))
	}
	if m.UserName == "" {
		finalErr = multierror.Append(finalErr, errors.New("target user is required"))
	}
	if m.DB == "" {
		finalErr = multierror.Append(finalErr, errors.New("target database is required"))
	}
	if m.Port < 0 || m.Port > 65535 {
		finalErr = multierror.Append(finalErr, fmt.Errorf("target port %d is out of range", m.Port))
	}
	return finalErr
}

func (m *MYSQL) GetDSN() string {
	port := m.Port
	if port == 0 {
		port = DefaultPort
	}
	q := url.Values{}
	q.Set("parseTime", "true")
	q.Set("collation", "utf8mb4_general_ci")
	q.Set("autocommit", "true")
	q.Set("multiStatements", "true")
	keys := make([]string, 0, len(m.SessionVariableValues))
	for k := range m.SessionVariableValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, m.SessionVariableValues[k])
	}
	return fmt.Sprintf(`%s:%s@tcp(%s:%d)/%s?%s`, m.UserName, m.Password, m.Host, port, m.DB, q.Encode())
}
