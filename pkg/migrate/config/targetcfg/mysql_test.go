package targetcfg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMYSQL_Validate(t *testing.T) {
	err := (&MYSQL{}).Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "target host is required")
	require.Contains(t, err.Error(), "target user is required")
	require.Contains(t, err.Error(), "target database is required")

	require.NoError(t, (&MYSQL{Host: "localhost", UserName: "root", DB: "northwind"}).Validate())
}

func TestMYSQL_GetDSN(t *testing.T) {
	m := MYSQL{
		Host:                  "db.local",
		UserName:              "migrator",
		Password:              "secret",
		DB:                    "northwind",
		SessionVariableValues: map[string]string{"sql_mode": "'ANSI_QUOTES'"},
	}
	dsn := m.GetDSN()
	require.Contains(t, dsn, "migrator:secret@tcp(db.local:3306)/northwind?")
	require.Contains(t, dsn, "parseTime=true")
	require.Contains(t, dsn, "sql_mode=%27ANSI_QUOTES%27")
}
