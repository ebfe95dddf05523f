package data

import (
	"context"
	"fmt"
)

const usersTable = "users"

func timestampType(driver string) string {
	switch driver {
	case DriverPostgres:
		return "TIMESTAMP"
	case DriverSQLServer:
		return "DATETIME2"
	default:
		return "DATETIME"
	}
}

func userColumns(driver string) []Column {
	return []Column{
		{Name: "uid", Type: "BIGINT", AutoIncrement: true},
		{Name: "name", Type: "VARCHAR(64)", Unique: true, Comment: "login name"},
		{Name: "password", Type: "VARCHAR(255)", Comment: "bcrypt hash"},
		{Name: "email", Type: "VARCHAR(255)", Nullable: true},
		{Name: "group", Type: "VARCHAR(32)", HasDefault: true, Default: "user"},
		{Name: "created_at", Type: timestampType(driver), HasDefault: true, Default: "CURRENT_TIMESTAMP"},
	}
}

// Migrate creates the tables the application needs when they are missing.
func Migrate(ctx context.Context, s *Schema) error {
	exists, err := s.TableExists(ctx, usersTable)
	if err != nil {
		return fmt.Errorf("checking %s table: %w", usersTable, err)
	}
	if exists {
		s.log.Debug("table already present", "table", usersTable)
		return nil
	}
	if err := s.CreateTable(ctx, usersTable, userColumns(s.driver), TableOptions{Comment: "application users"}); err != nil {
		return fmt.Errorf("creating %s table: %w", usersTable, err)
	}
	return nil
}
