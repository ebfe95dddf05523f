package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    IdentifierKind
		want    string
		wantErr bool
	}{
		{"plain table", "users", KindTable, "users", false},
		{"qualified column", "users.uid", KindColumn, "users.uid", false},
		{"backticked column", "`group`", KindColumn, "`group`", false},
		{"star column", "*", KindColumn, "*", false},
		{"star table rejected", "*", KindTable, "", true},
		{"space rejected", "user name", KindColumn, "", true},
		{"injection rejected", "id; DROP TABLE users", KindColumn, "", true},
		{"quote rejected", "na'me", KindColumn, "", true},
		{"paren rejected", "COUNT(id)", KindColumn, "", true},
		{"empty rejected", "", KindTable, "", true},
		{"operator lowercase", "like", KindOperator, "LIKE", false},
		{"operator spacing", "not   in", KindOperator, "NOT IN", false},
		{"operator between", "Not Between", KindOperator, "NOT BETWEEN", false},
		{"operator unknown", "REGEXP", KindOperator, "", true},
		{"operator injection", "= 1 OR 1 =", KindOperator, "", true},
		{"join left", "left", KindJoinType, "LEFT", false},
		{"join cross", "CROSS", KindJoinType, "", true},
		{"direction default", "", KindDirection, "ASC", false},
		{"direction desc", "desc", KindDirection, "DESC", false},
		{"direction bad", "sideways", KindDirection, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateIdentifier(tt.input, tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`uid`", QuoteIdentifier("uid"))
	assert.Equal(t, "`users`.`uid`", QuoteIdentifier("users.uid"))
	assert.Equal(t, "`users`.*", QuoteIdentifier("users.*"))
	assert.Equal(t, "`group`", QuoteIdentifier("`group`"))
	assert.Equal(t, "*", QuoteIdentifier("*"))
}

func TestSQLParser(t *testing.T) {
	p := NewSQLParser()

	t.Run("named params become positional", func(t *testing.T) {
		sqlText, args, err := p.Bind("SELECT * FROM users WHERE uid = {uid} OR name = {name} OR uid = {uid}",
			map[string]interface{}{"uid": 7, "name": "x"})
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM users WHERE uid = ? OR name = ? OR uid = ?", sqlText)
		assert.Equal(t, []interface{}{7, "x", 7}, args)
	})

	t.Run("colon params, literals and casts", func(t *testing.T) {
		parsed := p.Parse("SELECT ':skip', '{skip}', created_at::date FROM t WHERE a = :a AND b = {b}")
		assert.Equal(t, "SELECT ':skip', '{skip}', created_at::date FROM t WHERE a = ? AND b = ?", parsed.SQL)
		assert.Equal(t, []string{"a", "b"}, parsed.ParamNames)
	})

	t.Run("braces that are not params", func(t *testing.T) {
		parsed := p.Parse("SELECT '{}' WHERE x = {not a param}")
		assert.Equal(t, "SELECT '{}' WHERE x = {not a param}", parsed.SQL)
		assert.Empty(t, parsed.ParamNames)
	})

	t.Run("missing params reported sorted", func(t *testing.T) {
		_, _, err := p.Bind("SELECT {b}, {a}", map[string]interface{}{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Contains(t, err.Error(), "a, b")
	})
}

func TestExecutionErrorUnwrap(t *testing.T) {
	driverErr := errors.New("no such table: nope")
	err := error(&ExecutionError{SQL: "SELECT * FROM nope", Err: driverErr})
	assert.ErrorIs(t, err, driverErr)
	assert.Contains(t, err.Error(), "SELECT * FROM nope")
}
