package dialect

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.Equal(t, NameMySQL, New(" MySQL ").Name())
	assert.Equal(t, NameSQLite, New("sqlite3").Name())
	assert.Equal(t, NameUnknown, New("postgres").Name())
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`trading`.`purchase_states`", New("mysql").QuoteIdentifier("trading.purchase_states"))
	assert.Equal(t, `"purchase_states"`, New("sqlite").QuoteIdentifier("purchase_states"))
	assert.Equal(t, "purchase_states", New("oracle").QuoteIdentifier("purchase_states"))
}

func TestIsUniqueViolation_Messages(t *testing.T) {
	assert.True(t, New("sqlite").IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: docs.id (2067)")))
	assert.True(t, New("mysql").IsUniqueViolation(errors.New("Error 1062 (23000): Duplicate entry 'x' for key 'PRIMARY'")))
	assert.False(t, New("sqlite").IsUniqueViolation(errors.New("database is locked")))
	assert.False(t, New("mysql").IsUniqueViolation(nil))
}

func TestIsUniqueViolation_MySQLErrorNumber(t *testing.T) {
	d := New("mysql")
	dup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	assert.True(t, d.IsUniqueViolation(dup))
	assert.False(t, d.IsUniqueViolation(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"}))
}

func TestColumnTypes(t *testing.T) {
	assert.Equal(t, "VARCHAR(64)", New("mysql").KeyColumnType())
	assert.Equal(t, "LONGTEXT", New("mysql").DocumentColumnType())
	assert.Equal(t, "TEXT", New("sqlite").KeyColumnType())
}
