package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- comment
CREATE TABLE a (id INT);
INSERT INTO a VALUES ('x;y');
-- trailing
DROP TABLE a`

	stmts := SplitStatements(sql)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
	assert.Equal(t, "INSERT INTO a VALUES ('x;y')", stmts[1])
	assert.Equal(t, "DROP TABLE a", stmts[2])
}

func TestLoad(t *testing.T) {
	for _, dbType := range []string{"postgres", "mysql"} {
		up, err := Load(dbType, "up")
		require.NoError(t, err)
		stmts := SplitStatements(up)
		assert.NotEmpty(t, stmts)

		joined := strings.Join(stmts, "\n")
		for _, table := range []string{"users", "settings", "mailboxes", "seen_messages"} {
			assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table, dbType)
		}

		down, err := Load(dbType, "down")
		require.NoError(t, err)
		assert.Len(t, SplitStatements(down), 4)
	}

	_, err := Load("sqlite", "up")
	assert.Error(t, err)
	_, err = Load("postgres", "sideways")
	assert.Error(t, err)
}
