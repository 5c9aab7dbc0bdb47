package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-assess/internal/config"
	"github.com/mind-engage/mindengage-assess/internal/db"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/grading"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := run(t, "hash-password", "s3cret")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestSeedSweepAndEvents(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "assess.db")
	catalogPath := filepath.Join("..", "..", "exams.example.yaml")

	_, err := run(t, "seed", "--db-dsn", dsn, "--catalog", catalogPath, "--log-level", "error")
	require.NoError(t, err)

	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	store := exam.NewSQLStore(dbh, db.DriverSQLite)
	ex, err := store.GetExam(context.Background(), "algebra-1")
	require.NoError(t, err)
	assert.Equal(t, "Algebra I midterm", ex.Title)
	require.NoError(t, dbh.Close())

	_, err = run(t, "sweep", "--db-dsn", dsn, "--log-level", "error")
	require.NoError(t, err)

	out, err := run(t, "events", "no-such-attempt", "--db-dsn", dsn, "--log-level", "error")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestSeedRequiresCatalog(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "assess.db")
	_, err := run(t, "seed", "--db-dsn", dsn, "--log-level", "error")
	assert.ErrorContains(t, err, "--catalog")
}

func TestGraderFollowsShortAnswerSetting(t *testing.T) {
	q := grading.Q{Type: exam.ShortAnswer, Points: 2, Key: json.RawMessage(`"Paris"`)}
	ctx := context.Background()

	res, err := newGrader(config.Config{ShortAnswerMaxEdit: -1}).Grade(ctx, q, json.RawMessage(`"paris"`))
	require.NoError(t, err)
	assert.True(t, res.NeedsManual)

	res, err = newGrader(config.Config{ShortAnswerMaxEdit: 1}).Grade(ctx, q, json.RawMessage(`"pari"`))
	require.NoError(t, err)
	assert.False(t, res.NeedsManual)
	assert.Equal(t, 2.0, res.Points)
}
