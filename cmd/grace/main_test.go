package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Dispatch(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Run([]string{"grace", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Usage:")

	out.Reset()
	errOut.Reset()
	code = Run([]string{"grace", "bogus"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Unknown command")

	out.Reset()
	errOut.Reset()
	code = Run([]string{"grace", "parliament"}, &out, &errOut)
	assert.Equal(t, 2, code)

	out.Reset()
	errOut.Reset()
	code = Run([]string{"grace", "log"}, &out, &errOut)
	assert.Equal(t, 2, code)

	out.Reset()
	errOut.Reset()
	code = Run([]string{"grace", "meta"}, &out, &errOut)
	assert.Equal(t, 2, code)
}

// TestRun_LogVerify_EmptyLedger exercises the CLI against a freshly
// opened Lite Mode ledger: an empty chain verifies successfully.
func TestRun_LogVerify_EmptyLedger(t *testing.T) {
	t.Setenv("GRACE_LEDGER_PATH", filepath.Join(t.TempDir(), "grace_ledger_test.db"))
	t.Setenv("GRACE_DATABASE_URL", "")
	t.Setenv("GRACE_REDIS_ADDR", "")

	var out, errOut bytes.Buffer
	code := Run([]string{"grace", "log", "verify"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "PASSED")
}

func TestRun_ParliamentStats_EmptyLedger(t *testing.T) {
	t.Setenv("GRACE_LEDGER_PATH", filepath.Join(t.TempDir(), "grace_ledger_test.db"))
	t.Setenv("GRACE_DATABASE_URL", "")
	t.Setenv("GRACE_REDIS_ADDR", "")

	var out, errOut bytes.Buffer
	code := Run([]string{"grace", "parliament", "stats"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "\"Total\": 0")
}
