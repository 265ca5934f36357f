package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserResolve_ConfiguredBinary(t *testing.T) {
	isolate(t)

	bin := filepath.Join(t.TempDir(), "chromium")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))
	t.Setenv("WAGATEWAY_BROWSER_BIN", bin)

	output := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())
	resolveTimeout = time.Minute

	err := runBrowserResolve(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, bin, strings.TrimSpace(output.String()))
}
