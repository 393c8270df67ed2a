package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brojonat/pentacle/service/sned"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// captureAddressInput runs readAddressInput inside a minimal app.
func captureAddressInput(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var got string
	app := &cli.App{
		Name: "pentacle",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addresses"},
			&cli.StringFlag{Name: "file"},
			&cli.BoolFlag{Name: "yes"},
		},
		Action: func(c *cli.Context) error {
			var err error
			got, err = readAddressInput(c)
			return err
		},
	}
	err := app.Run(append([]string{"pentacle"}, args...))
	return got, err
}

func TestReadAddressInput_Flag(t *testing.T) {
	got, err := captureAddressInput(t, "--addresses", "A,B")
	require.NoError(t, err)
	assert.Equal(t, "A,B", got)
}

func TestReadAddressInput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "winners.txt")
	require.NoError(t, os.WriteFile(path, []byte("A\nB\nA\n"), 0o644))

	got, err := captureAddressInput(t, "--file", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "A"}, sned.ParseAddressList(got))
}

func TestReadAddressInput_Args(t *testing.T) {
	got, err := captureAddressInput(t, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, sned.ParseAddressList(got))
}

func TestReadAddressInput_StdinRequiresYes(t *testing.T) {
	_, err := captureAddressInput(t, "--file", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes is required")
}

func TestReadAddressInput_Stdin(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString("A\nB\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	stdin := os.Stdin
	os.Stdin = r
	t.Cleanup(func() { os.Stdin = stdin; r.Close() })

	got, err := captureAddressInput(t, "--file", "-", "--yes")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, sned.ParseAddressList(got))
}

func TestReadAddressInput_Missing(t *testing.T) {
	_, err := captureAddressInput(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "addresses are required")
}

func TestReadAddressInput_MissingFile(t *testing.T) {
	_, err := captureAddressInput(t, "--file", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tt.input), &out, "Continue?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "Continue? [y/N]")
	}
}

func TestPrintReport(t *testing.T) {
	report := &sned.Report{
		Outcomes: []sned.Outcome{
			{Request: sned.TransferRequest{Destination: "A", Lamports: 200_000_000}, TxID: "5sig", Succeeded: true, Attempts: 1},
			{Request: sned.TransferRequest{Destination: "B", Lamports: 100_000_000}, TxID: sned.TxIDFailed, Attempts: 6, Error: sned.ErrRetriesExhausted.Error(), Err: errors.New("x")},
		},
	}

	var out bytes.Buffer
	printReport(&out, report)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "0.2")
	assert.Contains(t, lines[1], "5sig")
	assert.Contains(t, lines[2], "failed (broadcast retries exhausted)")
}

func TestSnedCommand_RejectsBadAmount(t *testing.T) {
	app := &cli.App{
		Name:     "pentacle",
		Commands: []*cli.Command{snedCommand()},
		Flags:    []cli.Flag{&cli.StringFlag{Name: "log-level"}},
	}
	err := app.Run([]string{"pentacle", "sned", "--amount", "0", "--addresses", "A", "--yes"})
	require.Error(t, err)
	assert.True(t, sned.IsValidation(err))
}
