package lottery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lottery.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
Debug = 3
Mint = "dai"
Faucet = 500

[Reserve]
RateBps = 250
`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Debug)
	require.Equal(t, "dai", cfg.Mint)
	require.Equal(t, uint64(500), cfg.Faucet)
	require.Equal(t, uint64(250), cfg.Reserve.RateBps)
	// untouched settings keep their default
	require.Equal(t, "easyrand", cfg.Queue)
	require.Equal(t, DefaultConfig().Reserve.Period, cfg.Reserve.Period)
	require.NotEqual(t, DefaultConfig().MintKey(), cfg.MintKey())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Mint = ""
	cfg.DKGTimeout = 0
	cfg.Reserve.RateBps = 20000
	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, xerrors.As(err, &merr))
	require.Len(t, merr.Errors, 3)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("Queue = \"\"\n"), 0600))
	_, err = LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue must be named")
}
