package lottery

import (
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/dedis/noloss/sys"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"
)

// Config holds the settings of the lottery service of a conode.
type Config struct {
	// Debug is the onet debug level.
	Debug int
	// Mint names the token the entry fees are paid in.
	Mint string
	// Faucet is credited to every account the service opens.
	Faucet uint64
	// Queue names the oracle queue the rounds draw from.
	Queue string
	// DKGTimeout is how long the beacon setup may take, in seconds.
	DKGTimeout int
	Reserve    ReserveConfig
}

// ReserveConfig describes the lending reserve the vaults are deployed into.
type ReserveConfig struct {
	// RateBps is the interest paid per period, in basis points.
	RateBps uint64
	// Period is in seconds.
	Period int64
}

// DefaultConfig is used when no configuration file is given.
func DefaultConfig() *Config {
	return &Config{
		Debug:      1,
		Mint:       "usdc",
		Queue:      "easyrand",
		DKGTimeout: 10,
		Reserve: ReserveConfig{
			RateBps: 10,
			Period:  24 * 60 * 60,
		},
	}
}

// LoadConfig reads a TOML file on top of the default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, xerrors.Errorf("reading %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("%s: %v", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Mint == "" {
		result = multierror.Append(result, xerrors.New("mint must be named"))
	}
	if c.Queue == "" {
		result = multierror.Append(result, xerrors.New("queue must be named"))
	}
	if c.DKGTimeout <= 0 {
		result = multierror.Append(result, xerrors.Errorf("dkg timeout %d must be positive", c.DKGTimeout))
	}
	if c.Reserve.Period <= 0 {
		result = multierror.Append(result, xerrors.Errorf("reserve period %d must be positive", c.Reserve.Period))
	}
	if c.Reserve.RateBps > 10000 {
		result = multierror.Append(result, xerrors.Errorf("reserve rate %d bps is above 100%%", c.Reserve.RateBps))
	}
	return result.ErrorOrNil()
}

func (c *Config) MintKey() sys.Key {
	return sys.DeriveKey("mint", []byte(c.Mint))
}

func (c *Config) QueueKey() sys.Key {
	return sys.DeriveKey("queue", []byte(c.Queue))
}

func (c *Config) ReserveKey() sys.Key {
	return sys.DeriveKey(sys.SeedReserve, c.MintKey().Slice())
}

var config = struct {
	sync.Mutex
	cfg *Config
}{cfg: DefaultConfig()}

// UseConfig sets the configuration of the services started afterwards.
func UseConfig(c *Config) {
	config.Lock()
	defer config.Unlock()
	config.cfg = c
}

func currentConfig() Config {
	config.Lock()
	defer config.Unlock()
	return *config.cfg
}
