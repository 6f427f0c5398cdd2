// Lotteryd runs a conode with the no-loss lottery and its randomness beacon,
// and talks to a running roster of such conodes.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/dedis/noloss/lottery"
	"github.com/dedis/noloss/sys"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"

	_ "github.com/dedis/noloss/easyrand"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file of the lottery",
	}
	privateFlag = cli.StringFlag{
		Name:  "private",
		Value: "private.toml",
		Usage: "private configuration of the conode",
	}
	metricsFlag = cli.StringFlag{
		Name:  "metrics",
		Usage: "address to serve the prometheus metrics on",
	}
	rosterFlag = cli.StringFlag{
		Name:  "roster",
		Value: "public.toml",
		Usage: "group definition of the conodes",
	}
)

func main() {
	a := cli.NewApp()
	a.Name = "lotteryd"
	a.Usage = "no-loss lottery conode"
	a.Commands = []cli.Command{
		{
			Name:   "server",
			Usage:  "run the conode",
			Flags:  []cli.Flag{configFlag, privateFlag, metricsFlag},
			Action: runServer,
		},
		{
			Name:   "setup",
			Usage:  "run the beacon DKG and create the lending reserve",
			Flags:  []cli.Flag{rosterFlag},
			Action: setup,
		},
		{
			Name:      "round",
			Usage:     "show a round",
			ArgsUsage: "ROUND_KEY",
			Flags:     []cli.Flag{rosterFlag},
			Action:    showRound,
		},
	}
	if err := a.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	cfg := lottery.DefaultConfig()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = lottery.LoadConfig(path); err != nil {
			return err
		}
	}
	log.SetDebugVisible(cfg.Debug)
	lottery.UseConfig(cfg)

	if addr := c.String(metricsFlag.Name); addr != "" {
		go func() {
			handler := promhttp.HandlerFor(lottery.Gatherer(), promhttp.HandlerOpts{})
			if err := http.ListenAndServe(addr, handler); err != nil {
				log.Error("metrics:", err)
			}
		}()
	}
	app.RunServer(c.String(privateFlag.Name))
	return nil
}

func setup(c *cli.Context) error {
	roster, err := readRoster(c.String(rosterFlag.Name))
	if err != nil {
		return err
	}
	reply, err := lottery.NewClient(roster).Setup()
	if err != nil {
		return err
	}
	fmt.Printf("public: %x\nmint: %s\nreserve: %s\nqueue: %s\n",
		reply.Public, reply.Mint, reply.Reserve, reply.Queue)
	return nil
}

func showRound(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("missing round key")
	}
	key, err := sys.KeyFromHex(c.Args().First())
	if err != nil {
		return err
	}
	roster, err := readRoster(c.String(rosterFlag.Name))
	if err != nil {
		return err
	}
	reply, err := lottery.NewClient(roster).GetRound(key)
	if err != nil {
		return err
	}
	r := reply.Round
	fmt.Printf("round %q by %s: %s\n", r.Name, r.Authority, r.Status)
	fmt.Printf("entry fee %d, %d/%d participants, vault %d\n",
		r.EntryFee, r.Participants.Len(), r.MaxParticipants, reply.Vault)
	fmt.Printf("client %s: %s, result %d\n", r.Client, reply.Client.Status, reply.Client.Result)
	if w, ok := r.WinnerKey(); ok {
		fmt.Println("winner", w)
	}
	return nil
}

func readRoster(path string) (*onet.Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("reading roster: %v", err)
	}
	defer f.Close()
	group, err := app.ReadGroupDescToml(f)
	if err != nil {
		return nil, xerrors.Errorf("reading roster: %v", err)
	}
	if group.Roster == nil || len(group.Roster.List) == 0 {
		return nil, xerrors.Errorf("empty roster in %s", path)
	}
	return group.Roster, nil
}
