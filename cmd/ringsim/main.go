package main

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/galdor/go-program"
	"github.com/galdor/go-ringvote/pkg/ring"
)

func main() {
	p := program.NewProgram("ringsim",
		"run a ring vote election between local peers")

	p.AddOption("n", "peers", "count", "4", "the number of peers to start")
	p.AddOption("", "group-size", "count", "",
		"the group size expected by every peer (default: number of peers)")
	p.AddOption("", "vote-range", "count", "",
		"the number of distinct votes (default: group size)")
	p.AddOption("", "max-rounds", "count", "0",
		"the maximum number of rounds (0 for no limit)")
	p.AddOption("", "seed", "integer", "",
		"a base seed making votes deterministic")
	p.AddFlag("v", "verbose", "print every protocol event")

	p.SetMain(cmdMain)

	p.ParseCommandLine()
	p.Run()
}

func cmdMain(p *program.Program) {
	opts := simulationOptions{
		Peers:     intOption(p, "peers", 0),
		GroupSize: intOption(p, "group-size", 0),
		VoteRange: intOption(p, "vote-range", 0),
		MaxRounds: intOption(p, "max-rounds", 0),
	}

	if p.IsOptionSet("seed") {
		seed, err := strconv.ParseInt(p.OptionValue("seed"), 10, 64)
		if err != nil {
			p.Fatal("invalid seed: %v", err)
		}

		opts.Seed = &seed
	}

	cfg := opts.LocalCfg()

	cfg.Logger = &programLogger{p: p, verbose: p.IsOptionSet("verbose")}
	cfg.Reporter = ring.NewConsoleReporter(os.Stdout)

	if p.IsOptionSet("verbose") {
		cfg.Tracer = ring.TracerFunc(func(e ring.Event) {
			p.Info("%v", e)
		})
	}

	if _, err := ring.RunLocal(context.Background(), cfg); err != nil {
		if errors.Is(err, ring.ErrGroupSizeMismatch) {
			p.Fatal("the ring must be started with %d peers: %v",
				cfg.GroupSize, err)
		}

		p.Fatal("election failed: %v", err)
	}
}

type simulationOptions struct {
	Peers     int
	GroupSize int // 0 for the number of peers
	VoteRange int // 0 for the group size
	MaxRounds int
	Seed      *int64
}

// LocalCfg resolves default values before building vote sources, which need
// the final vote range.
func (opts simulationOptions) LocalCfg() ring.LocalCfg {
	groupSize := opts.GroupSize
	if groupSize == 0 {
		groupSize = opts.Peers
	}

	voteRange := opts.VoteRange
	if voteRange == 0 {
		voteRange = groupSize
	}

	cfg := ring.LocalCfg{
		Peers:     opts.Peers,
		GroupSize: groupSize,
		VoteRange: voteRange,
		MaxRounds: opts.MaxRounds,
	}

	if opts.Seed != nil {
		cfg.Votes = ring.SeededVotes(*opts.Seed, voteRange)
	}

	return cfg
}

func intOption(p *program.Program, name string, defaultValue int) int {
	if !p.IsOptionSet(name) && p.OptionValue(name) == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(p.OptionValue(name))
	if err != nil || i < 0 {
		p.Fatal("invalid value for --%s: %q", name, p.OptionValue(name))
	}

	return i
}
