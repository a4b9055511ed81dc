// Command replay verifies and produces deterministic command recordings.
//
//	replay verify session.rec        re-simulate and check every checkpoint
//	replay info session.rec          print recording metadata
//	replay demo -o demo.rec -ticks 600 -seed 42
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"danmaku/internal/config"
	"danmaku/internal/replay"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "verify":
		err = verify(os.Args[2:])
	case "info":
		err = info(os.Args[2:])
	case "demo":
		err = demo(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: replay verify|info <file> | replay demo [-o file] [-ticks n] [-seed s]")
	os.Exit(2)
}

func verify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	every := fs.Uint64("every", 0, "also print a digest every n ticks")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}

	rec, err := replay.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := replay.Run(rec, *every)
	if err != nil {
		return err
	}
	for _, c := range res.Checkpoints {
		log.Printf("   tick %6d  %016x", c.Tick, c.Digest)
	}
	log.Printf("✅ %d ticks, %d commands, %d checkpoints verified in %v",
		res.Ticks, res.Commands, len(rec.Checkpoints), time.Since(start).Round(time.Millisecond))
	log.Printf("   final digest %016x, %d bullets, %d pools", res.Final, res.Stats.Bullets, res.Stats.Pools)
	return nil
}

func info(args []string) error {
	if len(args) != 1 {
		usage()
	}
	rec, err := replay.LoadFile(args[0])
	if err != nil {
		return err
	}
	catalog := "built-in"
	if len(rec.Catalog) > 0 {
		catalog = fmt.Sprintf("inline, %d bytes", len(rec.Catalog))
	}
	log.Printf("📼 Session  %s", rec.Session)
	log.Printf("   Seed     %d", rec.Seed)
	log.Printf("   Field    %vx%v at %d TPS", rec.Sim.Width, rec.Sim.Height, rec.Sim.TickRate)
	log.Printf("   Ticks    %d (%v)", rec.Ticks, time.Duration(rec.Ticks)*time.Second/time.Duration(rec.Sim.TickRate))
	log.Printf("   Commands %d in %d frames", rec.CommandCount(), len(rec.Frames))
	log.Printf("   Checks   %d", len(rec.Checkpoints))
	log.Printf("   Styles   %s", catalog)
	return nil
}

func demo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	out := fs.String("o", "demo.rec", "output file")
	ticks := fs.Int("ticks", 600, "ticks to simulate")
	seed := fs.Int64("seed", 1, "RNG seed")
	every := fs.Uint64("every", replay.DefaultCheckpointEvery, "checkpoint spacing in ticks")
	fs.Parse(args)

	if *ticks <= 0 {
		return fmt.Errorf("ticks must be positive, got %d", *ticks)
	}
	if *seed == 0 {
		return fmt.Errorf("seed must be non-zero for a reproducible demo")
	}

	sim := config.SimFromEnv()
	sim.Seed = *seed
	rec, err := replay.RecordDemo(sim, config.DefaultLimits(), *ticks, *every)
	if err != nil {
		return err
	}
	if err := replay.SaveFile(*out, rec); err != nil {
		return err
	}
	log.Printf("💾 Recorded %d ticks, %d commands to %s", rec.Ticks, rec.CommandCount(), *out)
	return nil
}
