// Package cmd provides the relcount maintenance CLI.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/Benny93/relcount-go/internal/config"
	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/graph"
	"github.com/Benny93/relcount-go/internal/ingestion"
	"github.com/Benny93/relcount-go/internal/relcount"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `short:"c" type:"path" help:"YAML config file"`
	DB       string `type:"path" help:"Storage path, overrides the config file"`
	LogLevel string `default:"info" enum:"debug,info,warn,error" help:"Log level (${enum})"`

	out io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.out != nil {
		return g.out
	}
	return os.Stdout
}

func (g *Globals) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if g.Config != "" {
		loaded, err := config.Load(g.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if g.DB != "" {
		cfg.StoragePath = g.DB
	}
	return cfg, cfg.Validate()
}

func (g *Globals) logger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(g.LogLevel); err == nil {
		l.SetLevel(level)
	}
	return l
}

// open loads the config and opens the module. The caller closes it.
func (g *Globals) open(ctx context.Context, readOnly bool) (*relcount.Module, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	m, err := relcount.Open(ctx, cfg, readOnly, g.logger(), nil)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.StoragePath, err)
	}
	return m, nil
}

func closeModule(m *relcount.Module) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = m.Close(ctx)
}

// ImportCmd replaces the store with a JSON graph file and counts it.
type ImportCmd struct {
	File string `arg:"" type:"existingfile" help:"JSON graph file"`
}

// Run executes the import command.
func (c *ImportCmd) Run(g *Globals) error {
	ctx := context.Background()
	kg, err := ingestion.LoadGraphFile(c.File)
	if err != nil {
		return err
	}

	m, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer closeModule(m)

	if err := m.Import(ctx, kg); err != nil {
		return fmt.Errorf("importing: %w", err)
	}
	color.New(color.FgGreen).Fprintf(g.stdout(), "Imported %d nodes and %d relationships\n", kg.NodeCount(), kg.RelationshipCount())
	return nil
}

// CountCmd counts the relationships of a node matching a descriptor.
type CountCmd struct {
	Node       string            `arg:"" help:"Node ID"`
	Type       string            `arg:"" help:"Relationship type"`
	Direction  string            `short:"d" default:"out" enum:"out,in" help:"Direction from the node (${enum})"`
	Properties map[string]string `short:"p" help:"Property constraints, key=value"`
	Literal    bool              `help:"Absent properties must be absent on the relationship"`
	CachedOnly bool              `help:"Fail instead of traversing when the cache is too coarse"`
}

// Query builds the descriptor being counted.
func (c *CountCmd) Query() (descriptor.Descriptor, error) {
	dir, err := graph.ParseDirection(c.Direction)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	if c.Literal {
		return descriptor.NewLiteral(graph.RelType(c.Type), dir, c.Properties), nil
	}
	return descriptor.NewGeneral(graph.RelType(c.Type), dir, c.Properties), nil
}

// Run executes the count command.
func (c *CountCmd) Run(g *Globals) error {
	ctx := context.Background()
	query, err := c.Query()
	if err != nil {
		return err
	}

	m, err := g.open(ctx, true)
	if err != nil {
		return err
	}
	defer closeModule(m)

	var n int
	if c.CachedOnly {
		n, err = m.CountCached(ctx, c.Node, query)
	} else {
		n, err = m.Count(ctx, c.Node, query)
	}
	if relcount.IsUnableToCount(err) {
		color.New(color.FgYellow).Fprintf(g.stdout(), "%s: cached counts are too coarse for %s\n", c.Node, query)
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(g.stdout(), n)
	return nil
}

// CachedCmd lists the cached counts of a node.
type CachedCmd struct {
	Node string `arg:"" help:"Node ID"`
	JSON bool   `help:"Print as JSON keyed by stored property name"`
}

// Run executes the cached command.
func (c *CachedCmd) Run(g *Globals) error {
	ctx := context.Background()
	m, err := g.open(ctx, true)
	if err != nil {
		return err
	}
	defer closeModule(m)

	degrees, err := m.CachedCounts(ctx, c.Node)
	if err != nil {
		return err
	}

	codec := m.Codec()
	if c.JSON {
		out := make(map[string]int, degrees.Len())
		for _, deg := range degrees {
			out[codec.Format(deg.Descriptor)] = deg.Count
		}
		enc := json.NewEncoder(g.stdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if degrees.Len() == 0 {
		fmt.Fprintf(g.stdout(), "No cached counts for %s\n", c.Node)
		return nil
	}
	for _, deg := range degrees {
		fmt.Fprintf(g.stdout(), "%-60s %d\n", codec.Format(deg.Descriptor), deg.Count)
	}
	return nil
}

// CompactCmd compacts cached counts above the threshold.
type CompactCmd struct {
	Nodes []string `arg:"" optional:"" help:"Node IDs (default: all nodes)"`
}

// Run executes the compact command.
func (c *CompactCmd) Run(g *Globals) error {
	ctx := context.Background()
	m, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer closeModule(m)

	if len(c.Nodes) == 0 {
		if err := m.CompactAll(ctx); err != nil {
			return fmt.Errorf("compacting: %w", err)
		}
		color.New(color.FgGreen).Fprintln(g.stdout(), "Compacted all nodes")
		return nil
	}
	for _, nodeID := range c.Nodes {
		if err := m.Compact(ctx, nodeID); err != nil {
			return fmt.Errorf("compacting %s: %w", nodeID, err)
		}
	}
	color.New(color.FgGreen).Fprintf(g.stdout(), "Compacted %d node(s)\n", len(c.Nodes))
	return nil
}

// RebuildCmd recounts every relationship from scratch.
type RebuildCmd struct{}

// Run executes the rebuild command.
func (c *RebuildCmd) Run(g *Globals) error {
	ctx := context.Background()
	m, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer closeModule(m)

	if err := m.RebuildAll(ctx); err != nil {
		return fmt.Errorf("rebuilding: %w", err)
	}
	color.New(color.FgGreen).Fprintln(g.stdout(), "Rebuilt cached counts")
	return nil
}

// ClearCmd drops every cached count.
type ClearCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`

	in io.Reader
}

// Run executes the clear command.
func (c *ClearCmd) Run(g *Globals) error {
	if !c.Force {
		in := c.in
		if in == nil {
			in = os.Stdin
		}
		fmt.Fprint(g.stdout(), "Drop all cached counts? [y/N] ")
		var response string
		_, _ = fmt.Fscanln(in, &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(g.stdout(), "Aborted")
			return nil
		}
	}

	ctx := context.Background()
	m, err := g.open(ctx, false)
	if err != nil {
		return err
	}
	defer closeModule(m)

	if err := m.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing: %w", err)
	}
	color.New(color.FgGreen).Fprintln(g.stdout(), "Cleared cached counts")
	return nil
}

// WatchCmd applies edge events appended to JSONL files.
type WatchCmd struct {
	Dir      string        `arg:"" type:"existingdir" help:"Directory of *.jsonl edge event files"`
	Debounce time.Duration `default:"2s" help:"Wait for writes to settle before applying"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	m, err := g.open(context.Background(), false)
	if err != nil {
		return err
	}
	defer closeModule(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-osSignalChannel()
		fmt.Fprintln(g.stdout(), "\nStopping watch mode...")
		cancel()
	}()

	fmt.Fprintf(g.stdout(), "Watching %s for edge events (Ctrl+C to stop)\n", c.Dir)
	err = ingestion.WatchEvents(ctx, c.Dir, m, ingestion.WatchOptions{
		Debounce: c.Debounce,
		Logger:   g.logger(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Fprintln(g.stdout(), "Watch mode stopped.")
	return nil
}

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Import  ImportCmd  `cmd:"" help:"Replace the store with a JSON graph file and count it"`
	Count   CountCmd   `cmd:"" help:"Count a node's relationships matching a descriptor"`
	Cached  CachedCmd  `cmd:"" help:"List a node's cached counts"`
	Compact CompactCmd `cmd:"" help:"Compact cached counts above the threshold"`
	Rebuild RebuildCmd `cmd:"" help:"Recount every relationship"`
	Clear   ClearCmd   `cmd:"" help:"Drop every cached count"`
	Watch   WatchCmd   `cmd:"" help:"Apply edge events from JSONL files as they are written"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

func (c *CLI) parser(options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("relcount"),
		kong.Description("Cached relationship counts for graph nodes"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	}, options...)
	return kong.New(c, options...)
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := c.parser()
	if err != nil {
		return err
	}
	kongCtx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	return kongCtx.Run(&c.Globals)
}
