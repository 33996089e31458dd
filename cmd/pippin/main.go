// Command pippin is a CLI front end over the partition engine: create a
// partition, push element changes, flush them to disk, roll snapshots,
// reconcile divergent tips, and inspect history.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/pippin/pkg/commit"
	"github.com/cuemby/pippin/pkg/config"
	"github.com/cuemby/pippin/pkg/element"
	"github.com/cuemby/pippin/pkg/merge"
	"github.com/cuemby/pippin/pkg/metrics"
	"github.com/cuemby/pippin/pkg/partition"
	"github.com/cuemby/pippin/pkg/plog"
	"github.com/cuemby/pippin/pkg/policy"
	"github.com/cuemby/pippin/pkg/state"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var cfg config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pippin",
	Short:   "Pippin - an embedded, append-only, content-addressed object store",
	Long: `Pippin - an embedded, append-only, content-addressed object store.

Run with no subcommand to walk through the repository at --dir: if one
already exists there, its tip's elements are printed; otherwise a new
one is created with a couple of sample elements so you have something
to inspect with the other subcommands.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("pippin version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("dir", ".", "repository directory")
	rootCmd.PersistentFlags().String("backend", "dir", "storage backend: dir, bolt, or mem")
	rootCmd.PersistentFlags().Uint64("part-id", 1, "partition id")
	rootCmd.PersistentFlags().String("config", ".pippin.yaml", "path to the repository config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit JSON logs; overrides the config file")

	cobra.OnInitialize(initConfigAndLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfigAndLogging() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		loaded = config.Default()
	}
	cfg = loaded

	if v, _ := rootCmd.PersistentFlags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if rootCmd.PersistentFlags().Changed("log-json") {
		cfg.LogJSON, _ = rootCmd.PersistentFlags().GetBool("log-json")
	}

	plog.Init(plog.Config{Level: plog.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
}

func flagPartID(cmd *cobra.Command) element.PartId {
	v, _ := cmd.Flags().GetUint64("part-id")
	return element.PartId(v)
}

func flagDirBackend(cmd *cobra.Command) (string, string) {
	dir, _ := cmd.Flags().GetString("dir")
	backend, _ := cmd.Flags().GetString("backend")
	return dir, backend
}

func snapshotPolicy() *policy.Policy {
	return &policy.Policy{
		CommitWeight: cfg.SnapshotPolicy.CommitWeight,
		EditWeight:   cfg.SnapshotPolicy.EditWeight,
		Threshold:    cfg.SnapshotPolicy.Threshold,
	}
}

func openPartition(cmd *cobra.Command, allHistory bool) (*partition.Partition, error) {
	dir, backend := flagDirBackend(cmd)
	partID := flagPartID(cmd)

	io, err := openBackend(backend, dir, partID)
	if err != nil {
		return nil, err
	}

	opts := partition.Options{Decoder: element.TextDecoder{}, Policy: snapshotPolicy()}
	if backend != "mem" {
		id, err := instanceID(dir)
		if err != nil {
			return nil, err
		}
		opts.MakeUserData = makeUserDataFunc(id)
	}

	p := partition.Open(io, partID, opts)
	if err := p.Load(allHistory); err != nil {
		return nil, fmt.Errorf("loading partition: %w", err)
	}
	return p, nil
}

// runDemo backs the root command's no-subcommand behavior: look for an
// existing repository at --dir and print its tip, or create one with a
// couple of sample elements if none exists yet.
func runDemo(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("dir")
	partID := flagPartID(cmd)

	io, err := openBackend("dir", dir, partID)
	if err != nil {
		return err
	}

	opts := partition.Options{Decoder: element.TextDecoder{}, Policy: snapshotPolicy()}
	id, err := instanceID(dir)
	if err != nil {
		return err
	}
	opts.MakeUserData = makeUserDataFunc(id)

	if io.SsLen() > 0 {
		p := partition.Open(io, partID, opts)
		if err := p.Load(false); err != nil {
			return fmt.Errorf("loading partition: %w", err)
		}
		if !p.IsReady() {
			fmt.Printf("repository at %s has divergent tips; run `pippin merge` first\n", dir)
			return nil
		}
		tip, _ := p.Tip()
		fmt.Printf("found repository at %s (partition %d), tip %s\n", dir, partID, tip.StateSum)
		if len(tip.EltMap) == 0 {
			fmt.Println("  (no elements)")
			return nil
		}
		ids := make([]element.EltId, 0, len(tip.EltMap))
		for eid := range tip.EltMap {
			ids = append(ids, eid)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, eid := range ids {
			fmt.Printf("  %d: %q\n", eid.Seq(), string(tip.EltMap[eid].Bytes()))
		}
		return nil
	}

	fmt.Printf("no repository found at %s; creating one\n", dir)
	p, err := partition.Create(io, partID, "pippin-demo", opts)
	if err != nil {
		return fmt.Errorf("creating partition: %w", err)
	}

	tip, _ := p.Tip()
	mut := state.NewMut(tip)
	mut.Insert(element.NewEltId(partID, 1), element.Text("hello"))
	mut.Insert(element.NewEltId(partID, 2), element.Text("world"))
	if _, err := p.PushState(mut, commit.Extra{}); err != nil {
		return fmt.Errorf("pushing sample elements: %w", err)
	}
	if _, err := p.Write(false, nil); err != nil {
		return fmt.Errorf("writing commit log: %w", err)
	}

	newTip, _ := p.Tip()
	fmt.Printf("created repository at %s (partition %d), tip %s\n", dir, partID, newTip.StateSum)
	fmt.Println("  1: \"hello\"")
	fmt.Println("  2: \"world\"")
	fmt.Println("run `pippin log` or `pippin inspect <prefix>` to explore it further")
	return nil
}

var initCmd = &cobra.Command{
	Use:   "init NAME",
	Short: "Create a new, empty partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, backend := flagDirBackend(cmd)
		partID := flagPartID(cmd)

		io, err := openBackend(backend, dir, partID)
		if err != nil {
			return err
		}

		opts := partition.Options{Decoder: element.TextDecoder{}, Policy: snapshotPolicy()}
		if backend != "mem" {
			id, err := instanceID(dir)
			if err != nil {
				return err
			}
			opts.MakeUserData = makeUserDataFunc(id)
		}

		p, err := partition.Create(io, partID, args[0], opts)
		if err != nil {
			return fmt.Errorf("creating partition: %w", err)
		}

		tip, _ := p.Tip()
		fmt.Printf("initialized repository %q (partition %d) at statesum %s\n", args[0], partID, tip.StateSum)
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push TEXT",
	Short: "Insert a new text element onto the current tip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPartition(cmd, false)
		if err != nil {
			return err
		}
		if !p.IsReady() {
			return fmt.Errorf("partition has divergent tips; run `pippin merge` first")
		}

		tip, _ := p.Tip()
		mut := state.NewMut(tip)
		id := nextEltId(tip, flagPartID(cmd))
		mut.Insert(id, element.Text(args[0]))

		wrote, err := p.PushState(mut, commit.Extra{})
		if err != nil {
			return fmt.Errorf("pushing change: %w", err)
		}
		if !wrote {
			fmt.Println("no change to push")
			return nil
		}

		fast, _ := cmd.Flags().GetBool("fast")
		if _, err := p.Write(fast, nil); err != nil {
			return fmt.Errorf("writing commit log: %w", err)
		}

		fmt.Printf("pushed element %d\n", id)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete the element at the given id from the current tip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var seq uint64
		if _, err := fmt.Sscanf(args[0], "%d", &seq); err != nil {
			return fmt.Errorf("invalid element id %q", args[0])
		}

		p, err := openPartition(cmd, false)
		if err != nil {
			return err
		}
		if !p.IsReady() {
			return fmt.Errorf("partition has divergent tips; run `pippin merge` first")
		}

		tip, _ := p.Tip()
		mut := state.NewMut(tip)
		mut.Remove(element.NewEltId(flagPartID(cmd), seq))

		wrote, err := p.PushState(mut, commit.Extra{})
		if err != nil {
			return fmt.Errorf("pushing change: %w", err)
		}
		if !wrote {
			fmt.Println("no change to push")
			return nil
		}

		fast, _ := cmd.Flags().GetBool("fast")
		if _, err := p.Write(fast, nil); err != nil {
			return fmt.Errorf("writing commit log: %w", err)
		}
		fmt.Println("deleted")
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Flush unsaved commits to a new commit-log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPartition(cmd, false)
		if err != nil {
			return err
		}
		fast, _ := cmd.Flags().GetBool("fast")
		wrote, err := p.Write(fast, nil)
		if err != nil {
			return fmt.Errorf("writing commit log: %w", err)
		}
		if wrote {
			fmt.Println("flushed pending commits")
		} else {
			fmt.Println("nothing to flush")
		}
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a full snapshot of the current tip, regardless of policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPartition(cmd, false)
		if err != nil {
			return err
		}
		if err := p.WriteSnapshot(nil); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		fmt.Println("snapshot written")
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Reconcile divergent tips into one using the default resolver",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPartition(cmd, true)
		if err != nil {
			return err
		}
		if !p.MergeRequired() {
			fmt.Println("already a single tip; nothing to merge")
			return nil
		}
		if err := p.Merge(merge.TakeLeft{}); err != nil {
			return fmt.Errorf("merging: %w", err)
		}
		if _, err := p.Write(false, nil); err != nil {
			return fmt.Errorf("writing merge commit: %w", err)
		}
		tip, _ := p.Tip()
		fmt.Printf("merged into a single tip at %s\n", tip.StateSum)
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List every loaded state",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPartition(cmd, true)
		if err != nil {
			return err
		}

		views := p.States()
		sort.Slice(views, func(i, j int) bool { return views[i].Meta.Number < views[j].Meta.Number })

		for _, v := range views {
			marker := " "
			if v.IsTip() {
				marker = "*"
			}
			fmt.Printf("%s %s  commit=%-6d elements=%d\n", marker, v.StateSum.String()[:16], v.Meta.Number, len(v.EltMap))
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect PREFIX",
	Short: "Show the elements of the state whose statesum starts with PREFIX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPartition(cmd, true)
		if err != nil {
			return err
		}

		s, err := p.StateByPrefix(args[0])
		if err != nil {
			return fmt.Errorf("looking up %q: %w", args[0], err)
		}

		fmt.Printf("state %s (commit %d)\n", s.StateSum, s.Meta.Number)
		ids := make([]element.EltId, 0, len(s.EltMap))
		for id := range s.EltMap {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Printf("  %d: %q\n", id.Seq(), string(s.EltMap[id].Bytes()))
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Prometheus metrics over HTTP until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.MetricsAddr
		if addr == "" {
			addr = "127.0.0.1:9090"
		}
		if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
			addr = v
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				errCh <- err
			}
		}()
		fmt.Printf("metrics listening on http://%s/metrics\n", addr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nshutting down")
		case err := <-errCh:
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().Bool("fast", false, "skip the snapshot policy check after writing")
	deleteCmd.Flags().Bool("fast", false, "skip the snapshot policy check after writing")
	writeCmd.Flags().Bool("fast", false, "skip the snapshot policy check after writing")
	serveCmd.Flags().String("metrics-addr", "", "address to serve /metrics on (overrides the config file)")
}

// nextEltId picks the next free sequence number for partID by scanning
// the ids already present in tip.
func nextEltId(tip state.PartState, partID element.PartId) element.EltId {
	var maxSeq uint64
	for id := range tip.EltMap {
		if s := id.Seq(); s > maxSeq {
			maxSeq = s
		}
	}
	return element.NewEltId(partID, maxSeq+1)
}
