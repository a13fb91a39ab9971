// Command segalloc-bench replays allocation traces against the segalloc
// allocator and reports utilization and throughput.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/heapforge/segalloc/internal/allocator"
	"github.com/heapforge/segalloc/internal/reportstream"
	"github.com/heapforge/segalloc/internal/trace"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	sub := os.Args[1]
	args := os.Args[2:]

	var err error

	switch sub {
	case "help", "-h", "--help":
		usage()
		return
	case "run":
		err = runOne(args)
	case "suite":
		err = runSuite(args)
	case "watch":
		err = runWatch(args)
	case "serve":
		err = runServe(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", sub)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "segalloc-bench:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: segalloc-bench <command> [flags]

commands:
  run    <trace>       replay a single trace file
  suite  <dir|file...>  replay a set of trace files concurrently
  watch  <dir>          re-run a suite whenever its trace files change
  serve  -addr <addr>   receive benchmark snapshots over HTTP/3`)
}

func heapOptions(fs *flag.FlagSet) (*bool, *bool, *uint64) {
	checkHeap := fs.Bool("checkheap", false, "run full consistency checks after every operation")
	poisonFlag := fs.Bool("poison", false, "fill freed payloads with a poison pattern")
	chunk := fs.Uint64("chunk", 0, "heap growth chunk size in bytes (0 = default)")

	return checkHeap, poisonFlag, chunk
}

func buildOptions(checkHeap, poisonFlag *bool, chunk *uint64) []allocator.Option {
	var opts []allocator.Option
	if *checkHeap {
		opts = append(opts, allocator.WithCheckHeap(true))
	}

	if *poisonFlag {
		opts = append(opts, allocator.WithPoisoning(true))
	}

	if *chunk > 0 {
		opts = append(opts, allocator.WithChunkSize(*chunk))
	}

	return opts
}

func runOne(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	checkHeap, poisonFlag, chunk := heapOptions(fs)
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: segalloc-bench run [flags] <trace-file>")
	}

	f, err := os.Open(rest[0])
	if err != nil {
		return err
	}
	defer f.Close()

	tr, err := trace.Parse(f)
	if err != nil {
		return err
	}

	h, err := allocator.New(buildOptions(checkHeap, poisonFlag, chunk)...)
	if err != nil {
		return err
	}

	result, err := trace.Replay(h, tr)
	if err != nil {
		return err
	}

	printResults([]trace.SuiteResult{{Path: rest[0], Result: result}})

	return nil
}

func runSuite(args []string) error {
	fs := flag.NewFlagSet("suite", flag.ExitOnError)
	checkHeap, poisonFlag, chunk := heapOptions(fs)
	reportAddr, reportInsecure := reportOptions(fs)
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: segalloc-bench suite [flags] <dir|file...>")
	}

	paths, err := collectTraceFiles(rest)
	if err != nil {
		return err
	}

	cache := trace.NewResultCache()

	results, err := trace.RunSuite(context.Background(), paths, cache, buildOptions(checkHeap, poisonFlag, chunk)...)
	if err != nil {
		return err
	}

	printResults(results)
	reportResults(*reportAddr, *reportInsecure, results)

	return nil
}

func reportOptions(fs *flag.FlagSet) (*string, *bool) {
	addr := fs.String("report-addr", "", "post per-trace snapshots to this segalloc-bench serve endpoint (e.g. https://dashboard.local:4433/snapshot)")
	insecure := fs.Bool("report-insecure", false, "skip TLS certificate verification when posting snapshots")

	return addr, insecure
}

// reportResults best-effort posts one Snapshot per successful trace replay
// to a running serve dashboard. A dropped snapshot is logged and never
// fails the benchmark run that produced it.
func reportResults(addr string, insecure bool, results []trace.SuiteResult) {
	if addr == "" {
		return
	}

	client := reportstream.NewClient(addr, &tls.Config{InsecureSkipVerify: insecure}) //nolint:gosec
	defer client.Close()

	for _, r := range results {
		if r.Err != nil {
			continue
		}

		snap := reportstream.Snapshot{
			Trace:       filepath.Base(r.Path),
			Op:          r.Result.Ops,
			LiveBytes:   r.Result.PeakLive,
			HeapBytes:   r.Result.PeakHeap,
			Utilization: r.Result.Utilization,
		}

		if err := client.Send(context.Background(), snap); err != nil {
			fmt.Fprintln(os.Stderr, "segalloc-bench: report:", err)
		}
	}
}

// runWatch re-runs the suite whenever a .trace file under dir changes.
// Rapid successive writes within the debounce window collapse into a
// single re-run, mirroring editors that save in several small writes.
func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	checkHeap, poisonFlag, chunk := heapOptions(fs)
	reportAddr, reportInsecure := reportOptions(fs)
	debounce := fs.Duration("debounce", 200*time.Millisecond, "quiet period before re-running after a change")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: segalloc-bench watch [flags] <dir>")
	}

	dir := rest[0]

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	opts := buildOptions(checkHeap, poisonFlag, chunk)
	cache := trace.NewResultCache()

	runAndPrint := func() {
		paths, err := collectTraceFiles([]string{dir})
		if err != nil {
			fmt.Fprintln(os.Stderr, "segalloc-bench:", err)
			return
		}

		results, err := trace.RunSuite(context.Background(), paths, cache, opts...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "segalloc-bench:", err)
			return
		}

		printResults(results)
		reportResults(*reportAddr, *reportInsecure, results)
	}

	runAndPrint()

	var timer *time.Timer

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if !strings.HasSuffix(ev.Name, ".trace") {
				continue
			}

			if timer != nil {
				timer.Stop()
			}

			timer = time.AfterFunc(*debounce, runAndPrint)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			fmt.Fprintln(os.Stderr, "segalloc-bench: watch:", err)
		}
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":4433", "listen address")
	certFile := fs.String("tls-cert", "", "path to TLS certificate (PEM)")
	keyFile := fs.String("tls-key", "", "path to TLS private key (PEM)")
	_ = fs.Parse(args)

	if *certFile == "" || *keyFile == "" {
		return fmt.Errorf("usage: segalloc-bench serve -addr <addr> -tls-cert <path> -tls-key <path>")
	}

	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		return err
	}

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	p := message.NewPrinter(language.English)

	srv := reportstream.NewServer(*addr, tlsConf, func(snap reportstream.Snapshot) {
		p.Printf("%-24s op=%-6d live=%d heap=%d util=%.2f%%\n",
			snap.Trace, snap.Op, snap.LiveBytes, snap.HeapBytes, snap.Utilization*100)
	})
	defer srv.Close()

	fmt.Printf("segalloc-bench: receiving snapshots on %s\n", *addr)

	return srv.ListenAndServe()
}

// collectTraceFiles expands dir arguments into their *.trace members and
// passes file arguments through unchanged, sorted for reproducible output.
func collectTraceFiles(args []string) ([]string, error) {
	var out []string

	for _, a := range args {
		st, err := os.Stat(a)
		if err != nil {
			return nil, err
		}

		if !st.IsDir() {
			out = append(out, a)
			continue
		}

		entries, err := os.ReadDir(a)
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".trace") {
				out = append(out, filepath.Join(a, e.Name()))
			}
		}
	}

	sort.Strings(out)

	return out, nil
}

func printResults(results []trace.SuiteResult) {
	p := message.NewPrinter(language.English)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACE\tOPS\tPEAK LIVE\tPEAK HEAP\tUTIL\tTHROUGHPUT")

	for _, r := range results {
		name := filepath.Base(r.Path)

		if r.Err != nil {
			fmt.Fprintf(tw, "%s\tERROR: %v\t\t\t\t\n", name, r.Err)
			continue
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			name,
			p.Sprintf("%d", r.Result.Ops),
			p.Sprintf("%d", r.Result.PeakLive),
			p.Sprintf("%d", r.Result.PeakHeap),
			r.Result.Utilization*100,
			p.Sprintf("%.0f op/s", r.Result.ThroughputOp),
		)
	}

	tw.Flush()
}
