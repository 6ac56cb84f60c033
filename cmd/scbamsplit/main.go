// Command scbamsplit demultiplexes a single-cell SAM/BAM file into one BAM
// per metadata label, optionally deduplicating reads that share a cell
// barcode and UMI.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chenyenchung/scbamsplit/barcode"
	"github.com/chenyenchung/scbamsplit/split"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/spf13/cobra"
)

type options struct {
	file     string
	meta     string
	output   string
	mapq     int
	platform string
	dedup    bool
	stripKey bool
	cbcLoc   string
	cbcLen   int
	umiLoc   string
	umiLen   int
	rnLen    int
	mem      int
	threads  int
	dryRun   bool
	verbose  int
}

// stderrOutput writes single-line leveled log entries of the form
// [LEVEL] | timestamp | message.
type stderrOutput struct {
	level log.Level
}

var levelTags = map[log.Level]string{
	log.Error: "[ERROR  ]",
	log.Info:  "[INFO   ]",
	log.Debug: "[DEBUG  ]",
}

func (o stderrOutput) Level() log.Level { return o.level }

func (o stderrOutput) Output(_ int, level log.Level, s string) error {
	if level > o.level {
		return nil
	}
	tag, ok := levelTags[level]
	if !ok {
		tag = "[       ]"
	}
	_, err := fmt.Fprintf(os.Stderr, "%s | %s | %s\n",
		tag, time.Now().Format("2006-01-02 15:04:05"), strings.TrimRight(s, "\n"))
	return err
}

// logLevel maps the -v value to an output level: unset means errors only,
// 0..4 mean info, 5 and up mean debug.
func logLevel(verbose int) log.Level {
	switch {
	case verbose < 0:
		return log.Error
	case verbose >= 5:
		return log.Debug
	default:
		return log.Info
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "scbamsplit",
		Short:         "Split a single-cell BAM file by cell barcode metadata",
		Long: `scbamsplit routes each read of a single-cell SAM/BAM file to a per-group
BAM file chosen by the read's cell barcode, using a two-column CSV
(<barcode>,<label>) to define the groups. With -d/--dedup, reads sharing a
cell barcode and UMI are reduced to the best primary alignment plus its
secondary alignments via a bounded-memory on-disk sort.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.InOrStdin(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "path of the input SAM/BAM file")
	f.StringVarP(&opts.meta, "meta", "m", "", "path of the metadata CSV (header line, then <barcode>,<label>)")
	f.StringVarP(&opts.output, "output", "o", "./", "directory prefix to export BAM files to")
	f.IntVarP(&opts.mapq, "mapq", "q", 0, "minimal MAPQ threshold for output")
	f.StringVarP(&opts.platform, "platform", "p", "", "barcode preset: 10xv2, 10xv3, or scirnaseq3")
	f.BoolVarP(&opts.dedup, "dedup", "d", false, "keep one read per cell barcode/UMI combination")
	f.StringVarP(&opts.cbcLoc, "cbc-location", "b", "", "cell barcode source: a two-letter tag or a read-name field number")
	f.IntVarP(&opts.cbcLen, "cbc-length", "L", 0, "cell barcode length")
	f.StringVarP(&opts.umiLoc, "umi-location", "u", "", "UMI source: a two-letter tag or a read-name field number")
	f.IntVarP(&opts.umiLen, "umi-length", "l", 0, "UMI length")
	f.IntVarP(&opts.rnLen, "rn-length", "r", 70, "maximum read-name length")
	f.IntVarP(&opts.mem, "mem", "M", 4, "memory usage scale in GiB")
	f.IntVarP(&opts.threads, "threads", "@", 1, "number of worker threads")
	f.BoolVarP(&opts.dryRun, "dry-run", "n", false, "only print the resolved parameters")
	f.IntVarP(&opts.verbose, "verbose", "v", -1, "verbosity (-v for info, -v=5 for debug)")
	f.BoolVar(&opts.stripKey, "strip-key", false, "remove the SK sort-key tag from final outputs")
	f.Lookup("verbose").NoOptDefVal = "0"
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("meta")
	return cmd
}

func run(stdin io.Reader, opts *options) error {
	log.SetOutputter(stderrOutput{level: logLevel(opts.verbose)})

	cb, ub := barcode.NewCB(), barcode.NewUB()
	if opts.platform != "" {
		if err := barcode.ApplyPlatform(cb, ub, opts.platform); err != nil {
			return err
		}
	}
	if opts.cbcLoc != "" {
		if err := cb.SetLocationFlag(opts.cbcLoc); err != nil {
			return err
		}
	}
	if opts.umiLoc != "" {
		if err := ub.SetLocationFlag(opts.umiLoc); err != nil {
			return err
		}
	}
	if opts.cbcLen != 0 {
		if opts.cbcLen < 1 {
			return errors.E(errors.Invalid, "cell barcode length must be larger than 0")
		}
		cb.Length = opts.cbcLen
	}
	if opts.umiLen != 0 {
		if opts.umiLen < 1 {
			return errors.E(errors.Invalid, "UMI length must be larger than 0")
		}
		ub.Length = opts.umiLen
	}
	if opts.rnLen < 1 {
		return errors.E(errors.Invalid, "read name length must be larger than 0")
	}
	if opts.mem < 1 {
		return errors.E(errors.Invalid, "memory limit (-M/--mem) must be an integer and >= 1")
	}

	cfg := &split.Config{
		Input:     opts.file,
		Meta:      opts.meta,
		Prefix:    opts.output,
		MapQ:      opts.mapq,
		Dedup:     opts.dedup,
		StripKey:  opts.stripKey,
		CB:        cb,
		UB:        ub,
		NameWidth: opts.rnLen,
		MemGiB:    opts.mem,
		Threads:   opts.threads,
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}

	if opts.verbose >= 0 || opts.dryRun {
		printReport(os.Stderr, cfg)
	}
	if _, err := os.Stat(cfg.Input); err != nil {
		return errors.E(errors.NotExist, cfg.Input+" not found")
	}
	if opts.dryRun {
		fmt.Fprintln(os.Stderr, "\t==========================================================")
		fmt.Fprintln(os.Stderr, "\t= This is a dry-run (-n/--dry-run). Nothing is executed. =")
		fmt.Fprintln(os.Stderr, "\t==========================================================")
		return nil
	}

	proceed, err := ensureOutputDir(cfg.Prefix, stdin)
	if err != nil {
		return err
	}
	if !proceed {
		log.Printf("exiting because the user declined overwrite")
		log.Printf("please provide a new path for the output directory")
		return nil
	}
	return split.Run(cfg)
}

func printReport(w io.Writer, cfg *split.Config) {
	fmt.Fprintln(w, "- Run condition:")
	fmt.Fprintf(w, "\tInput bam: %s\n", cfg.Input)
	fmt.Fprintf(w, "\tInput metadata: %s\n", cfg.Meta)
	fmt.Fprintf(w, "\tMAPQ threshold: %d\n", cfg.MapQ)
	fmt.Fprintf(w, "\tRead name length: %dmer\n", cfg.NameWidth)
	fmt.Fprintf(w, "\tOutput prefix: %s\n", cfg.Prefix)
	fmt.Fprintf(w, "\tMemory usage is estimated to be: %dGB\n", cfg.MemGiB)
	fmt.Fprintf(w, "\tWorker threads: %d\n", cfg.Threads)
	fmt.Fprint(w, cfg.CB.Describe("Cell barcode"))
	fmt.Fprint(w, cfg.UB.Describe("UMI"))
	if cfg.Dedup {
		fmt.Fprintf(w, "\tRunning **with** deduplication.\n\n")
	} else {
		fmt.Fprintf(w, "\tRunning **without** deduplication.\n\n")
	}
}

// ensureOutputDir creates the output directory if needed. When it already
// exists the user is asked to confirm, because existing files there may be
// overwritten. Returns proceed=false when the user declines.
func ensureOutputDir(prefix string, stdin io.Reader) (bool, error) {
	dir := strings.TrimSuffix(prefix, "/")
	if dir == "" || dir == "." {
		return true, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return false, errors.E("stat output directory "+dir, err)
		}
		if merr := os.MkdirAll(dir, 0o700); merr != nil {
			return false, errors.E("fail to create directory "+dir, merr)
		}
		return true, nil
	}
	log.Error.Printf("please note that output directory (%s) already exists", dir)
	sc := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(os.Stderr, "Are you sure you want to save results and potentially OVERWRITE files there? [y/n]: ")
		if !sc.Scan() {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(os.Stderr, "Please only answer yes or no.")
	}
}

func main() {
	log.SetOutputter(stderrOutput{level: log.Error})
	if err := newRootCmd().Execute(); err != nil {
		log.Error.Printf("%v", err)
		fmt.Fprintln(os.Stderr, `Please see "scbamsplit --help" for details`)
		os.Exit(1)
	}
}
