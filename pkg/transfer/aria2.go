package transfer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"mediafetch/pkg/logger"
)

const (
	aria2Binary = "aria2c"

	// DefaultConcurrency bounds simultaneous transfers within one batch.
	DefaultConcurrency = 16

	// connectionsPerServer keeps aria2c from hammering a single asset
	// host with too many parallel connections per file.
	connectionsPerServer = 4

	pendingPattern = ".pending-*.aria2"
)

// Aria2Agent delegates whole batches to an external aria2c process. Each
// batch becomes an input file on disk; the file doubles as a crash-recovery
// journal and is only removed once every item in it has landed.
type Aria2Agent struct {
	binary      string
	workDir     string
	concurrency int
	log         logger.Logger

	// run is swappable in tests.
	run func(ctx context.Context, inputFile string) error
}

// Aria2Available reports whether aria2c is on PATH.
func Aria2Available() bool {
	_, err := exec.LookPath(aria2Binary)
	return err == nil
}

// NewAria2Agent creates an agent writing its input files under workDir.
func NewAria2Agent(workDir string, concurrency int, log logger.Logger) *Aria2Agent {
	if log == nil {
		log = logger.GetLogger()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	a := &Aria2Agent{
		binary:      aria2Binary,
		workDir:     workDir,
		concurrency: concurrency,
		log:         log,
	}
	a.run = a.runAria2
	return a
}

func (a *Aria2Agent) Name() string { return "aria2c" }

// Transfer writes the batch to an input file, runs aria2c on it, and
// judges each item by its destination file. The input file is kept when
// anything failed so ResumePending can replay it on the next run.
func (a *Aria2Agent) Transfer(ctx context.Context, batch []Descriptor) ([]Result, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(a.workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	inputFile := filepath.Join(a.workDir, fmt.Sprintf(".pending-%d.aria2", time.Now().UnixNano()))
	if err := writeInputFile(inputFile, batch); err != nil {
		return nil, err
	}

	a.log.DebugWithFields("dispatching batch to aria2c", map[string]interface{}{
		"items":       len(batch),
		"concurrency": a.concurrency,
	})

	runErr := a.run(ctx, inputFile)
	if ctx.Err() != nil {
		// Keep the input file; the interrupted batch replays next run.
		return nil, ctx.Err()
	}

	results := make([]Result, 0, len(batch))
	failed := 0
	for _, d := range batch {
		res := Result{ID: d.ID, Dest: d.Dest}
		if !confirmed(d.Dest) {
			failed++
			if runErr != nil {
				res.Err = fmt.Errorf("aria2c: %w", runErr)
			} else {
				res.Err = fmt.Errorf("aria2c did not deliver %s", d.Dest)
			}
		}
		results = append(results, res)
	}

	if failed == 0 {
		os.Remove(inputFile)
	} else {
		a.log.WarnWithFields("batch partially failed, keeping input file for resume", map[string]interface{}{
			"failed": failed,
			"file":   inputFile,
		})
	}
	return results, nil
}

// ResumePending replays leftover input files from interrupted runs.
// Returns the number of files replayed to completion.
func (a *Aria2Agent) ResumePending(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(a.workDir, pendingPattern))
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, inputFile := range matches {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		a.log.InfoWithFields("resuming interrupted batch", map[string]interface{}{
			"file": inputFile,
		})
		if err := a.run(ctx, inputFile); err != nil {
			a.log.WarnWithFields("resume run failed, keeping input file", map[string]interface{}{
				"file": inputFile,
				"err":  err.Error(),
			})
			continue
		}
		os.Remove(inputFile)
		resumed++
	}
	return resumed, nil
}

// runAria2 executes the real binary. A non-zero exit is surfaced as an
// error; per-item outcomes are decided by the caller from the filesystem.
func (a *Aria2Agent) runAria2(ctx context.Context, inputFile string) error {
	cmd := exec.CommandContext(ctx, a.binary,
		"--input-file="+inputFile,
		fmt.Sprintf("--max-concurrent-downloads=%d", a.concurrency),
		fmt.Sprintf("--max-connection-per-server=%d", connectionsPerServer),
		"--continue=true",
		"--auto-file-renaming=false",
		"--allow-overwrite=false",
		"--summary-interval=0",
		"--console-log-level=warn",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, firstLine(out))
	}
	return nil
}

// writeInputFile emits the aria2c input format: each URL followed by
// indented per-input dir and out options.
func writeInputFile(path string, batch []Descriptor) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create input file: %w", err)
	}

	for _, d := range batch {
		dir, out := filepath.Split(d.Dest)
		if _, err := fmt.Fprintf(f, "%s\n  dir=%s\n  out=%s\n", d.URL, filepath.Clean(dir), out); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("failed to write input file: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close input file: %w", err)
	}
	return nil
}

func firstLine(out []byte) string {
	for i, b := range out {
		if b == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
