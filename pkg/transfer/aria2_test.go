package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediafetch/pkg/logger"
)

func newTestAgent(t *testing.T, run func(ctx context.Context, inputFile string) error) (*Aria2Agent, string) {
	t.Helper()
	workDir := t.TempDir()
	agent := NewAria2Agent(workDir, 4, logger.Nop())
	if run != nil {
		agent.run = run
	}
	return agent, workDir
}

func pendingFiles(t *testing.T, workDir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(workDir, pendingPattern))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestAria2InputFileFormat(t *testing.T) {
	dir := t.TempDir()
	batch := []Descriptor{
		{ID: "a", URL: "https://cdn.example.com/a.jpg", Dest: filepath.Join(dir, "media", "a.jpg")},
		{ID: "b", URL: "https://cdn.example.com/b.mp4", Dest: filepath.Join(dir, "media", "b.mp4"), Kind: KindVideo},
	}

	path := filepath.Join(dir, "input.aria2")
	if err := writeInputFile(path, batch); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "https://cdn.example.com/a.jpg\n" +
		"  dir=" + filepath.Join(dir, "media") + "\n" +
		"  out=a.jpg\n" +
		"https://cdn.example.com/b.mp4\n" +
		"  dir=" + filepath.Join(dir, "media") + "\n" +
		"  out=b.mp4\n"
	if string(data) != want {
		t.Errorf("input file:\n%s\nwant:\n%s", data, want)
	}
}

func TestAria2TransferConfirmsByDestination(t *testing.T) {
	batch := testBatch(t, 3)

	// The fake run delivers the first two files and silently drops the
	// third, then exits zero, as aria2c does on partial HTTP failures.
	agent, workDir := newTestAgent(t, func(_ context.Context, inputFile string) error {
		if !strings.HasPrefix(filepath.Base(inputFile), ".pending-") {
			t.Errorf("input file %s missing pending prefix", inputFile)
		}
		for _, d := range batch[:2] {
			if err := os.WriteFile(d.Dest, []byte("payload"), 0644); err != nil {
				return err
			}
		}
		return nil
	})

	results, err := agent.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, res := range results[:2] {
		if res.Err != nil {
			t.Errorf("delivered item %s reported error: %v", res.ID, res.Err)
		}
	}
	if results[2].Err == nil {
		t.Error("undelivered item reported success")
	}

	// Partial failure keeps the input file for the next run.
	if got := pendingFiles(t, workDir); len(got) != 1 {
		t.Errorf("pending files = %v, want the batch journal kept", got)
	}
}

func TestAria2TransferCleansUpOnFullSuccess(t *testing.T) {
	batch := testBatch(t, 2)

	agent, workDir := newTestAgent(t, func(context.Context, string) error {
		for _, d := range batch {
			if err := os.WriteFile(d.Dest, []byte("payload"), 0644); err != nil {
				return err
			}
		}
		return nil
	})

	results, err := agent.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("item %s: %v", res.ID, res.Err)
		}
	}
	if got := pendingFiles(t, workDir); len(got) != 0 {
		t.Errorf("pending files = %v, want none after a clean batch", got)
	}
}

func TestAria2TransferSurfacesRunError(t *testing.T) {
	batch := testBatch(t, 2)
	exit := errors.New("exit status 1")

	agent, _ := newTestAgent(t, func(context.Context, string) error {
		return exit
	})

	results, err := agent.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range results {
		if !errors.Is(res.Err, exit) {
			t.Errorf("item %s error = %v, want the process error", res.ID, res.Err)
		}
	}
}

func TestAria2TransferKeepsJournalOnCancel(t *testing.T) {
	batch := testBatch(t, 2)
	ctx, cancel := context.WithCancel(context.Background())

	agent, workDir := newTestAgent(t, func(context.Context, string) error {
		cancel()
		return ctx.Err()
	})

	_, err := agent.Transfer(ctx, batch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := pendingFiles(t, workDir); len(got) != 1 {
		t.Errorf("pending files = %v, want the interrupted journal kept", got)
	}
}

func TestAria2ResumePending(t *testing.T) {
	agent, workDir := newTestAgent(t, nil)

	// Two leftover journals from a previous run.
	for _, name := range []string{".pending-1.aria2", ".pending-2.aria2"} {
		if err := os.WriteFile(filepath.Join(workDir, name), []byte("https://cdn.example.com/x.jpg\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var replayed []string
	agent.run = func(_ context.Context, inputFile string) error {
		replayed = append(replayed, filepath.Base(inputFile))
		if filepath.Base(inputFile) == ".pending-2.aria2" {
			return errors.New("still failing")
		}
		return nil
	}

	resumed, err := agent.ResumePending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1", resumed)
	}
	if len(replayed) != 2 {
		t.Errorf("replayed %v, want both journals attempted", replayed)
	}

	// The successful journal is gone; the failing one survives.
	got := pendingFiles(t, workDir)
	if len(got) != 1 || filepath.Base(got[0]) != ".pending-2.aria2" {
		t.Errorf("pending files = %v, want only the failing journal", got)
	}
}

func TestAria2ResumePendingNothingToDo(t *testing.T) {
	agent, _ := newTestAgent(t, func(context.Context, string) error {
		t.Error("run must not be invoked with no journals")
		return nil
	})

	resumed, err := agent.ResumePending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resumed != 0 {
		t.Errorf("resumed = %d, want 0", resumed)
	}
}

func TestAria2EmptyBatch(t *testing.T) {
	agent, _ := newTestAgent(t, func(context.Context, string) error {
		t.Error("run must not be invoked for an empty batch")
		return nil
	})

	results, err := agent.Transfer(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}
