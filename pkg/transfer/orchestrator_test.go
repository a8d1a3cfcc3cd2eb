package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mediafetch/pkg/archive"
	"mediafetch/pkg/logger"
)

func testBatch(t *testing.T, n int) []Descriptor {
	t.Helper()
	dir := t.TempDir()
	batch := make([]Descriptor, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("asset-%03d", i)
		batch = append(batch, Descriptor{
			ID:   id,
			URL:  "https://cdn.example.com/" + id + ".jpg",
			Dest: filepath.Join(dir, id+".jpg"),
			Kind: KindImage,
		})
	}
	return batch
}

// writingFetch simulates a successful GET by materializing the file.
func writingFetch(_ context.Context, _ string, dest string) error {
	return os.WriteFile(dest, []byte("payload"), 0644)
}

func openArchive(t *testing.T) *archive.Archive {
	t.Helper()
	arch, err := archive.Open(filepath.Join(t.TempDir(), "archive.txt"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { arch.Close() })
	return arch
}

func TestOrchestratorSkipsArchivedItems(t *testing.T) {
	arch := openArchive(t)
	batch := testBatch(t, 50)
	for i := 0; i < 10; i++ {
		if err := arch.Add(batch[i].ID); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	fetched := make(map[string]bool)
	fetch := func(ctx context.Context, url, dest string) error {
		mu.Lock()
		fetched[url] = true
		mu.Unlock()
		return writingFetch(ctx, url, dest)
	}

	orch := NewOrchestrator(arch, nil, fetch, DefaultBatchSize, logger.Nop())
	report, err := orch.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}

	if report.Skipped != 10 {
		t.Errorf("skipped = %d, want 10", report.Skipped)
	}
	if report.Succeeded != 40 {
		t.Errorf("succeeded = %d, want 40", report.Succeeded)
	}
	if len(fetched) != 40 {
		t.Errorf("fetched %d URLs, want 40", len(fetched))
	}
	for i := 0; i < 10; i++ {
		if fetched[batch[i].URL] {
			t.Errorf("archived item %s was re-fetched", batch[i].ID)
		}
	}
}

func TestOrchestratorFailureDoesNotStopBatch(t *testing.T) {
	arch := openArchive(t)
	batch := testBatch(t, 50)

	boom := errors.New("connection reset by peer")
	attempted := 0
	fetch := func(ctx context.Context, url, dest string) error {
		attempted++
		if url == batch[4].URL {
			return boom
		}
		return writingFetch(ctx, url, dest)
	}

	orch := NewOrchestrator(arch, nil, fetch, DefaultBatchSize, logger.Nop())
	report, err := orch.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}

	if attempted != 50 {
		t.Errorf("attempted %d transfers, want all 50", attempted)
	}
	if report.Failed != 1 {
		t.Errorf("failed = %d, want 1", report.Failed)
	}
	if report.Succeeded != 49 {
		t.Errorf("succeeded = %d, want 49", report.Succeeded)
	}
	if len(report.Failures) != 1 || report.Failures[0].ID != batch[4].ID {
		t.Errorf("failures = %+v, want single entry for %s", report.Failures, batch[4].ID)
	}
	if !errors.Is(report.Failures[0].Err, boom) {
		t.Errorf("failure error = %v, want wrapped %v", report.Failures[0].Err, boom)
	}
}

func TestOrchestratorRecordsSuccessesIncrementally(t *testing.T) {
	arch := openArchive(t)
	batch := testBatch(t, 6)

	// The second batch blows up entirely; the first batch must already be
	// durable in the archive by then.
	calls := 0
	fetch := func(ctx context.Context, url, dest string) error {
		calls++
		if calls > 3 {
			return errors.New("upstream went away")
		}
		return writingFetch(ctx, url, dest)
	}

	orch := NewOrchestrator(arch, nil, fetch, 3, logger.Nop())
	report, err := orch.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}

	if report.Succeeded != 3 || report.Failed != 3 {
		t.Fatalf("report = %s, want succeeded=3 failed=3", report)
	}
	for i := 0; i < 3; i++ {
		if !arch.Contains(batch[i].ID) {
			t.Errorf("%s not recorded in archive", batch[i].ID)
		}
	}
	for i := 3; i < 6; i++ {
		if arch.Contains(batch[i].ID) {
			t.Errorf("failed item %s must not be archived", batch[i].ID)
		}
	}
}

func TestOrchestratorResumeAfterInterruptedRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.txt")
	batch := testBatch(t, 4)

	// First run: two items land, then the process "dies".
	arch, err := archive.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	firstRun := 0
	fetch := func(ctx context.Context, url, dest string) error {
		firstRun++
		if firstRun > 2 {
			return errors.New("killed")
		}
		return writingFetch(ctx, url, dest)
	}
	orch := NewOrchestrator(arch, nil, fetch, 2, logger.Nop())
	if _, err := orch.Transfer(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	arch.Close()

	// Second run against the same archive file: only the two unconfirmed
	// items are fetched again.
	arch2, err := archive.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer arch2.Close()

	var refetched []string
	fetch2 := func(ctx context.Context, url, dest string) error {
		refetched = append(refetched, url)
		return writingFetch(ctx, url, dest)
	}
	orch2 := NewOrchestrator(arch2, nil, fetch2, 2, logger.Nop())
	report, err := orch2.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}

	if report.Skipped != 2 || report.Succeeded != 2 {
		t.Errorf("report = %s, want skipped=2 succeeded=2", report)
	}
	if len(refetched) != 2 {
		t.Errorf("second run fetched %d items, want 2", len(refetched))
	}
}

func TestOrchestratorStopsAtBatchBoundaryOnCancel(t *testing.T) {
	arch := openArchive(t)
	batch := testBatch(t, 6)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	fetch := func(fctx context.Context, url, dest string) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return writingFetch(fctx, url, dest)
	}

	orch := NewOrchestrator(arch, nil, fetch, 2, logger.Nop())
	report, err := orch.Transfer(ctx, batch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The in-flight batch finished; nothing beyond it started.
	if calls != 2 {
		t.Errorf("fetch called %d times, want 2", calls)
	}
	if report.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", report.Succeeded)
	}
	for i := 0; i < 2; i++ {
		if !arch.Contains(batch[i].ID) {
			t.Errorf("%s from the completed batch not archived", batch[i].ID)
		}
	}
}

// flakyAgent breaks down as a whole but leaves some destinations on disk,
// the way an external process killed mid-batch would.
type flakyAgent struct {
	landed int
	err    error
}

func (f *flakyAgent) Name() string { return "flaky" }

func (f *flakyAgent) Transfer(_ context.Context, batch []Descriptor) ([]Result, error) {
	for i := 0; i < f.landed && i < len(batch); i++ {
		if err := os.WriteFile(batch[i].Dest, []byte("payload"), 0644); err != nil {
			return nil, err
		}
	}
	return nil, f.err
}

func TestOrchestratorJudgesBatchByDestinationsOnAgentError(t *testing.T) {
	arch := openArchive(t)
	batch := testBatch(t, 5)

	agent := &flakyAgent{landed: 3, err: errors.New("exit status 1")}
	orch := NewOrchestrator(arch, agent, nil, DefaultBatchSize, logger.Nop())
	report, err := orch.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}

	if report.Succeeded != 3 {
		t.Errorf("succeeded = %d, want 3 (files on disk)", report.Succeeded)
	}
	if report.Failed != 2 {
		t.Errorf("failed = %d, want 2", report.Failed)
	}
	for _, f := range report.Failures {
		if !errors.Is(f.Err, agent.err) {
			t.Errorf("failure %s carries %v, want agent error", f.ID, f.Err)
		}
	}
	for i := 0; i < 3; i++ {
		if !arch.Contains(batch[i].ID) {
			t.Errorf("landed item %s not archived", batch[i].ID)
		}
	}
}

func TestOrchestratorRejectsEmptyDeliveries(t *testing.T) {
	arch := openArchive(t)
	batch := testBatch(t, 1)

	// Fetch "succeeds" but leaves a zero-byte file behind.
	fetch := func(_ context.Context, _ string, dest string) error {
		return os.WriteFile(dest, nil, 0644)
	}

	orch := NewOrchestrator(arch, nil, fetch, DefaultBatchSize, logger.Nop())
	report, err := orch.Transfer(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}

	if report.Failed != 1 || report.Succeeded != 0 {
		t.Errorf("report = %s, want the empty file counted as failed", report)
	}
	if arch.Contains(batch[0].ID) {
		t.Error("unconfirmed item must not be archived")
	}
}

func TestReportMerge(t *testing.T) {
	a := Report{Succeeded: 3, Skipped: 1, Failures: []Failure{{ID: "x"}}, Failed: 1}
	b := Report{Succeeded: 2, Skipped: 4, Failures: []Failure{{ID: "y"}}, Failed: 1}
	a.Merge(b)

	if a.Succeeded != 5 || a.Skipped != 5 || a.Failed != 2 {
		t.Errorf("merged report = %s", a)
	}
	if a.Total() != 12 {
		t.Errorf("total = %d, want 12", a.Total())
	}
	if len(a.Failures) != 2 {
		t.Errorf("failures = %d, want 2", len(a.Failures))
	}
}
