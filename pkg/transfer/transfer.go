package transfer

import (
	"context"
	"fmt"
	"os"
)

// Kind says what a descriptor points at.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Descriptor identifies one fetchable binary asset: a unique identifier
// for dedup, the (expiring) source URL, and the destination path.
type Descriptor struct {
	ID   string
	URL  string
	Dest string
	Kind Kind
}

// Result is the per-item outcome reported by a transfer strategy.
type Result struct {
	ID   string
	Dest string
	Err  error
}

// Failure records one failed descriptor in a report.
type Failure struct {
	ID  string
	Err error
}

// Report summarizes a transfer run. Skipped counts descriptors already in
// the archive; they are never re-fetched and never counted as succeeded.
type Report struct {
	Succeeded int
	Skipped   int
	Failed    int
	Failures  []Failure
}

// Merge folds another report into this one.
func (r *Report) Merge(other Report) {
	r.Succeeded += other.Succeeded
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Failures = append(r.Failures, other.Failures...)
}

// Total returns the number of descriptors the report accounts for.
func (r Report) Total() int {
	return r.Succeeded + r.Skipped + r.Failed
}

func (r Report) String() string {
	return fmt.Sprintf("succeeded=%d skipped=%d failed=%d", r.Succeeded, r.Skipped, r.Failed)
}

// Agent transfers one batch of descriptors with bounded internal
// concurrency and reports per-item outcomes. A non-nil error means the
// agent itself broke down; the orchestrator then judges each item by its
// destination file.
type Agent interface {
	Name() string
	Transfer(ctx context.Context, batch []Descriptor) ([]Result, error)
}

// FetchFunc performs one plain GET of url to dest. It must not send any
// metadata-API headers or cookies.
type FetchFunc func(ctx context.Context, url, dest string) error

// confirmed reports whether dest holds a completed transfer: the file
// exists and is non-empty.
func confirmed(dest string) bool {
	info, err := os.Stat(dest)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
