package core

import (
	"context"
	"fmt"

	"goftpc/internal/batch"
	"goftpc/internal/transport"
	"goftpc/util"
)

// BatchError reports that some transfers of a batch failed.  The
// per-file outcomes have already been printed.
type BatchError struct {
	Failed int
	Total  int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d transfers failed", e.Failed, e.Total)
}

// BatchMode runs get/put/mget/mput/pput through the coordinator and
// prints one line per file.
type BatchMode struct {
	output
	Coordinator *batch.Coordinator
	Names       []string
	Kind        batch.Kind
	Dialer      transport.Dialer
	Logger      *util.Logger
}

// Run executes the batch.  The transport is closed when Run returns.
func (m *BatchMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	report := m.Coordinator.RunBatch(ctx, m.Names, m.Kind)
	out := m.stdout()
	for _, job := range report.Jobs {
		fmt.Fprintf(out, "%s: %s\n", job.Name, job.Outcome)
	}
	if n := report.Failed(); n > 0 {
		return &BatchError{Failed: n, Total: len(report.Jobs)}
	}
	return nil
}
