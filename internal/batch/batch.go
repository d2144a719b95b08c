// Package batch runs many transfers at once, each on its own session.
//
// Every job opens and authenticates a fresh session, so no control
// connection is ever shared between concurrently running transfers.
// A job's failure is recorded in its own outcome and never stops its
// siblings; RunBatch returns only after every launched job has ended.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	ftperr "goftpc/internal/errors"
	"goftpc/internal/ftp"
	"goftpc/internal/metrics"
	"goftpc/internal/session"
	"goftpc/util"
)

// Kind is the direction of a transfer job.
type Kind int

const (
	Download Kind = iota
	Upload
)

func (k Kind) String() string {
	if k == Upload {
		return "upload"
	}
	return "download"
}

// Status is where a job stands.  Succeeded and Failed are terminal.
type Status int

const (
	Pending Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "pending"
}

// Outcome is the result of one job.
type Outcome struct {
	Status Status
	// Reason is the taxonomy name of Err, e.g. "TransferRejected".
	Reason string
	Err    error
	// Warning is set on a success whose completion reply was lost.
	Warning  error
	Bytes    int64
	Duration time.Duration
}

func (o Outcome) String() string {
	switch {
	case o.Status == Failed:
		return fmt.Sprintf("failed (%s): %v", o.Reason, o.Err)
	case o.Status == Succeeded && o.Warning != nil:
		return fmt.Sprintf("succeeded with warning, %d bytes: %v", o.Bytes, o.Warning)
	case o.Status == Succeeded:
		return fmt.Sprintf("succeeded, %d bytes", o.Bytes)
	}
	return "pending"
}

// Job is one requested transfer.  Only the worker running it writes
// to Outcome.
type Job struct {
	ID      string
	Kind    Kind
	Name    string // as requested
	Remote  string
	Local   string
	Outcome Outcome
}

// Report holds the jobs of one batch in request order.
type Report struct {
	ID   string
	Jobs []*Job
}

// Outcome looks up a job by its requested name.
func (r *Report) Outcome(name string) (Outcome, bool) {
	for _, j := range r.Jobs {
		if j.Name == name {
			return j.Outcome, true
		}
	}
	return Outcome{}, false
}

// Succeeded counts successful jobs.
func (r *Report) Succeeded() int { return r.count(Succeeded) }

// Failed counts failed jobs.
func (r *Report) Failed() int { return r.count(Failed) }

func (r *Report) count(s Status) int {
	n := 0
	for _, j := range r.Jobs {
		if j.Outcome.Status == s {
			n++
		}
	}
	return n
}

// Coordinator fans batches out over independent sessions.
type Coordinator struct {
	// Open returns a new authenticated session.  It is called once per
	// job, concurrently.
	Open func(ctx context.Context, logger *util.Logger) (*session.Session, error)
	// MaxConcurrency bounds simultaneous jobs; 0 means no bound.
	MaxConcurrency int
	// LocalDir is where downloads are written and uploads read from.
	LocalDir string
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

// RunBatch runs one job per distinct name and waits for all of them.
// For downloads, names are remote paths saved under LocalDir by base
// name; for uploads, names are paths under LocalDir stored remotely by
// base name.  Once ctx is cancelled no further job starts; those not
// yet started fail with ErrCancelled.
func (c *Coordinator) RunBatch(ctx context.Context, names []string, kind Kind) *Report {
	logger := c.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	report := &Report{ID: uuid.NewString()}
	logger = logger.With("batch", report.ID[:8])

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			logger.Verbose("skipping duplicate %s", name)
			continue
		}
		seen[name] = true
		report.Jobs = append(report.Jobs, c.newJob(name, kind))
	}
	logger.Info("%s of %d file(s) starting", kind, len(report.Jobs))

	var g errgroup.Group
	if c.MaxConcurrency > 0 {
		g.SetLimit(c.MaxConcurrency)
	}
	for _, job := range report.Jobs {
		if ctx.Err() != nil {
			c.fail(job, time.Now(), cancelled(ctx.Err()), logger)
			continue
		}
		job := job
		g.Go(func() error {
			c.run(ctx, job, logger.With("job", job.ID[:8]))
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("%s finished: %d succeeded, %d failed", kind, report.Succeeded(), report.Failed())
	return report
}

func (c *Coordinator) newJob(name string, kind Kind) *Job {
	job := &Job{ID: uuid.NewString(), Kind: kind, Name: name}
	base := path.Base(filepath.ToSlash(name))
	switch kind {
	case Download:
		job.Remote = name
		job.Local = filepath.Join(c.LocalDir, base)
	case Upload:
		job.Remote = base
		job.Local = name
		if !filepath.IsAbs(name) {
			job.Local = filepath.Join(c.LocalDir, name)
		}
	}
	return job
}

func (c *Coordinator) run(ctx context.Context, job *Job, logger *util.Logger) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		c.fail(job, start, cancelled(err), logger)
		return
	}

	sess, err := c.Open(ctx, logger)
	if err != nil {
		c.fail(job, start, interrupted(ctx, err), logger)
		return
	}
	defer sess.Close(ctx)

	var res *ftp.Result
	switch job.Kind {
	case Download:
		res, err = download(ctx, sess, job)
	case Upload:
		res, err = upload(ctx, sess, job)
	}
	if err != nil {
		c.fail(job, start, interrupted(ctx, err), logger)
		return
	}

	job.Outcome = Outcome{
		Status:   Succeeded,
		Warning:  res.Warning,
		Bytes:    res.Bytes,
		Duration: time.Since(start),
	}
	c.Metrics.TransferSucceeded(res.Warning != nil)
	if res.Warning != nil {
		logger.Warn("%s %s: %v", job.Kind, job.Name, res.Warning)
		return
	}
	logger.Info("%s %s: %d bytes in %s", job.Kind, job.Name, res.Bytes, job.Outcome.Duration.Round(time.Millisecond))
}

func (c *Coordinator) fail(job *Job, start time.Time, err error, logger *util.Logger) {
	reason := ftperr.Classify(err)
	job.Outcome = Outcome{Status: Failed, Reason: reason, Err: err, Duration: time.Since(start)}
	c.Metrics.TransferFailed(reason)
	c.Metrics.RecordError(err.Error())
	logger.Error("%s %s: %v", job.Kind, job.Name, err)
}

// download streams into a temporary file beside job.Local and renames
// it into place only once the transfer succeeded, so a rejected or
// broken transfer leaves any existing local file untouched.
func download(ctx context.Context, sess *session.Session, job *Job) (*ftp.Result, error) {
	f, err := os.CreateTemp(filepath.Dir(job.Local), "."+filepath.Base(job.Local)+".part-*")
	if err != nil {
		return nil, err
	}
	tmp := f.Name()
	res, err := sess.Download(ctx, job.Remote, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err == nil {
		err = os.Rename(tmp, job.Local)
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return res, nil
}

func upload(ctx context.Context, sess *session.Session, job *Job) (*ftp.Result, error) {
	f, err := os.Open(job.Local)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sess.Upload(ctx, f, job.Remote)
}

// interrupted marks err as a cancellation when the batch was cancelled
// while the job ran.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, ftperr.ErrCancelled) || errors.Is(err, ftperr.ErrTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", ftperr.ErrCancelled, err)
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ftperr.ErrCancelled, err)
}
