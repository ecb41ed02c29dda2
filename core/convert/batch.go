package convert

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/edudoc/core/cache"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// Job is one conversion in a batch. An empty To parses and validates only.
type Job struct {
	Name    string
	Content []byte
	From    string
	To      string
}

// JobResult is the outcome of one Job. Err is set only when the job could
// not run at all (unknown format, cancelled batch).
type JobResult struct {
	Name   string
	Parse  *ParseResult
	Render *RenderResult
	Err    error
}

// OK returns true if the job ran and produced no errors.
func (r JobResult) OK() bool {
	if r.Err != nil || r.Parse == nil || len(r.Parse.Errors) > 0 {
		return false
	}
	return r.Render == nil || len(r.Render.Errors) == 0
}

// BatchOptions configures Batch.
type BatchOptions struct {
	Parse  ParseOptions
	Render RenderOptions

	// Parallelism bounds concurrent jobs; zero means GOMAXPROCS.
	Parallelism int

	// Cache shares parse results between jobs with the same source format
	// and content. Cached results are shared and must not be modified.
	Cache cache.Cache[string, *ParseResult]

	Logger *slog.Logger
}

// NewParseCache returns a parse cache holding up to size results.
func NewParseCache(size int) *cache.LRU[string, *ParseResult] {
	return cache.New[string, *ParseResult](cache.Config{MaxSize: size})
}

// Batch converts jobs concurrently. Results are in job order. A failing
// job never stops the others; only context cancellation does.
func Batch(ctx context.Context, jobs []Job, opts BatchOptions) []JobResult {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	limit := opts.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([]JobResult, len(jobs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i := range jobs {
		job := jobs[i]
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				results[i] = JobResult{Name: job.Name, Err: err}
				return nil
			}
			start := time.Now()
			results[i] = run(job, opts.Parse, opts.Render, opts.Cache)
			r := results[i]
			switch {
			case r.Err != nil:
				log.Warn("conversion failed", "job", job.Name, "error", r.Err)
			case !r.OK():
				log.Info("conversion finished with errors", "job", job.Name,
					"from", job.From, "to", job.To, "duration", time.Since(start), "issues", issueCount(r))
			default:
				log.Debug("conversion finished", "job", job.Name,
					"from", job.From, "to", job.To, "duration", time.Since(start))
			}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// Run performs one job synchronously.
func Run(job Job, popts ParseOptions, ropts RenderOptions) JobResult {
	return run(job, popts, ropts, nil)
}

func run(job Job, popts ParseOptions, ropts RenderOptions, c cache.Cache[string, *ParseResult]) JobResult {
	res := JobResult{Name: job.Name}
	from, err := Lookup(job.From)
	if err != nil {
		res.Err = err
		return res
	}
	var to *Backend
	if job.To != "" {
		if to, err = Lookup(job.To); err != nil {
			res.Err = err
			return res
		}
	}

	res.Parse = parseCached(from, job.Content, popts, c)
	if to == nil {
		return res
	}
	if res.Parse.Fatal() {
		res.Render = NewRenderResult(to.Manifest.ID)
		res.Render.Add(errors.Fatalf(errors.CodeRenderFailure, "source could not be parsed"))
		return res
	}
	res.Render = to.Render(res.Parse.Document, ropts)
	return res
}

func issueCount(r JobResult) int {
	n := 0
	if r.Parse != nil {
		n += len(r.Parse.Errors) + len(r.Parse.Warnings)
	}
	if r.Render != nil {
		n += len(r.Render.Errors) + len(r.Render.Warnings)
	}
	return n
}

func parseCached(b *Backend, content []byte, opts ParseOptions, c cache.Cache[string, *ParseResult]) *ParseResult {
	if c == nil {
		return b.Parse(content, opts)
	}
	key := b.Manifest.ID + ":" + ir.FingerprintBytes(content)
	if pr, ok := c.Get(key); ok {
		return pr
	}
	pr := b.Parse(content, opts)
	if !pr.Fatal() {
		c.Put(key, pr)
	}
	return pr
}
