// Package playlist walks the members of a playlist in order and hands each
// one to the orchestrator.
package playlist

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/ytfetch/catalog"
	"github.com/ytget/ytfetch/errs"
	"github.com/ytget/ytfetch/internal/logger"
	"github.com/ytget/ytfetch/orchestrator"
	"github.com/ytget/ytfetch/selector"
	"github.com/ytget/ytfetch/types"
)

const scratchPrefix = "ytfetch-"

var log = logger.WithComponent(logger.ComponentPlaylist)

// Walker downloads playlist members. A failing member is reported as a
// Failed outcome and the walk moves on; only cancelling ctx stops it early.
type Walker struct {
	Catalog      catalog.Catalog
	Orchestrator *orchestrator.Orchestrator
	// Concurrency > 1 processes several members at once, each worker in its
	// own scratch subdirectory. Outcomes are still yielded in playlist order.
	Concurrency int
	// Limit caps the number of members processed; 0 means all.
	Limit int
	// SelectOptions are passed to selector.SelectPlan.
	SelectOptions []selector.Option
}

// Run returns the outcomes of job in playlist order, numbering files from 1.
// Work happens as the sequence is consumed; breaking out of the loop stops
// the walk.
func (w *Walker) Run(ctx context.Context, job types.PlaylistJob) iter.Seq[types.Outcome] {
	items := job.Items
	if w.Limit > 0 && len(items) > w.Limit {
		items = items[:w.Limit]
	}
	if w.Concurrency > 1 && len(items) > 1 {
		return w.runParallel(ctx, job, items)
	}
	return func(yield func(types.Outcome) bool) {
		for i := range items {
			if ctx.Err() != nil {
				log.Warn("Playlist walk cancelled", logger.Fields{"done": i, "total": len(items)})
				return
			}
			if !yield(w.process(ctx, w.Orchestrator, job, items, i)) {
				return
			}
		}
	}
}

func (w *Walker) runParallel(ctx context.Context, job types.PlaylistJob, items []types.PlaylistItem) iter.Seq[types.Outcome] {
	return func(yield func(types.Outcome) bool) {
		ctx, cancel := context.WithCancel(ctx)
		results := make([]chan types.Outcome, len(items))
		for i := range results {
			results[i] = make(chan types.Outcome, 1)
		}
		jobs := make(chan int)

		var wg sync.WaitGroup
		workers := min(w.Concurrency, len(items))
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				orch, cleanup := w.workerOrchestrator()
				defer cleanup()
				for i := range jobs {
					results[i] <- w.process(ctx, orch, job, items, i)
				}
			}()
		}
		go func() {
			defer close(jobs)
			for i := range items {
				select {
				case jobs <- i:
				case <-ctx.Done():
					return
				}
			}
		}()
		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()
		defer func() {
			cancel()
			<-finished
		}()

		for i := range items {
			var out types.Outcome
			select {
			case out = <-results[i]:
			case <-finished:
				select {
				case out = <-results[i]:
				default:
					log.Warn("Playlist walk cancelled", logger.Fields{"done": i, "total": len(items)})
					return
				}
			}
			if !yield(out) {
				return
			}
		}
	}
}

// workerOrchestrator gives a worker its own scratch namespace. The cleanup
// removes the directory when the worker left nothing in it.
func (w *Walker) workerOrchestrator() (*orchestrator.Orchestrator, func()) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	dir := filepath.Join(w.Orchestrator.Config().ScratchDir, scratchPrefix+id.String())
	return w.Orchestrator.WithScratchDir(dir), func() {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			log.Debug("Scratch directory kept", logger.Fields{"dir": dir, "error": err.Error()})
		}
	}
}

// process lists, selects and executes member i. Errors before execution are
// turned into Failed outcomes here.
func (w *Walker) process(ctx context.Context, orch *orchestrator.Orchestrator, job types.PlaylistJob, items []types.PlaylistItem, i int) types.Outcome {
	item := items[i]
	item.Index = i + 1
	log.Info(fmt.Sprintf("Processing %d/%d", item.Index, len(items)), logger.Fields{"video_id": item.VideoID, "title": item.Title})

	fail := func(err error) types.Outcome {
		now := time.Now()
		out := types.Outcome{Index: item.Index, VideoID: item.VideoID, Title: item.Title, Started: now, Finished: now}
		out.Fail(err)
		log.Error("Video failed", logger.Fields{"video_id": item.VideoID, "index": item.Index, "error": err.Error()})
		orch.Report(out)
		return out
	}

	streams, err := w.Catalog.ListStreams(ctx, item.VideoID)
	if err != nil {
		return fail(errs.New(errs.ErrCatalogUnavailable, "list streams", item.VideoID, err))
	}
	plan, err := selector.SelectPlan(streams, job.Resolution, w.SelectOptions...)
	if err != nil {
		return fail(err)
	}
	target := types.NewTargetPath(job.Dir, fmt.Sprintf("%d. %s", item.Index, plan.Filename()))
	return orch.ExecuteItem(ctx, item, plan, target)
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[types.Outcome]) []types.Outcome {
	var outs []types.Outcome
	for o := range seq {
		outs = append(outs, o)
	}
	return outs
}
