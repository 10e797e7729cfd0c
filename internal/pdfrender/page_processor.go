package pdfrender

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Strategy selects how the Scheduler bounds concurrent page renders.
type Strategy int

const (
	// StrategyPool runs a fixed pool of workers pulling pages from a queue in
	// ascending index order. There is no barrier between pages.
	StrategyPool Strategy = iota
	// StrategyLockstep dispatches pages in groups of the core limit and waits for
	// every page of a group before starting the next.
	StrategyLockstep
)

// ParseStrategy parses "pool" or "lockstep".
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pool":
		return StrategyPool, nil
	case "lockstep":
		return StrategyLockstep, nil
	default:
		return StrategyPool, fmt.Errorf("%w: %q", ErrInvalidStrategy, name)
	}
}

func (strategy Strategy) String() string {
	if strategy == StrategyLockstep {
		return "lockstep"
	}

	return "pool"
}

// BatchPlan partitions a document's pages into groups no larger than CoreLimit.
// FullBatches*CoreLimit + Remainder == Pages always holds.
type BatchPlan struct {
	CoreLimit   int
	Pages       int
	FullBatches int
	Remainder   int
}

// PlanBatches computes the plan for pages pages. A non-positive coreLimit is
// treated as 1.
func PlanBatches(pages, coreLimit int) BatchPlan {
	coreLimit = max(coreLimit, 1)
	pages = max(pages, 0)

	return BatchPlan{
		CoreLimit:   coreLimit,
		Pages:       pages,
		FullBatches: pages / coreLimit,
		Remainder:   pages % coreLimit,
	}
}

// Batches splits items, which must have plan.Pages elements, into FullBatches
// groups of CoreLimit followed by one group of Remainder when it is non-zero.
func (plan BatchPlan) Batches(items []int) [][]int {
	batches := make([][]int, 0, plan.FullBatches+1)

	for batch := range plan.FullBatches {
		start := batch * plan.CoreLimit
		batches = append(batches, items[start:start+plan.CoreLimit])
	}

	if plan.Remainder > 0 {
		batches = append(batches, items[plan.FullBatches*plan.CoreLimit:])
	}

	return batches
}

// PageResult is the outcome of one page task.
type PageResult struct {
	Err   error
	Path  string
	Index int
}

// Scheduler runs the page tasks of one document with at most coreLimit renders
// in flight.
type Scheduler struct {
	renderer  *PageRenderer
	strategy  Strategy
	coreLimit int
}

// NewScheduler creates a scheduler. coreLimit is resolved once by the caller and
// never re-sampled.
func NewScheduler(renderer *PageRenderer, strategy Strategy, coreLimit int) *Scheduler {
	return &Scheduler{
		renderer:  renderer,
		strategy:  strategy,
		coreLimit: max(coreLimit, 1),
	}
}

// Run renders every page in indices exactly once and returns the results in the
// order of indices. onDone is called, possibly concurrently, as each dispatched page
// finishes. Pages never dispatched because ctx was canceled carry the context error
// and do not trigger onDone. At most coreLimit decoder calls run at once, and Run
// returns only after every one of them has returned, timed out or not.
func (scheduler *Scheduler) Run(
	ctx context.Context,
	doc Document,
	indices []int,
	request Request,
	onDone func(PageResult),
) []PageResult {
	if onDone == nil {
		onDone = func(PageResult) {}
	}

	results := make([]PageResult, len(indices))
	if len(indices) == 0 {
		return results
	}

	slots := newRenderSlots(scheduler.coreLimit)

	if scheduler.strategy == StrategyLockstep {
		scheduler.runLockstep(ctx, slots, doc, indices, request, results, onDone)
	} else {
		scheduler.runPool(ctx, slots, doc, indices, request, results, onDone)
	}

	// Renders abandoned after a timeout still hold their slot.
	slots.drain()

	return results
}

// renderSlots bounds the decoder calls of one Run to the core limit, counting calls
// that outlive their page task after a timeout.
type renderSlots chan struct{}

func newRenderSlots(limit int) renderSlots {
	return make(renderSlots, max(limit, 1))
}

func (slots renderSlots) acquire(ctx context.Context) error {
	select {
	case slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (slots renderSlots) release() {
	<-slots
}

// drain blocks until every slot has been released. The slots cannot be reused.
func (slots renderSlots) drain() {
	for range cap(slots) {
		slots <- struct{}{}
	}
}

// runPool starts a pool of workers and feeds them queue positions in order.
func (scheduler *Scheduler) runPool(
	ctx context.Context,
	slots renderSlots,
	doc Document,
	indices []int,
	request Request,
	results []PageResult,
	onDone func(PageResult),
) {
	positions := make(chan int, len(indices))

	var waitGroup sync.WaitGroup

	for range min(scheduler.coreLimit, len(indices)) {
		waitGroup.Add(1)

		go scheduler.pageWorker(ctx, &waitGroup, slots, positions, doc, indices, request, results, onDone)
	}

	for position := range indices {
		positions <- position
	}

	close(positions)

	waitGroup.Wait()
}

// pageWorker pulls positions until the queue is closed and drained. Once ctx is
// canceled the remaining positions are marked without rendering.
func (scheduler *Scheduler) pageWorker(
	ctx context.Context,
	waitGroup *sync.WaitGroup,
	slots renderSlots,
	positions <-chan int,
	doc Document,
	indices []int,
	request Request,
	results []PageResult,
	onDone func(PageResult),
) {
	defer waitGroup.Done()

	for position := range positions {
		index := indices[position]

		if ctx.Err() != nil {
			results[position] = PageResult{Index: index, Path: "", Err: ctx.Err()}

			continue
		}

		var dispatched bool

		results[position], dispatched = scheduler.runTask(ctx, slots, doc, index, request)
		if dispatched {
			onDone(results[position])
		}
	}
}

// runLockstep processes the batch plan group by group with a join barrier between
// groups. Cancellation is checked at every barrier.
func (scheduler *Scheduler) runLockstep(
	ctx context.Context,
	slots renderSlots,
	doc Document,
	indices []int,
	request Request,
	results []PageResult,
	onDone func(PageResult),
) {
	positions := make([]int, len(indices))
	for position := range positions {
		positions[position] = position
	}

	plan := PlanBatches(len(indices), scheduler.coreLimit)

	for _, batch := range plan.Batches(positions) {
		if ctx.Err() != nil {
			for _, position := range batch {
				results[position] = PageResult{Index: indices[position], Path: "", Err: ctx.Err()}
			}

			continue
		}

		var group errgroup.Group

		group.SetLimit(plan.CoreLimit)

		for _, position := range batch {
			group.Go(func() error {
				result, dispatched := scheduler.runTask(ctx, slots, doc, indices[position], request)

				results[position] = result
				if dispatched {
					onDone(result)
				}

				return nil
			})
		}

		_ = group.Wait()
	}
}

// runTask waits for a render slot and renders one page. It reports false when ctx
// was canceled before a slot became free and the page was never dispatched.
func (scheduler *Scheduler) runTask(
	ctx context.Context,
	slots renderSlots,
	doc Document,
	index int,
	request Request,
) (PageResult, bool) {
	acquireErr := slots.acquire(ctx)
	if acquireErr != nil {
		return PageResult{Index: index, Path: "", Err: acquireErr}, false
	}

	path, err := scheduler.renderer.renderOne(ctx, doc, index, request, slots.release)

	return PageResult{Index: index, Path: path, Err: err}, true
}
