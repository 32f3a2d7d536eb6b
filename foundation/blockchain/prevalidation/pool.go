// Package prevalidation validates batches of blocks before they are added to
// the chain. Cheap header work runs in order on the caller's goroutine, the
// expensive proof, program and signature checks run on a pool of workers.
package prevalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/generator"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/google/uuid"
)

// ErrPoolShutdown is returned when work is submitted to a pool that is
// shutting down.
var ErrPoolShutdown = errors.New("pool is shut down")

// Expected carries the sub-slot iterations and difficulty a block must have
// been built with.
type Expected struct {
	SubSlotIters uint64
	Difficulty   uint64
}

// Request is the work one worker performs: validating a run of consecutive
// blocks against a window of their ancestors. Conditions holds results
// already computed for a block, keyed by position in Blocks.
type Request struct {
	BatchID     uuid.UUID
	Blocks      []*types.FullBlock
	Expected    []Expected
	Conditions  map[int]*types.Conditions
	Generators  map[int]types.BlockGenerator
	Window      []*types.BlockRecord
	CheckFilter bool
}

// Response carries one result per block of the request, in order.
type Response struct {
	Results []types.PreValidationResult
}

type job struct {
	req  Request
	resp chan Response
}

// =============================================================================

// PoolConfig represents the configuration required to start a pool.
type PoolConfig struct {
	Constants genesis.Constants
	Verifiers header.Verifiers
	BLS       signature.Verifier
	Runner    generator.Runner
	Workers   int
	BatchSize int
	Now       func() time.Time
	EvHandler func(v string, args ...any)
}

// Pool runs validation requests on a fixed set of goroutines.
type Pool struct {
	c         genesis.Constants
	verifiers header.Verifiers
	bls       signature.Verifier
	runner    generator.Runner
	batchSize int
	now       func() time.Time
	evHandler func(v string, args ...any)

	jobs     chan job
	shut     chan struct{}
	shutOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool starts the workers of a pool.
func NewPool(cfg PoolConfig) *Pool {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	p := Pool{
		c:         cfg.Constants,
		verifiers: cfg.Verifiers,
		bls:       cfg.BLS,
		runner:    cfg.Runner,
		batchSize: batchSize,
		now:       now,
		evHandler: ev,
		jobs:      make(chan job),
		shut:      make(chan struct{}),
	}

	p.wg.Add(workers)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			hasStarted <- true
			p.work()
		}()
	}

	for i := 0; i < workers; i++ {
		<-hasStarted
	}

	return &p
}

// Shutdown stops the workers once they finish the request in hand.
func (p *Pool) Shutdown() {
	p.evHandler("prevalidation: pool: shutdown: started")
	defer p.evHandler("prevalidation: pool: shutdown: completed")

	p.shutOnce.Do(func() { close(p.shut) })
	p.wg.Wait()
}

// Submit hands the request to a worker and waits for the response. When the
// context is done first the worker still completes the request and its
// response is dropped.
func (p *Pool) Submit(ctx context.Context, req Request) (Response, error) {
	j := job{
		req:  req,
		resp: make(chan Response, 1),
	}

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	select {
	case p.jobs <- j:
	case <-p.shut:
		return Response{}, ErrPoolShutdown
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-j.resp:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (p *Pool) work() {
	for {
		select {
		case j := <-p.jobs:
			j.resp <- p.run(j.req)
		case <-p.shut:
			return
		}
	}
}

// run validates the request. A panic while validating turns into an unknown
// error for every block of the request.
func (p *Pool) run(req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			p.evHandler("prevalidation: batch[%s]: worker: PANIC: %v", req.BatchID, r)

			results := make([]types.PreValidationResult, len(req.Blocks))
			for i := range results {
				results[i] = types.PreValidationResult{Error: types.ErrUnknown}
			}
			resp = Response{Results: results}
		}
	}()

	window := database.NewCache(req.Window, nil)

	results := make([]types.PreValidationResult, len(req.Blocks))
	for i, fb := range req.Blocks {
		results[i] = p.validate(window, req, i, fb)
	}

	return Response{Results: results}
}

// validate runs the program, header and signature checks of one block.
func (p *Pool) validate(window *database.Cache, req Request, i int, fb *types.FullBlock) types.PreValidationResult {
	var conds *types.Conditions

	if fb.IsTransactionBlock() && len(fb.TransactionsGenerator) > 0 {
		gen, exists := req.Generators[i]
		if !exists {
			gen = types.BlockGenerator{Program: fb.TransactionsGenerator}
		}

		conds = p.conditions(req.Conditions[i], gen)
		if conds.Error != types.ErrNone {
			return types.PreValidationResult{Error: conds.Error, Stage: types.StageConditions}
		}
	}

	exp := req.Expected[i]
	required, code := header.ValidateFinishedHeaderBlock(p.c, window, fb, req.CheckFilter, exp.Difficulty, exp.SubSlotIters, p.verifiers, p.now())
	if code != types.ErrNone {
		return types.PreValidationResult{Error: code, Conditions: conds, Stage: types.StageHeader}
	}

	result := types.PreValidationResult{
		RequiredIters: required,
		Conditions:    conds,
		Stage:         types.StageHeader,
	}

	return p.signature(result, fb.TransactionsInfo)
}

// conditions returns the supplied conditions or runs the generator.
func (p *Pool) conditions(supplied *types.Conditions, gen types.BlockGenerator) *types.Conditions {
	if supplied != nil {
		return supplied
	}

	conds := generator.Validate(p.runner, p.c, gen)
	return &conds
}

// signature checks the aggregated signature of a transaction block against
// the pairs of its conditions. Without a BLS verifier the result is returned
// unchanged.
func (p *Pool) signature(result types.PreValidationResult, ti *types.TransactionsInfo) types.PreValidationResult {
	if ti == nil || p.bls == nil {
		return result
	}

	var pairs types.Conditions
	if result.Conditions != nil {
		pairs = *result.Conditions
	}

	pks, msgs := pairs.PKMPairs(p.c.AggSigMeAdditionalData)
	if !p.bls.AggregateVerify(pks, msgs, ti.AggregatedSignature) {
		return types.PreValidationResult{Error: types.ErrBadAggregateSignature, Conditions: result.Conditions, Stage: types.StageSignature}
	}

	result.ValidatedSignature = true
	result.Stage = types.StageSignature

	return result
}

// String implements the fmt.Stringer interface.
func (e Expected) String() string {
	return fmt.Sprintf("ssi[%d] difficulty[%d]", e.SubSlotIters, e.Difficulty)
}
