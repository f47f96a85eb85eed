package utils

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// BlockWorkFunc runs for one fixed-size block of work items [from, to).
type BlockWorkFunc func(block, from, to int)

// NumBlocks returns how many blocks of blockSize are needed to cover totalSize items.
func NumBlocks(totalSize, blockSize int) int {
	if totalSize <= 0 || blockSize <= 0 {
		return 0
	}
	return (totalSize + blockSize - 1) / blockSize
}

// ParallelForEachBlock splits totalSize work items into blocks of blockSize and runs
// blockWork for every block on up to ParallelFactor goroutines. Block boundaries
// only depend on totalSize and blockSize, never on scheduling, so per-block partial
// results reduced in block order are deterministic. It returns after every block is done.
func ParallelForEachBlock(totalSize, blockSize int, blockWork BlockWorkFunc) {
	numBlocks := NumBlocks(totalSize, blockSize)
	if numBlocks == 0 {
		return
	}
	workers := ParallelFactor
	if workers > numBlocks {
		workers = numBlocks
	}
	if workers == 1 {
		for block := 0; block < numBlocks; block++ {
			from, to := blockRange(block, blockSize, totalSize)
			blockWork(block, from, to)
		}
		return
	}

	var next atomic.Int64
	var wait sync.WaitGroup
	wait.Add(workers)
	for i := 0; i < workers; i++ {
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			for {
				block := int(next.Inc() - 1)
				if block >= numBlocks {
					return
				}
				from, to := blockRange(block, blockSize, totalSize)
				blockWork(block, from, to)
			}
		})
	}
	wait.Wait()
}

func blockRange(block, blockSize, totalSize int) (int, int) {
	from := block * blockSize
	to := from + blockSize
	if to > totalSize {
		to = totalSize
	}
	return from, to
}

// ParallelForEachPixel loops through the image and calls f functions for each [x, y] position.
// The image is divided into horizontal bands of rows; each band runs on its own goroutine.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	const rowsPerBand = 4
	ParallelForEachBlock(size.Y, rowsPerBand, func(_, from, to int) {
		for y := from; y < to; y++ {
			for x := 0; x < size.X; x++ {
				f(x, y)
			}
		}
	})
}

// SimpleFunc is for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs all functions in parallel, return is elapsed time and an error.
func RunInParallel(ctx context.Context, fs []SimpleFunc) (time.Duration, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	var bigError error
	var bigErrorMutex sync.Mutex
	storeError := func(err error) {
		bigErrorMutex.Lock()
		defer bigErrorMutex.Unlock()
		if bigError == nil || !errors.Is(err, context.Canceled) {
			bigError = multierr.Combine(bigError, err)
		}
	}

	helper := func(f SimpleFunc) {
		defer func() {
			if thePanic := recover(); thePanic != nil {
				storeError(fmt.Errorf("got panic running something in parallel: %v", thePanic))
				cancel()
			}
			wg.Done()
		}()
		err := f(ctx)
		if err != nil {
			storeError(err)
			cancel()
		}
	}

	for _, f := range fs {
		wg.Add(1)
		go helper(f)
	}

	wg.Wait()
	return time.Since(start), bigError
}
