package utils

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.viam.com/test"
	gutils "go.viam.com/utils"
)

func TestRunInParallel(t *testing.T) {
	wait100ms := func(ctx context.Context) error {
		gutils.SelectContextOrWait(ctx, 100*time.Millisecond)
		return ctx.Err()
	}

	elapsed, err := RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 150*time.Millisecond)
	test.That(t, elapsed, test.ShouldBeGreaterThan, 90*time.Millisecond)

	errFunc := func(ctx context.Context) error {
		return errors.New("bad")
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms, errFunc})
	test.That(t, err, test.ShouldNotBeNil)

	panicFunc := func(ctx context.Context) error {
		panic(1)
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{panicFunc})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParallelForEachBlock(t *testing.T) {
	test.That(t, NumBlocks(0, 8), test.ShouldEqual, 0)
	test.That(t, NumBlocks(17, 8), test.ShouldEqual, 3)

	seen := make([]atomic.Int32, 1003)
	blocks := make([]int, NumBlocks(len(seen), 64))
	ParallelForEachBlock(len(seen), 64, func(block, from, to int) {
		blocks[block] = to - from
		for i := from; i < to; i++ {
			seen[i].Inc()
		}
	})
	for i := range seen {
		test.That(t, seen[i].Load(), test.ShouldEqual, 1)
	}
	test.That(t, blocks[len(blocks)-1], test.ShouldEqual, 1003-64*15)

	// nothing to do, nothing called
	ParallelForEachBlock(0, 64, func(block, from, to int) {
		t.Fatal("should not be called")
	})
}

func TestParallelForEachPixel(t *testing.T) {
	var count atomic.Int64
	var sum atomic.Int64
	ParallelForEachPixel(image.Point{13, 7}, func(x, y int) {
		count.Inc()
		sum.Add(int64(y*13 + x))
	})
	test.That(t, count.Load(), test.ShouldEqual, 91)
	test.That(t, sum.Load(), test.ShouldEqual, 90*91/2)
}

func TestNextPow2(t *testing.T) {
	test.That(t, NextPow2(-3), test.ShouldEqual, 0)
	test.That(t, NextPow2(1), test.ShouldEqual, 1)
	test.That(t, NextPow2(63), test.ShouldEqual, 64)
	test.That(t, NextPow2(64), test.ShouldEqual, 64)
	test.That(t, NextPow2(65), test.ShouldEqual, 128)
	test.That(t, Log2(64), test.ShouldEqual, 6)
	test.That(t, Log2(1), test.ShouldEqual, 0)
	test.That(t, ClampInt(9, 0, 5), test.ShouldEqual, 5)
}
