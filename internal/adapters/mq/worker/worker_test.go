package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/intelsync/internal/adapters/mq/queue"
	worker "github.com/okian/intelsync/internal/adapters/mq/worker"
	model "github.com/okian/intelsync/internal/domain/model"
	logging "github.com/okian/intelsync/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

// Mock implementations for testing.
type mockQueue struct {
	eventChan chan queue.Event
	once      sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{eventChan: make(chan queue.Event, 10)}
}

func (mq *mockQueue) Dequeue() <-chan queue.Event { return mq.eventChan }

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.eventChan) })
	return nil
}

type recordingHandler struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]error
	panic string
}

func (h *recordingHandler) HandleMatch(_ context.Context, ev queue.Event) error { //nolint:gocritic // hugeParam
	if ev.Seen.Indicator == h.panic && h.panic != "" {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, ev.Seen.Indicator)
	return h.fail[ev.Seen.Indicator]
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func batch(indicator string) queue.Event {
	return model.MatchEvent{Seen: model.SeenInfo{Indicator: indicator, IndicatorType: model.KindDomain}}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a queue", t, func() {
		q := newMockQueue()
		h := &recordingHandler{fail: map[string]error{"bad.example": errors.New("remote down")}, panic: "panic.example"}
		w := worker.NewInMemoryWorker(q, h, worker.WithName("test-worker"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When batches are queued", func() {
			q.eventChan <- batch("a.example")
			q.eventChan <- batch("bad.example")
			q.eventChan <- batch("panic.example")
			q.eventChan <- batch("b.example")

			convey.Convey("Then each reaches the handler and failures do not stop the loop", func() {
				convey.So(waitFor(func() bool { return w.Processed() == 4 }), convey.ShouldBeTrue)
				convey.So(h.count(), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the worker is shut down", func() {
			err := w.Shutdown(context.Background())

			convey.Convey("Then it stops promptly", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of three workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		h := &recordingHandler{}
		pool := worker.NewPool(3, q, h)
		convey.So(pool.Size(), convey.ShouldEqual, 3)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		for i := 0; i < 50; i++ {
			convey.So(q.Enqueue(ctx, batch(fmt.Sprintf("host%d.example", i))), convey.ShouldBeTrue)
		}

		convey.Convey("When the pool shuts down", func() {
			err := pool.Shutdown(context.Background())

			convey.Convey("Then every queued batch was handled", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(h.count(), convey.ShouldEqual, 50)
				convey.So(pool.Processed(), convey.ShouldEqual, 50)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a non-positive worker count", t, func() {
		pool := worker.NewPool(0, newMockQueue(), worker.HandlerFunc(func(context.Context, queue.Event) error { return nil }))

		convey.Convey("Then at least one worker is created", func() {
			convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
		})
	})
}
