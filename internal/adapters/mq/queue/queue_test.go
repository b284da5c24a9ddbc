package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/domain/ingest"
	. "github.com/smartystreets/goconvey/convey"
)

func job(scope string) queue.Job {
	return queue.Job{Request: ingest.Request{Scope: scope}, EnqueuedAt: time.Now()}
}

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a queue with capacity 2", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(2))
		So(q.Len(ctx), ShouldEqual, 0)

		Convey("Jobs are delivered in order", func() {
			So(q.Enqueue(ctx, job("core")), ShouldBeTrue)
			So(q.Enqueue(ctx, job("billing")), ShouldBeTrue)
			So(q.Len(ctx), ShouldEqual, 2)

			dctx, cancel := context.WithCancel(ctx)
			defer cancel()
			ch := q.Dequeue(dctx)
			first := <-ch
			second := <-ch
			So(first.Request.Scope, ShouldEqual, "core")
			So(second.Request.Scope, ShouldEqual, "billing")
		})

		Convey("A full queue rejects without blocking", func() {
			So(q.Enqueue(ctx, job("a")), ShouldBeTrue)
			So(q.Enqueue(ctx, job("b")), ShouldBeTrue)
			So(q.Enqueue(ctx, job("c")), ShouldBeFalse)
			So(q.Len(ctx), ShouldEqual, 2)
		})

		Convey("A canceled context rejects the job", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(q.Enqueue(cctx, job("a")), ShouldBeFalse)
			So(q.Len(ctx), ShouldEqual, 0)
		})

		Convey("Close drains buffered jobs and then closes the channel", func() {
			So(q.Enqueue(ctx, job("core")), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)
			So(q.IsClosed(), ShouldBeTrue)
			So(q.Enqueue(ctx, job("late")), ShouldBeFalse)

			ch := q.Dequeue(ctx)
			j, ok := <-ch
			So(ok, ShouldBeTrue)
			So(j.Request.Scope, ShouldEqual, "core")
			_, ok = <-ch
			So(ok, ShouldBeFalse)
		})
	})
}
