package stream

import (
	"context"
	"errors"
	"io"

	"chatservice/internal/worker"
)

// PullFunc 阻塞式拉取生产者：返回下一个增量，结束返回 io.EOF
type PullFunc func() (string, error)

// defaultHandoffBuffer 拉转推的有界交接队列容量
const defaultHandoffBuffer = 64

// FromPull 把阻塞拉取生产者转成推式流。拉取循环在工作池上运行，增量经
// 有界交接队列送出，协作调度侧永不被阻塞拉取卡住。ctx 取消在一次交接
// 周期内传入拉取循环并终止它。
func FromPull(ctx context.Context, pool *worker.Pool, next PullFunc, buffer int) (Stream, error) {
	if buffer <= 0 {
		buffer = defaultHandoffBuffer
	}
	deltas := make(chan string, buffer)
	errs := make(chan error, 1)

	_, err := pool.Submit(ctx, func() {
		defer close(deltas)
		defer close(errs)
		for {
			delta, err := next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					errs <- err
				}
				return
			}
			select {
			case deltas <- delta:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	})
	if err != nil {
		return Stream{}, err
	}
	return Stream{Deltas: deltas, Errs: errs}, nil
}

// FromSlice 把固定增量序列包装成流，测试与回放用
func FromSlice(deltas []string, terminal error) Stream {
	deltaCh := make(chan string, len(deltas))
	errCh := make(chan error, 1)
	for _, d := range deltas {
		deltaCh <- d
	}
	if terminal != nil {
		errCh <- terminal
	}
	close(errCh)
	close(deltaCh)
	return Stream{Deltas: deltaCh, Errs: errCh}
}
