package tts

import "context"

// SentenceFunc synthesizes one sentence into mono float samples.
type SentenceFunc func(ctx context.Context, index int, sentence string) ([]float32, error)

// Sequential returns a Stream that synthesizes sentences one at a time,
// only when the consumer asks for the next chunk.
func Sequential(ctx context.Context, sentences []string, fn SentenceFunc) Stream {
	return func(yield func(Chunk, error) bool) {
		for i, s := range sentences {
			var samples []float32
			err := ctx.Err()
			if err == nil {
				samples, err = fn(ctx, i, s)
			}
			if !yield(Chunk{Index: i, Samples: samples}, err) {
				return
			}
		}
	}
}

// Parallel returns a Stream that synthesizes up to workers sentences at once
// but still yields chunks strictly in sentence order. Work starts when the
// stream is ranged over; stopping early cancels whatever is still running.
func Parallel(ctx context.Context, sentences []string, workers int, fn SentenceFunc) Stream {
	if workers < 1 {
		workers = 1
	}
	return func(yield func(Chunk, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		type result struct {
			samples []float32
			err     error
		}

		// Every slot receives exactly one result, so senders never block.
		slots := make([]chan result, len(sentences))
		for i := range slots {
			slots[i] = make(chan result, 1)
		}

		go func() {
			sem := make(chan struct{}, workers)
			for i, s := range sentences {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					slots[i] <- result{err: ctx.Err()}
					continue
				}
				go func() {
					defer func() { <-sem }()
					samples, err := fn(ctx, i, s)
					slots[i] <- result{samples: samples, err: err}
				}()
			}
		}()

		for i, slot := range slots {
			r := <-slot
			if !yield(Chunk{Index: i, Samples: r.samples}, r.err) {
				return
			}
		}
	}
}
