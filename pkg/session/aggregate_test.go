package session

import (
	"reflect"
	"strings"
	"testing"

	"speakline/pkg/tts"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name       string
		stream     []result
		want       []float32
		wantChunks int
		wantFailed int
	}{
		{
			name:       "FailedChunkOmittedWithoutGap",
			stream:     []result{ok(0.1, 0.2), fail("boom"), ok(0.3)},
			want:       []float32{0.1, 0.2, 0.3},
			wantChunks: 2,
			wantFailed: 1,
		},
		{
			name:       "OrderPreserved",
			stream:     []result{ok(3), ok(1), ok(2)},
			want:       []float32{3, 1, 2},
			wantChunks: 3,
		},
		{
			name:       "AllFailed",
			stream:     []result{fail("a"), fail("b")},
			want:       nil,
			wantFailed: 2,
		},
		{
			name:   "Empty",
			stream: nil,
			want:   nil,
		},
		{
			name:       "EmptyChunkCounts",
			stream:     []result{ok(), ok(0.7)},
			want:       []float32{0.7},
			wantChunks: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testLogger()
			got := Aggregate(streamOf(tt.stream...), logger)

			if len(got.Samples) != len(tt.want) || (len(tt.want) > 0 && !reflect.DeepEqual(got.Samples, tt.want)) {
				t.Errorf("Samples = %v, want %v", got.Samples, tt.want)
			}
			if got.Chunks != tt.wantChunks {
				t.Errorf("Chunks = %d, want %d", got.Chunks, tt.wantChunks)
			}
			if got.Failed != tt.wantFailed {
				t.Errorf("Failed = %d, want %d", got.Failed, tt.wantFailed)
			}
			if (got.Err != nil) != (tt.wantFailed > 0) {
				t.Errorf("Err = %v, want error: %v", got.Err, tt.wantFailed > 0)
			}
		})
	}
}

func TestAggregate_LogsChunkIndex(t *testing.T) {
	logger, logs := testLogger()
	Aggregate(streamOf(ok(0.1), fail("sentence exploded"), ok(0.2)), logger)

	out := logs.String()
	if !strings.Contains(out, "Chunk error") {
		t.Errorf("expected 'Chunk error' in logs, got %q", out)
	}
	if !strings.Contains(out, "chunk=1") {
		t.Errorf("expected failed chunk index in logs, got %q", out)
	}
	if !strings.Contains(out, "sentence exploded") {
		t.Errorf("expected error text in logs, got %q", out)
	}
}

func TestAggregate_DrainsEverything(t *testing.T) {
	pulled := 0
	stream := tts.Stream(func(yield func(tts.Chunk, error) bool) {
		for i := range 5 {
			pulled++
			var err error
			if i%2 == 1 {
				err = errTest
			}
			if !yield(tts.Chunk{Index: i, Samples: []float32{float32(i)}}, err) {
				return
			}
		}
	})

	logger, _ := testLogger()
	buf := Aggregate(stream, logger)
	if pulled != 5 {
		t.Errorf("expected all 5 chunks pulled, got %d", pulled)
	}
	if !reflect.DeepEqual(buf.Samples, []float32{0, 2, 4}) {
		t.Errorf("unexpected samples %v", buf.Samples)
	}
}

func TestAggregate_NilLogger(t *testing.T) {
	buf := Aggregate(streamOf(fail("x"), ok(1)), nil)
	if len(buf.Samples) != 1 {
		t.Errorf("expected 1 sample, got %d", len(buf.Samples))
	}
}
