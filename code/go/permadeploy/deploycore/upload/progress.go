package upload

import (
	"sync"
)

// Event is one progress update. OverallPercent is weighted by file size across every file
// planned for the batch.
type Event struct {
	Path           string
	Processed      int64
	Total          int64
	FilePercent    float64
	OverallPercent float64
	State          TaskState
}

// Sink receives progress events. Publish must not block the upload.
type Sink interface {
	Publish(Event)
}

// ChannelSink forwards events to a buffered channel and drops them when the reader falls
// behind.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

func (s *ChannelSink) Publish(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// Close ends the event stream; call it once the batch has returned.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// tracker aggregates per task progress into the overall percentage.
type tracker struct {
	sink  Sink
	total int64

	mu   sync.Mutex
	sum  int64
	done map[*Task]int64
}

func newTracker(sink Sink, tasks []*Task) *tracker {
	t := &tracker{sink: sink, done: make(map[*Task]int64, len(tasks))}
	for _, task := range tasks {
		t.total += task.Size
	}
	return t
}

// update records that processed of total transport bytes of task are sent. The transport
// total includes signing overhead, so progress is scaled onto the file size.
func (t *tracker) update(task *Task, processed, total int64) {
	var pct float64
	if total > 0 {
		pct = float64(processed) * 100 / float64(total)
	}
	if pct > 100 {
		pct = 100
	}
	task.setProgress(pct)
	t.publish(task, int64(pct*float64(task.Size)/100), processed, total, pct)
}

// settle publishes the final state of task.
func (t *tracker) settle(task *Task) {
	state := task.State()
	var weighted int64
	pct := 0.0
	if state == TaskSucceeded {
		weighted, pct = task.Size, 100
	}
	t.publish(task, weighted, weighted, task.Size, pct)
}

func (t *tracker) publish(task *Task, weighted, processed, total int64, pct float64) {
	t.mu.Lock()
	t.sum += weighted - t.done[task]
	t.done[task] = weighted
	sum := t.sum
	t.mu.Unlock()

	if t.sink == nil {
		return
	}
	overall := 100.0
	if t.total > 0 {
		overall = float64(sum) * 100 / float64(t.total)
	}
	t.sink.Publish(Event{
		Path:           task.Path,
		Processed:      processed,
		Total:          total,
		FilePercent:    pct,
		OverallPercent: overall,
		State:          task.State(),
	})
}
