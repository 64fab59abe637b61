package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
	"github.com/tjfontaine/polyglot-relay/internal/pipeline"
)

// recordingSink keeps every event it is given.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.StreamEvent
	err    error
}

func (s *recordingSink) Write(ev domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, len(s.events))
	for i, ev := range s.events {
		parts[i] = string(ev.Type)
	}
	return strings.Join(parts, ",")
}

func (s *recordingSink) count(t domain.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (s *recordingSink) answer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, ev := range s.events {
		if ev.Type == domain.EventAnswer {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

type textCapability func(string) (string, error)

func (f textCapability) Name() string { return "test" }

func (f textCapability) Generate(_ context.Context, text string) (*ports.Generation, error) {
	out, err := f(text)
	if err != nil {
		return nil, err
	}
	return &ports.Generation{Text: out}, nil
}

func stage(id string, fn func(string) (string, error)) pipeline.Stage {
	c := textCapability(fn)
	return pipeline.Stage{ID: id, Resolve: func() ports.Capability { return c }}
}

func shout(t *testing.T, reverseErr error) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New("shout", pipeline.Shape{Field: "message"}, []pipeline.Stage{
		stage("upper", func(s string) (string, error) { return strings.ToUpper(s), nil }),
		stage("reverse", func(s string) (string, error) {
			if reverseErr != nil {
				return "", reverseErr
			}
			r := []rune(s)
			for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
				r[i], r[j] = r[j], r[i]
			}
			return string(r), nil
		}),
		stage("exclaim", func(s string) (string, error) { return s + "!", nil }),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func drive(t *testing.T, p *pipeline.Pipeline, input string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	x := pipeline.NewExecutor().Execute(context.Background(), p, input)
	_ = NewEmitter(sink, WithChunkInterval(0)).Drive(context.Background(), x.Progress)
	return sink
}

func TestEmitter_Success(t *testing.T) {
	sink := drive(t, shout(t, nil), "hi")

	if got := sink.types(); got != "thinking,thinking,thinking,answer,done" {
		t.Fatalf("event order = %s", got)
	}
	if sink.answer() != "IH!" {
		t.Errorf("answer = %q, want IH!", sink.answer())
	}

	last := sink.events[2].Stages
	want := []struct{ id, in, out string }{{"upper", "hi", "HI"}, {"reverse", "HI", "IH"}, {"exclaim", "IH", "IH!"}}
	for i, w := range want {
		if last[i].StageID != w.id || last[i].Input != w.in || last[i].Output != w.out {
			t.Errorf("stage %d = %+v, want %+v", i, last[i], w)
		}
	}
}

func TestEmitter_StageFailure(t *testing.T) {
	sink := drive(t, shout(t, errors.New("reverse exploded")), "hi")

	if got := sink.types(); got != "thinking,error,done" {
		t.Fatalf("event order = %s", got)
	}
	if len(sink.events[0].Stages) != 1 || sink.events[0].Stages[0].StageID != "upper" {
		t.Errorf("trace = %+v, want upper only", sink.events[0].Stages)
	}
	if msg := sink.events[1].Message; !strings.Contains(msg, "reverse exploded") {
		t.Errorf("error message = %q", msg)
	}
}

func TestEmitter_FailureAtEveryStage(t *testing.T) {
	const n = 5
	for k := 1; k <= n; k++ {
		stages := make([]pipeline.Stage, n)
		for i := range stages {
			fail := i+1 == k
			stages[i] = stage(string(rune('a'+i)), func(s string) (string, error) {
				if fail {
					return "", errors.New("stage failed")
				}
				return s, nil
			})
		}
		p, err := pipeline.New("k", pipeline.Shape{}, stages)
		if err != nil {
			t.Fatal(err)
		}

		sink := drive(t, p, "x")
		if got := sink.count(domain.EventThinking); got != k-1 {
			t.Errorf("k=%d: thinking events = %d, want %d", k, got, k-1)
		}
		if sink.count(domain.EventAnswer) != 0 || sink.count(domain.EventError) != 1 || sink.count(domain.EventDone) != 1 {
			t.Errorf("k=%d: events = %s", k, sink.types())
		}
	}
}

func TestEmitter_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("n stages yield n thinking, answers, one done", prop.ForAll(
		func(n int, input string) bool {
			stages := make([]pipeline.Stage, n)
			for i := range stages {
				stages[i] = stage(strings.Repeat("s", i+1), func(s string) (string, error) { return s + "-", nil })
			}
			p, err := pipeline.New("prop", pipeline.Shape{}, stages)
			if err != nil {
				return false
			}

			sink := drive(t, p, input)
			for i := 0; i < n; i++ {
				if sink.events[i].Type != domain.EventThinking || len(sink.events[i].Stages) != i+1 {
					return false
				}
			}
			return sink.count(domain.EventThinking) == n &&
				sink.count(domain.EventAnswer) >= 1 &&
				sink.count(domain.EventError) == 0 &&
				sink.count(domain.EventDone) == 1 &&
				sink.events[len(sink.events)-1].Type == domain.EventDone &&
				sink.answer() == input+strings.Repeat("-", n)
		},
		gen.IntRange(1, 6),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestEmitter_AnswerChunks(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, WithChunkInterval(0))

	if err := e.Answer(context.Background(), strings.Repeat("z", 85)); err != nil {
		t.Fatal(err)
	}
	e.Finish()

	if got := sink.types(); got != "answer,answer,answer,done" {
		t.Fatalf("event order = %s", got)
	}
	for i, want := range []int{40, 40, 5} {
		if got := len(sink.events[i].Content); got != want {
			t.Errorf("chunk %d length = %d, want %d", i, got, want)
		}
	}
}

func TestEmitter_EmptyResult(t *testing.T) {
	sink := &recordingSink{}
	progress := make(chan pipeline.Progress, 1)
	progress <- pipeline.Progress{Kind: pipeline.ProgressSucceeded}
	close(progress)

	if err := NewEmitter(sink).Drive(context.Background(), progress); err != nil {
		t.Fatal(err)
	}
	if got := sink.types(); got != "answer,done" {
		t.Fatalf("event order = %s", got)
	}
	if sink.events[0].Content != NoResultMarker {
		t.Errorf("content = %q, want placeholder", sink.events[0].Content)
	}
}

func TestEmitter_TerminalTraceWithoutThinking(t *testing.T) {
	sink := &recordingSink{}
	progress := make(chan pipeline.Progress, 1)
	progress <- pipeline.Progress{
		Kind:   pipeline.ProgressSucceeded,
		Result: "ok",
		Trace:  []domain.StageRecord{{StageID: "only", Input: "x", Output: "ok"}},
	}
	close(progress)

	if err := NewEmitter(sink).Drive(context.Background(), progress); err != nil {
		t.Fatal(err)
	}
	if got := sink.types(); got != "thinking,answer,done" {
		t.Fatalf("event order = %s", got)
	}
}

func TestEmitter_ClosedWithoutTerminal(t *testing.T) {
	sink := &recordingSink{}
	progress := make(chan pipeline.Progress)
	close(progress)

	err := NewEmitter(sink).Drive(context.Background(), progress)
	if !errors.Is(err, ErrIncompleteRun) {
		t.Fatalf("Drive() error = %v, want ErrIncompleteRun", err)
	}
	if got := sink.types(); got != "error,done" {
		t.Fatalf("event order = %s", got)
	}
	if sink.events[0].Message != domain.ErrUnknownFault.Error() {
		t.Errorf("message = %q", sink.events[0].Message)
	}
}

func TestEmitter_GenericFailureMessage(t *testing.T) {
	sink := &recordingSink{}
	progress := make(chan pipeline.Progress, 1)
	progress <- pipeline.Progress{Kind: pipeline.ProgressFailed}
	close(progress)

	_ = NewEmitter(sink).Drive(context.Background(), progress)
	if sink.events[0].Message != domain.GenericFailureMessage {
		t.Errorf("message = %q, want generic fallback", sink.events[0].Message)
	}
}

func TestEmitter_ConcurrentFinish(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink)
	e.Fail(errors.New("x"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Finish() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Finish() won %d times, want 1", winners)
	}
	if sink.count(domain.EventDone) != 1 {
		t.Errorf("done events = %d, want 1", sink.count(domain.EventDone))
	}
}

func TestEmitter_OutcomeOnce(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, WithChunkInterval(0))

	e.Fail(errors.New("first"))
	if err := e.Answer(context.Background(), "late"); err != nil {
		t.Fatal(err)
	}
	e.Fail(errors.New("second"))
	e.Thinking(nil)
	e.Finish()
	e.Finish()

	if got := sink.types(); got != "error,done" {
		t.Fatalf("event order = %s", got)
	}
	if e.Answered() {
		t.Error("Answered() = true after an error")
	}
}

func TestEmitter_FinishStopsAnswer(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, WithChunkSize(1), WithChunkInterval(5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- e.Answer(context.Background(), "abcdefghij") }()

	time.Sleep(12 * time.Millisecond)
	e.Finish()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	events := sink.types()
	if !strings.HasSuffix(events, "done") {
		t.Errorf("no event may follow done: %s", events)
	}
	if sink.count(domain.EventAnswer) == 10 {
		t.Error("answer should stop once the stream is finished")
	}
}

func TestEmitter_Pacing(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, WithChunkSize(2), WithChunkInterval(10*time.Millisecond))

	start := time.Now()
	if err := e.Answer(context.Background(), "abcdef"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("three chunks took %v, want at least two intervals", elapsed)
	}
}

func TestEmitter_CancelDuringPacing(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	progress := make(chan pipeline.Progress, 1)
	progress <- pipeline.Progress{Kind: pipeline.ProgressSucceeded, Result: strings.Repeat("q", 100)}
	close(progress)

	e := NewEmitter(sink, WithChunkInterval(time.Second))
	err := e.Drive(ctx, progress)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Drive() error = %v, want context.Canceled", err)
	}
	if got := sink.types(); got != "answer,error,done" {
		t.Errorf("event order = %s, want answer,error,done", got)
	}
	if e.Answered() {
		t.Error("an interrupted answer should not count as answered")
	}
}

func TestEmitter_DeadlineDuringPacing(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	progress := make(chan pipeline.Progress, 1)
	progress <- pipeline.Progress{Kind: pipeline.ProgressSucceeded, Result: strings.Repeat("q", 400)}
	close(progress)

	err := NewEmitter(sink).Drive(ctx, progress)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drive() error = %v, want DeadlineExceeded", err)
	}

	types := strings.Split(sink.types(), ",")
	if len(types) < 3 || types[len(types)-2] != "error" || types[len(types)-1] != "done" {
		t.Fatalf("event order = %v, want partial answer then error, done", types)
	}
	last := sink.events[len(sink.events)-2]
	if last.Message != ErrAnswerInterrupted.Error() {
		t.Errorf("error message = %q", last.Message)
	}
}

func TestEmitter_TransportFault(t *testing.T) {
	sink := &recordingSink{err: io.ErrClosedPipe}

	x := pipeline.NewExecutor().Execute(context.Background(), shout(t, nil), "hi")
	err := NewEmitter(sink, WithChunkInterval(0)).Drive(context.Background(), x.Progress)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Drive() error = %v, want ErrClosedPipe", err)
	}
}
