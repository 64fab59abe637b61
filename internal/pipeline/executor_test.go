package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// funcCapability is a test capability backed by a function. It counts calls.
type funcCapability struct {
	name  string
	fn    func(ctx context.Context, text string) (*ports.Generation, error)
	calls atomic.Int32
}

func (c *funcCapability) Name() string { return c.name }

func (c *funcCapability) Generate(ctx context.Context, text string) (*ports.Generation, error) {
	c.calls.Add(1)
	return c.fn(ctx, text)
}

func textCapability(name string, fn func(string) string) *funcCapability {
	return &funcCapability{name: name, fn: func(_ context.Context, text string) (*ports.Generation, error) {
		return &ports.Generation{Text: fn(text)}, nil
	}}
}

func fixed(c ports.Capability) ports.Resolver {
	return func() ports.Capability { return c }
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func shoutPipeline(t *testing.T, upper, rev, exclaim ports.Capability) *Pipeline {
	t.Helper()
	p, err := New("shout", Shape{Field: "message"}, []Stage{
		{ID: "upper", Input: Shape{Field: "message"}, Output: Shape{Field: "upperText"}, Resolve: fixed(upper)},
		{ID: "reverse", Input: Shape{Field: "upperText"}, Output: Shape{Field: "reversedText"}, Resolve: fixed(rev)},
		{ID: "exclaim", Input: Shape{Field: "reversedText"}, Output: Shape{Field: "result"}, Resolve: fixed(exclaim)},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func collect(x *Execution) []Progress {
	var out []Progress
	for p := range x.Progress {
		out = append(out, p)
	}
	return out
}

func TestExecutor_Succeeds(t *testing.T) {
	upper := textCapability("upper", strings.ToUpper)
	rev := textCapability("reverse", reverse)
	exclaim := textCapability("exclaim", func(s string) string { return s + "!" })
	p := shoutPipeline(t, upper, rev, exclaim)

	e := NewExecutor(WithIDGenerator(func() string { return "run-1" }))
	x := e.Execute(context.Background(), p, "hi")
	if x.ID != "run-1" {
		t.Errorf("ID = %q, want run-1", x.ID)
	}

	got := collect(x)
	if len(got) != 4 {
		t.Fatalf("got %d progress values, want 4: %+v", len(got), got)
	}
	for i := 0; i < 3; i++ {
		if got[i].Kind != ProgressThinking {
			t.Errorf("progress[%d].Kind = %v, want thinking", i, got[i].Kind)
		}
		if len(got[i].Trace) != i+1 {
			t.Errorf("progress[%d] trace length = %d, want %d", i, len(got[i].Trace), i+1)
		}
	}

	last := got[3]
	if last.Kind != ProgressSucceeded || last.Result != "IH!" {
		t.Fatalf("terminal = %+v, want succeeded with IH!", last)
	}

	want := []domain.StageRecord{
		{StageID: "upper", Label: "upper", Input: "hi", Output: "HI", Model: "upper"},
		{StageID: "reverse", Label: "reverse", Input: "HI", Output: "IH", Model: "reverse"},
		{StageID: "exclaim", Label: "exclaim", Input: "IH", Output: "IH!", Model: "exclaim"},
	}
	for i, rec := range last.Trace {
		if rec != want[i] {
			t.Errorf("trace[%d] = %+v, want %+v", i, rec, want[i])
		}
	}

	snap, err := x.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if snap.Status != domain.RunSucceeded || snap.Result != "IH!" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestExecutor_StageFailure(t *testing.T) {
	upper := textCapability("upper", strings.ToUpper)
	rev := &funcCapability{name: "reverse", fn: func(context.Context, string) (*ports.Generation, error) {
		return nil, errors.New("boom")
	}}
	exclaim := textCapability("exclaim", func(s string) string { return s + "!" })
	p := shoutPipeline(t, upper, rev, exclaim)

	got := collect(NewExecutor().Execute(context.Background(), p, "hi"))
	if len(got) != 2 {
		t.Fatalf("got %d progress values, want 2", len(got))
	}
	if got[0].Kind != ProgressThinking || len(got[0].Trace) != 1 {
		t.Errorf("progress[0] = %+v", got[0])
	}

	term := got[1]
	if term.Kind != ProgressFailed {
		t.Fatalf("terminal kind = %v, want failed", term.Kind)
	}
	var se *domain.StageError
	if !errors.As(term.Err, &se) || se.StageID != "reverse" {
		t.Errorf("Err = %v, want StageError for reverse", term.Err)
	}
	if !strings.Contains(term.Err.Error(), "boom") {
		t.Errorf("Err = %v, want message containing boom", term.Err)
	}
	if exclaim.calls.Load() != 0 {
		t.Error("exclaim must not run after a failure")
	}
}

func TestExecutor_FirstStageFails(t *testing.T) {
	failing := &funcCapability{name: "bad", fn: func(context.Context, string) (*ports.Generation, error) {
		return nil, errors.New("no")
	}}
	p, err := New("one", Shape{}, []Stage{{ID: "only", Resolve: fixed(failing)}})
	if err != nil {
		t.Fatal(err)
	}

	snap, err := NewExecutor().Run(context.Background(), p, "x")
	if err == nil {
		t.Fatal("Run() error = nil, want failure")
	}
	if snap.Status != domain.RunFailed || len(snap.Trace) != 0 {
		t.Errorf("snapshot = %+v, want failed with empty trace", snap)
	}
}

func TestExecutor_Suspended(t *testing.T) {
	suspend := &funcCapability{name: "ask", fn: func(context.Context, string) (*ports.Generation, error) {
		return &ports.Generation{Suspended: true, SuspendReason: "needs approval"}, nil
	}}
	p, _ := New("s", Shape{}, []Stage{{ID: "ask", Resolve: fixed(suspend)}})

	snap, err := NewExecutor().Run(context.Background(), p, "x")
	if !errors.Is(err, domain.ErrSuspended) {
		t.Fatalf("Run() error = %v, want ErrSuspended", err)
	}
	if snap.Status != domain.RunFailed {
		t.Errorf("status = %v, want failed", snap.Status)
	}
}

func TestExecutor_NilGeneration(t *testing.T) {
	empty := &funcCapability{name: "nil", fn: func(context.Context, string) (*ports.Generation, error) {
		return nil, nil
	}}
	p, _ := New("n", Shape{}, []Stage{{ID: "n", Resolve: fixed(empty)}})

	_, err := NewExecutor().Run(context.Background(), p, "x")
	var se *domain.StageError
	if !errors.As(err, &se) {
		t.Fatalf("Run() error = %v, want StageError", err)
	}
}

func TestExecutor_PanicBecomesUnknownFault(t *testing.T) {
	boom := &funcCapability{name: "panic", fn: func(context.Context, string) (*ports.Generation, error) {
		panic("kaboom")
	}}
	p, _ := New("p", Shape{}, []Stage{{ID: "p", Resolve: fixed(boom)}})

	got := collect(NewExecutor().Execute(context.Background(), p, "x"))
	if len(got) != 1 || got[0].Kind != ProgressFailed {
		t.Fatalf("progress = %+v, want one failed", got)
	}
	if !errors.Is(got[0].Err, domain.ErrUnknownFault) {
		t.Errorf("Err = %v, want ErrUnknownFault", got[0].Err)
	}
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	upper := textCapability("upper", strings.ToUpper)
	p, _ := New("c", Shape{}, []Stage{{ID: "u", Resolve: fixed(upper)}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := NewExecutor().Run(ctx, p, "x")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if snap.Status != domain.RunAborted {
		t.Errorf("status = %v, want aborted", snap.Status)
	}
	if upper.calls.Load() != 0 {
		t.Error("no capability may run after cancellation")
	}
}

func TestExecutor_CancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := textCapability("first", strings.ToUpper)
	blocking := &funcCapability{name: "block", fn: func(ctx context.Context, _ string) (*ports.Generation, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	last := textCapability("last", strings.ToLower)

	p, _ := New("m", Shape{}, []Stage{
		{ID: "first", Resolve: fixed(first)},
		{ID: "block", Resolve: fixed(blocking)},
		{ID: "last", Resolve: fixed(last)},
	})

	x := NewExecutor().Execute(ctx, p, "x")
	for range x.Progress {
	}
	snap, _ := x.Wait()
	if snap.Status != domain.RunAborted {
		t.Errorf("status = %v, want aborted", snap.Status)
	}
	if last.calls.Load() != 0 {
		t.Error("stages after cancellation must not run")
	}
}

func TestExecutor_CancelledInLastStage(t *testing.T) {
	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		only := &funcCapability{name: "only", fn: func(context.Context, string) (*ports.Generation, error) {
			cancel()
			return &ports.Generation{Text: "ok"}, nil
		}}
		p, _ := New("m", Shape{}, []Stage{{ID: "only", Resolve: fixed(only)}})

		got := collect(NewExecutor().Execute(ctx, p, "x"))
		cancel()

		if len(got) != 2 {
			t.Fatalf("run %d: got %d progress values, want thinking and terminal: %+v", i, len(got), got)
		}
		if got[1].Kind != ProgressSucceeded || got[1].Result != "ok" {
			t.Fatalf("run %d: terminal = %+v, want succeeded", i, got[1])
		}
	}
}

func TestExecutor_TerminalMatchesSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	only := &funcCapability{name: "only", fn: func(context.Context, string) (*ports.Generation, error) {
		cancel()
		return &ports.Generation{Text: "ok"}, nil
	}}
	p, _ := New("m", Shape{}, []Stage{{ID: "only", Resolve: fixed(only)}})

	x := NewExecutor().Execute(ctx, p, "x")
	got := collect(x)
	snap, _ := x.Wait()

	want := map[domain.RunStatus]ProgressKind{
		domain.RunSucceeded: ProgressSucceeded,
		domain.RunFailed:    ProgressFailed,
		domain.RunAborted:   ProgressAborted,
	}
	if last := got[len(got)-1]; last.Kind != want[snap.Status] {
		t.Errorf("terminal kind = %v, snapshot status = %v", last.Kind, snap.Status)
	}
}

func TestExecutor_UnreadProgressDoesNotBlock(t *testing.T) {
	p := shoutPipeline(t,
		textCapability("upper", strings.ToUpper),
		textCapability("reverse", reverse),
		textCapability("exclaim", func(s string) string { return s + "!" }),
	)

	snap, err := NewExecutor().Execute(context.Background(), p, "hi").Wait()
	if err != nil || snap.Result != "IH!" {
		t.Fatalf("Wait() = %+v, %v", snap, err)
	}
}

func TestExecutor_ProvenanceFallsBackToCapabilityName(t *testing.T) {
	named := &funcCapability{name: "builtin-upper", fn: func(_ context.Context, text string) (*ports.Generation, error) {
		return &ports.Generation{Text: strings.ToUpper(text)}, nil
	}}
	reported := &funcCapability{name: "grok", fn: func(_ context.Context, text string) (*ports.Generation, error) {
		return &ports.Generation{Text: text, Model: "grok-3-mini-fast-latest"}, nil
	}}
	p, _ := New("m", Shape{}, []Stage{
		{ID: "a", Resolve: fixed(named)},
		{ID: "b", Resolve: fixed(reported)},
	})

	snap, err := NewExecutor().Run(context.Background(), p, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Trace[0].Model != "builtin-upper" {
		t.Errorf("trace[0].Model = %q, want capability name", snap.Trace[0].Model)
	}
	if snap.Trace[1].Model != "grok-3-mini-fast-latest" {
		t.Errorf("trace[1].Model = %q, want reported model", snap.Trace[1].Model)
	}
}

func TestExecutor_Prompt(t *testing.T) {
	echo := textCapability("echo", func(s string) string { return s })
	prompt, err := ParsePrompt("wrap", "Translate: {{.Input}}")
	if err != nil {
		t.Fatal(err)
	}
	p, _ := New("w", Shape{}, []Stage{{ID: "w", Prompt: prompt, Resolve: fixed(echo)}})

	snap, err := NewExecutor().Run(context.Background(), p, "hola")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Result != "Translate: hola" {
		t.Errorf("Result = %q", snap.Result)
	}
	if snap.Trace[0].Input != "hola" {
		t.Errorf("trace input = %q, want the raw stage input", snap.Trace[0].Input)
	}
}

func TestExecutor_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("one thinking per stage and result is last output", prop.ForAll(
		func(n int, input string) bool {
			stages := make([]Stage, n)
			for i := range stages {
				stages[i] = Stage{
					ID:      strings.Repeat("s", i+1),
					Resolve: fixed(textCapability("append", func(s string) string { return s + "." })),
				}
			}
			p, err := New("prop", Shape{}, stages)
			if err != nil {
				return false
			}

			got := collect(NewExecutor().Execute(context.Background(), p, input))
			if len(got) != n+1 {
				return false
			}
			for i := 0; i < n; i++ {
				if got[i].Kind != ProgressThinking || len(got[i].Trace) != i+1 {
					return false
				}
			}
			term := got[n]
			return term.Kind == ProgressSucceeded &&
				term.Result == input+strings.Repeat(".", n) &&
				term.Result == term.Trace[n-1].Output
		},
		gen.IntRange(1, 8),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestNew(t *testing.T) {
	c := fixed(textCapability("x", strings.ToUpper))

	tests := []struct {
		name    string
		input   Shape
		stages  []Stage
		wantErr error
		errText string
	}{
		{
			name:    "empty",
			wantErr: ErrEmptyPipeline,
		},
		{
			name:    "duplicate ids",
			stages:  []Stage{{ID: "a", Resolve: c}, {ID: "a", Resolve: c}},
			errText: "duplicate stage id",
		},
		{
			name:    "missing capability",
			stages:  []Stage{{ID: "a"}},
			errText: "no capability",
		},
		{
			name:  "shape mismatch",
			input: Shape{Field: "message"},
			stages: []Stage{
				{ID: "a", Input: Shape{Field: "message"}, Output: Shape{Field: "arabicText"}, Resolve: c},
				{ID: "b", Input: Shape{Field: "hangulText"}, Resolve: c},
			},
			errText: "expects input",
		},
		{
			name:   "untyped shapes chain",
			input:  Shape{Field: "message"},
			stages: []Stage{{ID: "a", Resolve: c}, {ID: "b", Input: Shape{Field: "x"}, Resolve: c}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("p", tt.input, tt.stages)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
			case tt.errText != "":
				if err == nil || !strings.Contains(err.Error(), tt.errText) {
					t.Errorf("New() error = %v, want %q", err, tt.errText)
				}
			default:
				if err != nil {
					t.Errorf("New() error = %v", err)
				}
			}
		})
	}
}

func TestNew_CopiesStages(t *testing.T) {
	c := fixed(textCapability("x", strings.ToUpper))
	stages := []Stage{{ID: "a", Resolve: c}}
	p, err := New("p", Shape{}, stages)
	if err != nil {
		t.Fatal(err)
	}

	stages[0].ID = "mutated"
	if p.StageIDs()[0] != "a" {
		t.Error("pipeline must not observe caller mutation")
	}
	if p.Stages()[0].Label != "a" {
		t.Errorf("label should default to the id, got %q", p.Stages()[0].Label)
	}
}

func TestCatalogFromConfig(t *testing.T) {
	resolvers := func(names []string) (ports.Resolver, error) {
		if len(names) == 0 {
			return nil, errors.New("no providers")
		}
		return fixed(textCapability(names[0], strings.ToUpper)), nil
	}

	cat, err := CatalogFromConfig(config.Demo(), resolvers)
	if err != nil {
		t.Fatalf("CatalogFromConfig() error = %v", err)
	}
	p, ok := cat.Get("shout")
	if !ok {
		t.Fatal("shout pipeline missing")
	}
	if p.Len() != 3 {
		t.Errorf("Len() = %d, want 3", p.Len())
	}
	if _, ok := cat.Get("nope"); ok {
		t.Error("Get(nope) should miss")
	}

	if _, err := NewCatalog(p, p); err == nil {
		t.Error("NewCatalog() should reject duplicate names")
	}
}
