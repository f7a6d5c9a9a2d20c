package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/jackzampolin/scoreshelf/internal/jobs"
)

type fakeStage struct {
	name string
	deps []string
}

func (s fakeStage) Name() string                                   { return s.name }
func (s fakeStage) Dependencies() []string                         { return s.deps }
func (s fakeStage) Queue() string                                  { return "q-" + s.name }
func (s fakeStage) Description() string                            { return s.name + " stage" }
func (s fakeStage) Handle(context.Context, *jobs.Record) error     { return nil }
func (s fakeStage) Exhausted(context.Context, *jobs.Record, error) {}

func names(stages []Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.Name()
	}
	return out
}

func TestRegistry_Ordered(t *testing.T) {
	r := NewRegistry()
	for _, s := range []Stage{
		fakeStage{name: "cleanup", deps: []string{"verify"}},
		fakeStage{name: "verify", deps: []string{"parse"}},
		fakeStage{name: "parse"},
		fakeStage{name: "notify"},
	} {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register(%s) error = %v", s.Name(), err)
		}
	}

	ordered, err := r.Ordered()
	if err != nil {
		t.Fatalf("Ordered() error = %v", err)
	}
	got := names(ordered)
	want := []string{"parse", "notify", "verify", "cleanup"}
	if len(got) != len(want) {
		t.Fatalf("Ordered() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ordered() = %v, want %v", got, want)
		}
	}

	infos, err := r.Infos()
	if err != nil {
		t.Fatal(err)
	}
	if infos[2].Queue != "q-verify" || infos[2].Dependencies[0] != "parse" {
		t.Errorf("Infos()[2] = %+v", infos[2])
	}
}

func TestRegistry_Errors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(fakeStage{name: "parse"}); err != nil {
			t.Fatal(err)
		}
		if err := r.Register(fakeStage{name: "parse"}); !errors.Is(err, ErrStageAlreadyRegistered) {
			t.Errorf("Register() error = %v, want ErrStageAlreadyRegistered", err)
		}
	})

	t.Run("missing dependency", func(t *testing.T) {
		r := NewRegistry()
		_ = r.Register(fakeStage{name: "verify", deps: []string{"parse"}})
		if _, err := r.Ordered(); !errors.Is(err, ErrStageNotFound) {
			t.Errorf("Ordered() error = %v, want ErrStageNotFound", err)
		}
	})

	t.Run("cycle", func(t *testing.T) {
		r := NewRegistry()
		_ = r.Register(fakeStage{name: "a", deps: []string{"b"}})
		_ = r.Register(fakeStage{name: "b", deps: []string{"a"}})
		if _, err := r.Infos(); !errors.Is(err, ErrDependencyCycle) {
			t.Errorf("Infos() error = %v, want ErrDependencyCycle", err)
		}
	})

	if _, ok := NewRegistry().Get("nope"); ok {
		t.Error("Get() found a stage in an empty registry")
	}
}
