package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestClassIndex(t *testing.T) {
	tests := []struct {
		name string
		c    ClassName
		want int
	}{
		{name: "useful is first", c: ClassUseful, want: 0},
		{name: "zombie is last", c: ClassZombie, want: 3},
		{name: "unknown class", c: ClassName("bogus"), want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassIndex(tt.c); got != tt.want {
				t.Errorf("ClassIndex(%q) = %d, want %d", tt.c, got, tt.want)
			}
		})
	}
}

func TestDefaultPriors_CoversAllClasses(t *testing.T) {
	p := DefaultPriors()
	for _, c := range Classes {
		if _, ok := p.ByClass[c]; !ok {
			t.Errorf("DefaultPriors missing class %q", c)
		}
	}
}

func TestParamBounds_Clamp(t *testing.T) {
	b := ParamBounds{MinAlphaBeta: 0.1, MaxAlphaBeta: 10, MinShapeRate: 0.01, MaxShapeRate: 5}
	tests := []struct {
		name   string
		v      float64
		isRate bool
		want   float64
	}{
		{name: "within bounds unchanged", v: 5, isRate: false, want: 5},
		{name: "below alpha/beta floor", v: 0.001, isRate: false, want: 0.1},
		{name: "above alpha/beta ceiling", v: 100, isRate: false, want: 10},
		{name: "below shape/rate floor", v: 0.0001, isRate: true, want: 0.01},
		{name: "above shape/rate ceiling", v: 50, isRate: true, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Clamp(tt.v, tt.isRate); got != tt.want {
				t.Errorf("Clamp(%v, %v) = %v, want %v", tt.v, tt.isRate, got, tt.want)
			}
		})
	}
}

func TestPriors_ForClass_CategoryOverrideWins(t *testing.T) {
	p := DefaultPriors()
	override := ClassPriors{PriorWeight: 0.9}
	p.CategoryConditional = map[string]map[ClassName]ClassPriors{
		"dev-server": {ClassUseful: override},
	}

	got, err := p.ForClass(ClassUseful, "dev-server")
	if err != nil {
		t.Fatalf("ForClass: %v", err)
	}
	if got.PriorWeight != 0.9 {
		t.Errorf("PriorWeight = %v, want override 0.9", got.PriorWeight)
	}
}

func TestPriors_ForClass_FallsBackWhenNoOverride(t *testing.T) {
	p := DefaultPriors()
	got, err := p.ForClass(ClassAbandoned, "editor")
	if err != nil {
		t.Fatalf("ForClass: %v", err)
	}
	want := p.ByClass[ClassAbandoned]
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want base class priors %+v", got, want)
	}
}

func TestPriors_ForClass_UnknownClassErrors(t *testing.T) {
	p := DefaultPriors()
	if _, err := p.ForClass(ClassName("bogus"), ""); err == nil {
		t.Fatal("expected error for unknown class")
	}
}

func TestLoadPriors_DefaultsWhenUnresolved(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	p, src, err := LoadPriors("")
	if err != nil {
		t.Fatalf("LoadPriors: %v", err)
	}
	if src.Kind != "default" {
		t.Errorf("src.Kind = %q, want default", src.Kind)
	}
	if len(p.ByClass) != len(Classes) {
		t.Errorf("expected default priors for all classes")
	}
}

func TestLoadPriors_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "priors.yaml")
	doc := `
schema_version: "1.0"
by_class:
  useful:
    prior_weight: 0.6
    cpu: {alpha: 1, beta: 1}
    runtime: {shape: 1, rate: 1}
    orphan: {alpha: 1, beta: 1}
    tty: {alpha: 1, beta: 1}
    write_fd: {alpha: 1, beta: 1}
    category: {other: 1}
  useful_bad: {prior_weight: 0.1}
  abandoned: {prior_weight: 0.2}
  zombie: {prior_weight: 0.1}
bounds:
  min_alpha_beta: 0.1
  max_alpha_beta: 100
  min_shape_rate: 0.01
  max_shape_rate: 100
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	p, src, err := LoadPriors(path)
	if err != nil {
		t.Fatalf("LoadPriors: %v", err)
	}
	if src.Kind != "flag" {
		t.Errorf("src.Kind = %q, want flag", src.Kind)
	}
	if p.ByClass[ClassUseful].PriorWeight != 0.6 {
		t.Errorf("PriorWeight = %v, want 0.6", p.ByClass[ClassUseful].PriorWeight)
	}
}
