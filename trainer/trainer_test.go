package trainer

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofrs/flock"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyctc"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"

	"github.com/ieee0824/ctc-finetune/collate"
	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/model"
	"github.com/ieee0824/ctc-finetune/padding"
	"github.com/ieee0824/ctc-finetune/processor"
	"github.com/ieee0824/ctc-finetune/vocab"
)

func TestScheduleAt(t *testing.T) {
	s := Schedule{Peak: 1e-4, Warmup: 10, Total: 110}
	tests := []struct {
		step int
		want float64
	}{
		{0, 0},
		{5, 5e-5},
		{10, 1e-4},
		{60, 5e-5},
		{110, 0},
		{200, 0},
	}
	for _, tt := range tests {
		if got := s.At(tt.step); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("At(%d) = %g, want %g", tt.step, got, tt.want)
		}
	}
	if got := (Schedule{Peak: 1, Total: 4}).At(0); got != 1 {
		t.Errorf("no warmup At(0) = %g, want 1", got)
	}
}

func TestAdamWDecaysWithZeroGradient(t *testing.T) {
	cr := anyvec32.CurrentCreator()
	v := anydiff.NewVar(anyvec.Make(cr, []float64{1, -2}))
	opt := NewAdamW([]*anydiff.Var{v}, 0.1)
	g := anydiff.NewGrad(v)
	out := opt.Transform(g)
	got := cr.Float64Slice(out[v].Data())
	if math.Abs(got[0]-0.1) > 1e-6 || math.Abs(got[1]+0.2) > 1e-6 {
		t.Errorf("transformed = %v, want [0.1 -0.2]", got)
	}
}

func TestAdamWSkipsNoDecayVars(t *testing.T) {
	cr := anyvec32.CurrentCreator()
	w := anydiff.NewVar(anyvec.Make(cr, []float64{1, -2}))
	bias := anydiff.NewVar(anyvec.Make(cr, []float64{3}))
	opt := NewAdamW([]*anydiff.Var{w, bias}, 0.1, bias)
	out := opt.Transform(anydiff.NewGrad(w, bias))
	if got := cr.Float64Slice(out[bias].Data()); got[0] != 0 {
		t.Errorf("bias update = %v, want 0", got)
	}
	if got := cr.Float64Slice(out[w].Data()); math.Abs(got[0]-0.1) > 1e-6 {
		t.Errorf("weight update = %v, want decay", got)
	}
}

func TestClipScale(t *testing.T) {
	cr := anyvec32.CurrentCreator()
	a := anydiff.NewVar(anyvec.Make(cr, []float64{0, 0}))
	b := anydiff.NewVar(anyvec.Make(cr, []float64{0}))
	g := anydiff.Grad{
		a: anyvec.Make(cr, []float64{3, 0}),
		b: anyvec.Make(cr, []float64{4}),
	}
	tests := []struct {
		maxNorm float64
		want    float64
	}{
		{1, 0.2},
		{5, 1},
		{10, 1},
		{0, 1},
	}
	for _, tt := range tests {
		if got := clipScale(g, tt.maxNorm); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("clipScale(max %g) = %g, want %g", tt.maxNorm, got, tt.want)
		}
	}
}

func TestAdamWMarshalRestoresMoments(t *testing.T) {
	cr := anyvec32.CurrentCreator()
	v := anydiff.NewVar(anyvec.Make(cr, []float64{0.5, -0.5}))
	grad := func() anydiff.Grad {
		return anydiff.Grad{v: anyvec.Make(cr, []float64{0.3, -0.1})}
	}

	opt := NewAdamW([]*anydiff.Var{v}, 0.01)
	opt.Transform(grad())
	data, err := opt.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	restored := NewAdamW([]*anydiff.Var{v}, 0.01)
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	want := cr.Float64Slice(opt.Transform(grad())[v].Data())
	got := cr.Float64Slice(restored.Transform(grad())[v].Data())
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Fatalf("restored update = %v, want %v", got, want)
		}
	}

	if err := NewAdamW([]*anydiff.Var{v, v}, 0).UnmarshalBinary(data); err == nil {
		t.Error("expected error for a different variable list")
	}
}

func TestLengthWeights(t *testing.T) {
	got := lengthWeights([][]int{{1, 2}, {1, 2, 3, 4}, nil})
	want := []float64{1.0 / 6, 1.0 / 12, 1.0 / 3}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("lengthWeights = %v, want %v", got, want)
		}
	}
}

func TestMeanCostNormalizesByLabelLength(t *testing.T) {
	v := vocab.Build([]string{"ab "})
	proc := processor.New(v)
	m := tinyModel(t, v.Len())
	b, err := collate.Collate(syntheticSplit(proc, "ab", "abab"), proc, testArgs("x").PaddingOptions())
	if err != nil {
		t.Fatal(err)
	}
	in := ctcBatch(m, b)
	if len(in.Labels[0]) != 2 || len(in.Labels[1]) != 4 {
		t.Fatalf("label lengths = %d, %d", len(in.Labels[0]), len(in.Labels[1]))
	}
	out := m.Apply(in.Inputs)

	costs := anyctc.Cost(out, in.Labels).Output()
	per := costs.Creator().Float64Slice(costs.Data())
	want := (per[0]/2 + per[1]/4) / 2

	got := m.Creator().Float64(anyvec.Sum(meanCost(out, in.Labels).Output()))
	if math.Abs(got-want) > 1e-4*math.Max(1, math.Abs(want)) {
		t.Errorf("meanCost = %g, want %g", got, want)
	}
}

func TestMinFrames(t *testing.T) {
	tests := []struct {
		labels []int
		want   int
	}{
		{nil, 0},
		{[]int{1, 2, 3}, 3},
		{[]int{1, 1, 2, 2, 2}, 8},
	}
	for _, tt := range tests {
		if got := minFrames(tt.labels); got != tt.want {
			t.Errorf("minFrames(%v) = %d, want %d", tt.labels, got, tt.want)
		}
	}
}

func TestSampleListGroupsByLength(t *testing.T) {
	items := make([]dataset.Processed, 6)
	for i, n := range []int{1, 5, 3, 9, 2, 7} {
		items[i] = dataset.Processed{InputLength: n}
	}
	s := &sampleList{items: items, megaBatch: 3}
	s.PostShuffle()
	want := []int{5, 3, 1, 9, 7, 2}
	for i, it := range s.items {
		if it.InputLength != want[i] {
			t.Fatalf("order = %v, want %v", lengths(s.items), want)
		}
	}
	sub := s.Slice(1, 3).(*sampleList)
	sub.Swap(0, 1)
	if s.items[1].InputLength != 3 {
		t.Error("Slice shares storage with its parent")
	}
}

func lengths(items []dataset.Processed) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.InputLength
	}
	return out
}

func TestRotateCheckpoints(t *testing.T) {
	dir := t.TempDir()
	for _, step := range []int{500, 1000, 1500, 2000} {
		if err := os.MkdirAll(checkpointDir(dir, step), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "checkpoint-final"), 0o755); err != nil {
		t.Fatal(err)
	}
	removed, err := RotateCheckpoints(dir, 2, checkpointDir(dir, 500))
	if err != nil {
		t.Fatalf("RotateCheckpoints: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed = %v", removed)
	}
	cps, err := ListCheckpoints(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 || cps[0].Step != 500 || cps[1].Step != 2000 {
		t.Errorf("remaining = %+v", cps)
	}
	latest, err := LatestCheckpoint(dir)
	if err != nil || latest != checkpointDir(dir, 2000) {
		t.Errorf("LatestCheckpoint = %q, %v", latest, err)
	}
	if _, err := LatestCheckpoint(t.TempDir()); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("err = %v, want ErrNoCheckpoint", err)
	}
}

type memRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *memRecorder) Record(_ context.Context, _ string, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func tinyModel(t *testing.T, vocabSize int) *model.Model {
	t.Helper()
	cfg := model.DefaultConfig(vocabSize)
	cfg.Frontend.NumMel = 8
	cfg.ProjectionDim = 6
	cfg.HiddenSize = 4
	cfg.NumLayers = 1
	m, err := model.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	m.FreezeFeatureEncoder = true
	return m
}

func syntheticSplit(proc *processor.Processor, texts ...string) []dataset.Processed {
	out := make([]dataset.Processed, len(texts))
	for i, text := range texts {
		n := 3200 + 160*i
		in := make([]float32, n)
		for j := range in {
			in[j] = float32(math.Sin(float64(j)*0.05*float64(i+1)) * 0.5)
		}
		labels := proc.Tokenizer.Encode(text)
		out[i] = dataset.Processed{ID: text, InputValues: in, Labels: labels, InputLength: n}
	}
	return out
}

func testArgs(dir string) Arguments {
	args := DefaultArguments(dir)
	args.BatchSize = 2
	args.EvalBatchSize = 2
	args.Epochs = 2
	args.LoggingSteps = 2
	args.EvalSteps = 2
	args.SaveSteps = 2
	args.WarmupSteps = 1
	args.LearningRate = 1e-3
	return args
}

func TestTrainAndResume(t *testing.T) {
	v := vocab.Build([]string{"ab ba "})
	proc := processor.New(v)
	train := syntheticSplit(proc, "ab", "ba", "a b", "b a")
	eval := syntheticSplit(proc, "ab", "b")
	dir := t.TempDir()

	rec := &memRecorder{}
	tr, err := New(tinyModel(t, v.Len()), proc, testArgs(dir), WithRecorder(rec), WithRunID("run-1"))
	if err != nil {
		t.Fatal(err)
	}
	st, err := tr.Train(context.Background(), train, eval)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if st.GlobalStep != 4 || st.MaxSteps != 4 {
		t.Errorf("steps = %d/%d, want 4/4", st.GlobalStep, st.MaxSteps)
	}
	if st.BestWER == nil {
		t.Error("no eval recorded")
	}
	var sawLoss, sawWER bool
	for _, e := range rec.entries {
		if _, ok := e.Metrics["loss"]; ok {
			sawLoss = true
		}
		if _, ok := e.Metrics["eval_wer"]; ok {
			sawWER = true
		}
	}
	if !sawLoss || !sawWER || len(st.LogHistory) != len(rec.entries) {
		t.Errorf("history = %+v", rec.entries)
	}
	for _, name := range []string{model.FileName, vocab.FileName, StateFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("final output missing %s: %v", name, err)
		}
	}
	latest, err := LatestCheckpoint(dir)
	if err != nil {
		t.Fatal(err)
	}
	if latest != checkpointDir(dir, 4) {
		t.Errorf("latest = %s", latest)
	}
	if _, err := os.Stat(filepath.Join(latest, OptimizerFileName)); err != nil {
		t.Errorf("optimizer state missing: %v", err)
	}

	args := testArgs(dir)
	args.Epochs = 3
	args.ResumeFrom = latest
	tr2, err := New(tinyModel(t, v.Len()), proc, args)
	if err != nil {
		t.Fatal(err)
	}
	st2, err := tr2.Train(context.Background(), train, eval)
	if err != nil {
		t.Fatalf("resumed Train: %v", err)
	}
	if st2.GlobalStep != 6 || st2.RunID != "run-1" {
		t.Errorf("resumed step = %d run = %q", st2.GlobalStep, st2.RunID)
	}
	if len(st2.LogHistory) <= len(st.LogHistory) {
		t.Error("resumed run did not extend the log history")
	}
}

func TestTrainLocked(t *testing.T) {
	dir := t.TempDir()
	lock := flock.New(filepath.Join(dir, LockFileName))
	if ok, err := lock.TryLock(); !ok || err != nil {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer lock.Unlock()

	v := vocab.Build([]string{"ab "})
	proc := processor.New(v)
	tr, err := New(tinyModel(t, v.Len()), proc, testArgs(dir))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Train(context.Background(), syntheticSplit(proc, "ab"), nil); !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestTrainCanceled(t *testing.T) {
	v := vocab.Build([]string{"ab "})
	proc := processor.New(v)
	tr, err := New(tinyModel(t, v.Len()), proc, testArgs(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Train(ctx, syntheticSplit(proc, "ab", "ba"), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEvaluate(t *testing.T) {
	v := vocab.Build([]string{"ab "})
	proc := processor.New(v)
	m := tinyModel(t, v.Len())
	items := syntheticSplit(proc, "ab", "a b", "b")
	res, err := Evaluate(context.Background(), m, proc, items, 2, testArgs("x").PaddingOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Samples != 3 || len(res.Predictions) != 3 {
		t.Errorf("samples = %d predictions = %d", res.Samples, len(res.Predictions))
	}
	if res.References[1] != "a b" {
		t.Errorf("reference = %q", res.References[1])
	}
	if res.Loss <= 0 || res.WER < 0 {
		t.Errorf("loss = %f wer = %f", res.Loss, res.WER)
	}
	if _, err := Evaluate(context.Background(), m, proc, nil, 2, testArgs("x").PaddingOptions()); err == nil {
		t.Error("expected error for empty split")
	}
}

func TestEvaluateIgnoresMaxLength(t *testing.T) {
	v := vocab.Build([]string{"ab "})
	proc := processor.New(v)
	m := tinyModel(t, v.Len())
	// Every synthetic utterance is longer than 100 samples.
	pad := padding.Options{Strategy: padding.MaxLength, MaxLength: 100}
	res, err := Evaluate(context.Background(), m, proc, syntheticSplit(proc, "ab", "b"), 2, pad)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Samples != 2 {
		t.Errorf("samples = %d, want 2", res.Samples)
	}
}

func TestArgumentsValidate(t *testing.T) {
	if err := DefaultArguments("out").Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	bad := DefaultArguments("")
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty output dir")
	}
	bad = DefaultArguments("out")
	bad.LearningRate = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero learning rate")
	}
}
