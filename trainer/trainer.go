package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyctc"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"

	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/model"
	"github.com/ieee0824/ctc-finetune/processor"
)

// LockFileName guards an output directory against concurrent runs.
const LockFileName = ".ctctrain.lock"

// ErrLocked is returned when another run holds the output directory.
var ErrLocked = errors.New("trainer: output directory is in use by another run")

// Recorder receives every logged entry, e.g. to persist run history.
type Recorder interface {
	Record(ctx context.Context, runID string, e Entry) error
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithRecorder forwards logged entries to r.
func WithRecorder(r Recorder) Option {
	return func(t *Trainer) { t.recorder = r }
}

// WithRunID sets the run identifier. A random one is used otherwise.
func WithRunID(id string) Option {
	return func(t *Trainer) { t.runID = id }
}

// Trainer owns one fine-tuning run.
type Trainer struct {
	Model     *model.Model
	Processor *processor.Processor
	Args      Arguments
	State     State

	logger   *slog.Logger
	recorder Recorder
	runID    string

	params    []*anydiff.Var
	lastCost  anyvec.Numeric
	optimizer *AdamW
	schedule  Schedule
	stepsPer  int

	handled   int
	lastSaved int
	lossSum   float64
	lossCount int
	err       error
}

// New creates a trainer for m. The processor is saved into every checkpoint
// next to the weights.
func New(m *model.Model, proc *processor.Processor, args Arguments, opts ...Option) (*Trainer, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	t := &Trainer{Model: m, Processor: proc, Args: args, logger: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	if t.runID == "" {
		t.runID = uuid.NewString()
	}
	return t, nil
}

// Train runs until Epochs passes over train are done or ctx is canceled.
// eval may be empty, in which case no evaluation happens. On cancellation a
// checkpoint of the last completed step is written and ctx.Err() returned.
func (t *Trainer) Train(ctx context.Context, train, eval []dataset.Processed) (*State, error) {
	if err := os.MkdirAll(t.Args.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	lock := flock.New(filepath.Join(t.Args.OutputDir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			t.logger.Warn("release output lock failed", "error", err)
		}
	}()

	train, dropped := alignable(train, t.Model.Config)
	if len(dropped) > 0 {
		t.logger.Warn("skipping utterances too short for their transcripts", "count", len(dropped))
	}
	if len(train) == 0 {
		return nil, errors.New("trainer: no trainable examples")
	}

	t.stepsPer = (len(train) + t.Args.BatchSize - 1) / t.Args.BatchSize
	t.State = State{RunID: t.runID, MaxSteps: t.stepsPer * t.Args.Epochs}
	t.setup()
	if t.Args.ResumeFrom != "" {
		if err := t.resume(t.Args.ResumeFrom); err != nil {
			return nil, err
		}
	}
	t.handled = t.State.GlobalStep
	t.lastSaved = t.State.GlobalStep

	t.logger.Info("training started",
		"run_id", t.State.RunID,
		"examples", len(train),
		"eval_examples", len(eval),
		"parameters", t.Model.NumParameters(),
		"max_steps", t.State.MaxSteps,
		"start_step", t.State.GlobalStep,
	)

	samples := &sampleList{items: train}
	if t.Args.GroupByLength {
		samples.megaBatch = megaBatchFactor * t.Args.BatchSize
	}
	sgd := &anysgd.SGD{
		Fetcher:      &fetcher{model: t.Model, proc: t.Processor, pad: t.Args.PaddingOptions()},
		Gradienter:   t,
		Transformer:  t.optimizer,
		Samples:      samples,
		Rater:        &stepRater{schedule: t.schedule, step: &t.State.GlobalStep},
		BatchSize:    t.Args.BatchSize,
		NumProcessed: t.State.GlobalStep * t.Args.BatchSize,
	}

	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(done) }) }
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	sgd.StatusFunc = func(anysgd.Batch) {
		if t.State.GlobalStep > t.handled {
			t.afterStep(ctx, eval)
		}
		if t.err != nil || t.State.GlobalStep >= t.State.MaxSteps {
			stop()
		}
	}
	runErr := sgd.Run(done)
	stop()
	if runErr != nil {
		return &t.State, fmt.Errorf("train: %w", runErr)
	}
	if t.State.GlobalStep > t.handled && t.err == nil {
		t.afterStep(ctx, eval)
	}
	if t.err != nil {
		return &t.State, t.err
	}

	if err := ctx.Err(); err != nil {
		if t.State.GlobalStep > t.lastSaved {
			if serr := t.checkpoint(); serr != nil {
				return &t.State, errors.Join(err, serr)
			}
		}
		t.logger.Info("training interrupted", "step", t.State.GlobalStep)
		return &t.State, err
	}

	if err := SaveCheckpoint(t.Args.OutputDir, t.Model, t.Processor, nil, &t.State); err != nil {
		return &t.State, err
	}
	t.logger.Info("training finished", "step", t.State.GlobalStep, "output_dir", t.Args.OutputDir)
	return &t.State, nil
}

func (t *Trainer) setup() {
	t.params = t.Model.Parameters()
	t.lastCost = nil
	t.optimizer = NewAdamW(t.params, t.Args.WeightDecay, t.Model.BiasParameters()...)
	t.schedule = Schedule{Peak: t.Args.LearningRate, Warmup: t.Args.WarmupSteps, Total: t.State.MaxSteps}
}

// resume restores weights, optimizer moments and progress from a checkpoint.
func (t *Trainer) resume(dir string) error {
	st, err := LoadState(dir)
	if err != nil {
		return err
	}
	m, err := model.Load(filepath.Join(dir, model.FileName))
	if err != nil {
		return err
	}
	if m.Config != t.Model.Config {
		return fmt.Errorf("resume %s: model config differs from the current run", dir)
	}
	m.FreezeFeatureEncoder = t.Model.FreezeFeatureEncoder
	t.Model = m
	t.setup()
	if data, err := os.ReadFile(filepath.Join(dir, OptimizerFileName)); err == nil {
		if err := t.optimizer.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("resume %s: %w", dir, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("resume %s: %w", dir, err)
	}

	maxSteps := t.State.MaxSteps
	t.State = *st
	t.State.MaxSteps = maxSteps
	if t.State.RunID == "" {
		t.State.RunID = t.runID
	}
	t.runID = t.State.RunID
	t.logger.Info("resumed from checkpoint", "checkpoint", dir, "step", st.GlobalStep)
	return nil
}

// Gradient counts the update and computes the gradient of the batch's
// length-normalized CTC loss. anysgd applies the update right after it
// returns.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	t.State.GlobalStep++
	batch := b.(*anyctc.Batch)
	grad := anydiff.NewGrad(t.params...)
	cost := meanCost(t.Model.Apply(batch.Inputs), batch.Labels)
	t.lastCost = anyvec.Sum(cost.Output())

	c := cost.Output().Creator()
	cost.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), grad)
	return grad
}

func (t *Trainer) afterStep(ctx context.Context, eval []dataset.Processed) {
	step := t.State.GlobalStep
	t.handled = step
	t.State.Epoch = float64(step) / float64(t.stepsPer)

	if t.lastCost != nil {
		t.lossSum += t.Model.Creator().Float64(t.lastCost)
		t.lossCount++
	}

	if step%t.Args.LoggingSteps == 0 && t.lossCount > 0 {
		loss := t.lossSum / float64(t.lossCount)
		lr := t.schedule.At(step)
		t.logger.Info("train", "step", step, "epoch", fmt.Sprintf("%.2f", t.State.Epoch), "loss", loss, "learning_rate", lr)
		t.record(ctx, Entry{Step: step, Epoch: t.State.Epoch, Metrics: map[string]float64{
			"loss":          loss,
			"learning_rate": lr,
		}})
		t.lossSum, t.lossCount = 0, 0
	}

	if len(eval) > 0 && step%t.Args.EvalSteps == 0 {
		res, err := Evaluate(ctx, t.Model, t.Processor, eval, t.Args.EvalBatchSize, t.Args.PaddingOptions())
		if err != nil {
			if ctx.Err() == nil {
				t.err = err
			}
			return
		}
		t.logger.Info("eval", "step", step, "eval_loss", res.Loss, "eval_wer", res.WER, "samples", res.Samples)
		t.record(ctx, Entry{Step: step, Epoch: t.State.Epoch, Metrics: map[string]float64{
			"eval_loss": res.Loss,
			"eval_wer":  res.WER,
		}})
		if t.State.BestWER == nil || res.WER < *t.State.BestWER {
			wer := res.WER
			t.State.BestWER = &wer
			t.State.BestCheckpoint = ""
			if step%t.Args.SaveSteps == 0 {
				t.State.BestCheckpoint = checkpointDir(t.Args.OutputDir, step)
			}
		}
	}

	if step%t.Args.SaveSteps == 0 {
		if err := t.checkpoint(); err != nil {
			t.err = err
		}
	}
}

func (t *Trainer) checkpoint() error {
	dir := checkpointDir(t.Args.OutputDir, t.State.GlobalStep)
	if err := SaveCheckpoint(dir, t.Model, t.Processor, t.optimizer, &t.State); err != nil {
		return err
	}
	t.lastSaved = t.State.GlobalStep
	t.logger.Info("checkpoint saved", "path", dir)
	removed, err := RotateCheckpoints(t.Args.OutputDir, t.Args.SaveTotalLimit, t.State.BestCheckpoint)
	for _, r := range removed {
		t.logger.Debug("checkpoint removed", "path", r)
	}
	return err
}

func (t *Trainer) record(ctx context.Context, e Entry) {
	t.State.LogHistory = append(t.State.LogHistory, e)
	if t.recorder == nil {
		return
	}
	if err := t.recorder.Record(ctx, t.State.RunID, e); err != nil {
		t.logger.Warn("record history failed", "step", e.Step, "error", err)
	}
}
