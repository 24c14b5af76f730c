// Package finetune wires the CTC fine-tuning stages together: transcript
// cleanup, vocabulary construction, preprocessing, training and greedy
// transcription.
package finetune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/ieee0824/ctc-finetune/audio"
	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/metric"
	"github.com/ieee0824/ctc-finetune/model"
	"github.com/ieee0824/ctc-finetune/processor"
	"github.com/ieee0824/ctc-finetune/text"
	"github.com/ieee0824/ctc-finetune/trainer"
	"github.com/ieee0824/ctc-finetune/vocab"
)

// Pipeline runs a fine-tuning job end to end.
type Pipeline struct {
	Args  trainer.Arguments
	Shape model.Config // VocabSize is filled in from the built vocabulary

	Pretrained           string
	ModelsDir            string
	FreezeFeatureEncoder bool
	MaxInputSeconds      float64
	Workers              int

	logger   *slog.Logger
	progress func(stage string, total int) func()
	trainOpt []trainer.Option
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModelShape sets the network shape used when no pretrained model is given.
func WithModelShape(cfg model.Config) Option {
	return func(p *Pipeline) { p.Shape = cfg }
}

// WithPretrained starts from a pretrained model resolved against modelsDir.
func WithPretrained(identifier, modelsDir string) Option {
	return func(p *Pipeline) {
		p.Pretrained = identifier
		p.ModelsDir = modelsDir
	}
}

// WithFreezeFeatureEncoder keeps the feature projection fixed during training.
func WithFreezeFeatureEncoder(freeze bool) Option {
	return func(p *Pipeline) { p.FreezeFeatureEncoder = freeze }
}

// WithMaxInputSeconds sets the training duration filter.
func WithMaxInputSeconds(seconds float64) Option {
	return func(p *Pipeline) { p.MaxInputSeconds = seconds }
}

// WithWorkers sets the preprocessing worker count.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.Workers = n }
}

// WithLogger sets the logger for the pipeline and the trainer.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithProgress installs a progress reporter. start is called once per stage
// with the number of items and returns a function called per finished item.
func WithProgress(start func(stage string, total int) func()) Option {
	return func(p *Pipeline) { p.progress = start }
}

// WithTrainerOptions forwards options to the trainer.
func WithTrainerOptions(opts ...trainer.Option) Option {
	return func(p *Pipeline) { p.trainOpt = append(p.trainOpt, opts...) }
}

// New returns a pipeline writing into args.OutputDir.
func New(args trainer.Arguments, opts ...Option) *Pipeline {
	p := &Pipeline{
		Args:                 args,
		Shape:                model.DefaultConfig(0),
		FreezeFeatureEncoder: true,
		MaxInputSeconds:      4,
		Workers:              4,
		logger:               slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Prepared is the output of Prepare: everything Train needs.
type Prepared struct {
	Vocab     *vocab.Vocabulary
	Processor *processor.Processor
	Model     *model.Model
	Train     []dataset.Processed
	Test      []dataset.Processed
	// Filtered counts training examples dropped by the duration filter.
	Filtered int
}

// Prepare cleans the transcripts of both splits in place, builds and saves
// the vocabulary, builds the model and preprocesses the audio. Only the
// training split is filtered by duration.
func (p *Pipeline) Prepare(ctx context.Context, corpus *dataset.Corpus) (*Prepared, error) {
	if len(corpus.Train) == 0 {
		return nil, errors.New("finetune: empty training split")
	}
	dataset.MapText(corpus.Train, text.Normalize)
	dataset.MapText(corpus.Test, text.Normalize)

	v := vocab.Build(dataset.Texts(corpus.Train), dataset.Texts(corpus.Test))
	if err := os.MkdirAll(p.Args.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := v.Save(filepath.Join(p.Args.OutputDir, vocab.FileName)); err != nil {
		return nil, err
	}
	p.logger.Info("vocabulary built", "size", v.Len(), "path", filepath.Join(p.Args.OutputDir, vocab.FileName))

	m, err := p.Model(v.Len())
	if err != nil {
		return nil, err
	}
	proc := processor.New(v)
	proc.Extractor.SamplingRate = m.Config.Frontend.SampleRate

	train, err := p.preprocess(ctx, "train", corpus.Train, proc)
	if err != nil {
		return nil, err
	}
	test, err := p.preprocess(ctx, "test", corpus.Test, proc)
	if err != nil {
		return nil, err
	}
	kept := dataset.FilterByDuration(train, p.MaxInputSeconds, proc.SamplingRate())
	p.logger.Info("preprocessing finished",
		"train", len(kept),
		"train_hours", dataset.TotalSeconds(kept, proc.SamplingRate())/3600,
		"filtered", len(train)-len(kept),
		"test", len(test),
	)
	return &Prepared{
		Vocab:     v,
		Processor: proc,
		Model:     m,
		Train:     kept,
		Test:      test,
		Filtered:  len(train) - len(kept),
	}, nil
}

func (p *Pipeline) preprocess(ctx context.Context, stage string, examples []dataset.Example, proc *processor.Processor) ([]dataset.Processed, error) {
	var tick func()
	if p.progress != nil && len(examples) > 0 {
		tick = p.progress(stage, len(examples))
	}
	out, err := dataset.Preprocess(ctx, examples, proc, p.Workers, tick)
	if err != nil {
		return nil, fmt.Errorf("preprocess %s: %w", stage, err)
	}
	return out, nil
}

// Model loads the pretrained model, or creates a fresh one, with a head of
// vocabSize outputs.
func (p *Pipeline) Model(vocabSize int) (*model.Model, error) {
	var (
		m   *model.Model
		err error
	)
	if p.Pretrained != "" {
		var replaced bool
		m, replaced, err = model.LoadPretrained(p.Pretrained, p.ModelsDir, vocabSize)
		if err != nil {
			return nil, err
		}
		p.logger.Info("pretrained model loaded", "model", p.Pretrained, "head_replaced", replaced)
	} else {
		cfg := p.Shape
		cfg.VocabSize = vocabSize
		if m, err = model.New(cfg); err != nil {
			return nil, err
		}
		p.logger.Info("model initialized", "layers", cfg.NumLayers, "hidden", cfg.HiddenSize)
	}
	m.FreezeFeatureEncoder = p.FreezeFeatureEncoder
	return m, nil
}

// Train fine-tunes prep.Model, evaluating on prep.Test.
func (p *Pipeline) Train(ctx context.Context, prep *Prepared) (*trainer.State, error) {
	opts := append([]trainer.Option{trainer.WithLogger(p.logger)}, p.trainOpt...)
	t, err := trainer.New(prep.Model, prep.Processor, p.Args, opts...)
	if err != nil {
		return nil, err
	}
	return t.Train(ctx, prep.Train, prep.Test)
}

// Run prepares corpus and trains on it.
func (p *Pipeline) Run(ctx context.Context, corpus *dataset.Corpus) (*trainer.State, error) {
	prep, err := p.Prepare(ctx, corpus)
	if err != nil {
		return nil, err
	}
	return p.Train(ctx, prep)
}

// Transcriber decodes audio with a trained model.
type Transcriber struct {
	Model     *model.Model
	Processor *processor.Processor
}

// LoadTranscriber reads model.bin and the processor files from dir, which is
// a checkpoint or a final output directory.
func LoadTranscriber(dir string) (*Transcriber, error) {
	m, err := model.Load(filepath.Join(dir, model.FileName))
	if err != nil {
		return nil, err
	}
	proc, err := processor.Load(dir)
	if err != nil {
		return nil, err
	}
	if m.Config.VocabSize != proc.Tokenizer.Vocab.Len() {
		return nil, fmt.Errorf("finetune: model has %d outputs but vocabulary %d", m.Config.VocabSize, proc.Tokenizer.Vocab.Len())
	}
	return &Transcriber{Model: m, Processor: proc}, nil
}

// Transcription is a decoded utterance.
type Transcription struct {
	Text string
	// Offsets holds, for each non-space character of Text, the time in
	// seconds of the output frame that emitted it.
	Offsets []float64
	// Duration is the length of the input audio in seconds.
	Duration float64
}

// TranscribeFile reads an audio file and decodes it.
func (t *Transcriber) TranscribeFile(path string) (*Transcription, error) {
	samples, h, err := audio.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	res, err := t.Transcribe(samples, h.SampleRate)
	if err != nil {
		return nil, err
	}
	res.Duration = h.Duration()
	return res, nil
}

// TranscribeSamples returns the transcript of samples recorded at rate.
func (t *Transcriber) TranscribeSamples(samples []float64, rate int) (string, error) {
	res, err := t.Transcribe(samples, rate)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Transcribe runs greedy CTC decoding over samples recorded at rate.
func (t *Transcriber) Transcribe(samples []float64, rate int) (*Transcription, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("finetune: invalid sampling rate %d", rate)
	}
	want := t.Processor.SamplingRate()
	duration := float64(len(samples)) / float64(rate)
	if rate != want {
		samples = audio.Resample(samples, rate, want)
	}
	inputs, err := t.Processor.Extractor.Extract(samples, want)
	if err != nil {
		return nil, err
	}
	logProbs := t.Model.LogProbs([][]float32{inputs}, []int{len(inputs)})
	res := t.decode(metric.ArgMax(logProbs)[0])
	res.Duration = duration
	return res, nil
}

// decode collapses per-frame ids and records the frame time of every emitted
// character.
func (t *Transcriber) decode(ids []int) *Transcription {
	tok := t.Processor.Tokenizer
	cfg := t.Model.Config
	frame := float64(cfg.InputsToLogitsRatio()) / float64(cfg.Frontend.SampleRate)
	res := &Transcription{Text: tok.Decode(ids, true)}
	pad := tok.PadID()
	for i, id := range ids {
		if id == pad || (i > 0 && ids[i-1] == id) {
			continue
		}
		for rangeIdx := 0; rangeIdx < utf8.RuneCountInString(tok.Decode([]int{id}, false)); rangeIdx++ {
			res.Offsets = append(res.Offsets, float64(i)*frame)
		}
	}
	return res
}
