// Package model implements the CTC acoustic model: a parameter-free log-mel
// feature encoder, a learned projection, a bidirectional LSTM context network
// and a log-softmax head over the character vocabulary.
package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"

	"github.com/ieee0824/ctc-finetune/feature"
)

const serializerType = "github.com/ieee0824/ctc-finetune/model.Model"

func init() {
	serializer.RegisterTypedDeserializer(serializerType, deserialize)
}

// Config describes the network shape.
type Config struct {
	Frontend      feature.FilterbankConfig `json:"frontend" toml:"frontend"`
	ProjectionDim int                      `json:"projection_dim" toml:"projection_dim"`
	HiddenSize    int                      `json:"hidden_size" toml:"hidden_size"`
	NumLayers     int                      `json:"num_layers" toml:"num_layers"`
	VocabSize     int                      `json:"vocab_size" toml:"vocab_size"`
}

// DefaultConfig returns a small two-layer network for vocabSize outputs.
func DefaultConfig(vocabSize int) Config {
	return Config{
		Frontend:      feature.DefaultFilterbankConfig(),
		ProjectionDim: 128,
		HiddenSize:    128,
		NumLayers:     2,
		VocabSize:     vocabSize,
	}
}

func (c Config) Validate() error {
	if err := c.Frontend.Validate(); err != nil {
		return err
	}
	if c.ProjectionDim <= 0 || c.HiddenSize <= 0 || c.NumLayers <= 0 {
		return fmt.Errorf("model: projection %d, hidden %d and layers %d must be positive",
			c.ProjectionDim, c.HiddenSize, c.NumLayers)
	}
	if c.VocabSize < 2 {
		return fmt.Errorf("model: vocab size %d too small", c.VocabSize)
	}
	return nil
}

// InputsToLogitsRatio is the number of input samples per output frame.
func (c Config) InputsToLogitsRatio() int {
	return int(c.Frontend.FrameShiftMs * float64(c.Frontend.SampleRate) / 1000)
}

// Model maps waveforms to per-frame log-probabilities. The last output index
// is the CTC blank.
type Model struct {
	Config     Config
	Projection *anynet.FC
	Context    []*anyrnn.Bidir
	Head       *anynet.FC

	// FreezeFeatureEncoder keeps the projection out of Parameters.
	FreezeFeatureEncoder bool

	frontend *feature.Filterbank
}

// New creates a randomly initialized model.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := creator()
	m := &Model{
		Config:     cfg,
		Projection: anynet.NewFC(c, cfg.Frontend.Dim(), cfg.ProjectionDim),
		Head:       anynet.NewFC(c, 2*cfg.HiddenSize, cfg.VocabSize),
	}
	in := cfg.ProjectionDim
	for i := 0; i < cfg.NumLayers; i++ {
		m.Context = append(m.Context, &anyrnn.Bidir{
			Forward:  anyrnn.NewLSTM(c, in, cfg.HiddenSize),
			Backward: anyrnn.NewLSTM(c, in, cfg.HiddenSize),
			Mixer:    anynet.ConcatMixer{},
		})
		in = 2 * cfg.HiddenSize
	}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) init() error {
	fb, err := feature.NewFilterbank(m.Config.Frontend)
	if err != nil {
		return err
	}
	m.frontend = fb
	return nil
}

func creator() anyvec.Creator { return anyvec32.CurrentCreator() }

// Creator returns the vector creator the model computes with.
func (m *Model) Creator() anyvec.Creator { return creator() }

// ReplaceHead swaps the output layer for a freshly initialized one with
// vocabSize outputs.
func (m *Model) ReplaceHead(vocabSize int) {
	m.Head = anynet.NewFC(creator(), 2*m.Config.HiddenSize, vocabSize)
	m.Config.VocabSize = vocabSize
}

// Parameters returns the trainable variables.
func (m *Model) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	if !m.FreezeFeatureEncoder {
		res = append(res, m.Projection.Parameters()...)
	}
	for _, b := range m.Context {
		res = append(res, b.Parameters()...)
	}
	return append(res, m.Head.Parameters()...)
}

// BiasParameters returns the trainable bias vectors and LSTM initial states,
// which optimizers leave out of weight decay.
func (m *Model) BiasParameters() []*anydiff.Var {
	var res []*anydiff.Var
	if !m.FreezeFeatureEncoder {
		res = append(res, m.Projection.Biases)
	}
	for _, b := range m.Context {
		for _, block := range []anyrnn.Block{b.Forward, b.Backward} {
			lstm, ok := block.(*anyrnn.LSTM)
			if !ok {
				continue
			}
			res = append(res, lstm.InitState)
			for _, g := range []*anyrnn.LSTMGate{lstm.InValue, lstm.In, lstm.Remember, lstm.Output} {
				res = append(res, g.Biases)
			}
		}
	}
	return append(res, m.Head.Biases)
}

// NumParameters counts trainable scalars.
func (m *Model) NumParameters() int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Vector.Len()
	}
	return n
}

// Features computes log-mel frames for each row. Rows are trimmed to
// lengths[i] samples when lengths is non-nil.
func (m *Model) Features(inputs [][]float32, lengths []int) anyseq.Seq {
	c := creator()
	seqs := make([][]anyvec.Vector, len(inputs))
	essentials.ConcurrentMap(0, len(inputs), func(i int) {
		row := inputs[i]
		if lengths != nil && lengths[i] < len(row) {
			row = row[:lengths[i]]
		}
		frames := m.frontend.Compute(row)
		vecs := make([]anyvec.Vector, len(frames))
		for t, f := range frames {
			vecs[t] = anyvec.Make(c, f)
		}
		seqs[i] = vecs
	})
	return anyseq.ConstSeqList(c, seqs)
}

// Apply maps feature frames to log-probabilities over the vocabulary.
func (m *Model) Apply(in anyseq.Seq) anyseq.Seq {
	out := anyseq.Map(in, func(v anydiff.Res, n int) anydiff.Res {
		return anynet.Tanh.Apply(m.Projection.Apply(v, n), n)
	})
	for _, b := range m.Context {
		out = b.Apply(out)
	}
	return anyseq.Map(out, func(v anydiff.Res, n int) anydiff.Res {
		return anynet.LogSoftmax.Apply(m.Head.Apply(v, n), n)
	})
}

// LogProbs runs the model and returns [row][frame][vocab] log-probabilities.
func (m *Model) LogProbs(inputs [][]float32, lengths []int) [][][]float64 {
	out := m.Apply(m.Features(inputs, lengths))
	return SeqToFloats(out)
}

// SeqToFloats converts a sequence batch to nested float slices.
func SeqToFloats(s anyseq.Seq) [][][]float64 {
	c := s.Creator()
	seqs := anyseq.SeparateSeqs(s.Output())
	res := make([][][]float64, len(seqs))
	for i, seq := range seqs {
		res[i] = make([][]float64, len(seq))
		for t, v := range seq {
			res[i][t] = c.Float64Slice(v.Data())
		}
	}
	return res
}

// SerializerType returns the unique ID used to serialize a Model.
func (m *Model) SerializerType() string { return serializerType }

// Serialize encodes the configuration and all weights, frozen ones included.
func (m *Model) Serialize() ([]byte, error) {
	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return nil, err
	}
	context := make([]serializer.Serializer, len(m.Context))
	for i, b := range m.Context {
		context[i] = b
	}
	return serializer.SerializeAny(cfg, m.Projection, context, m.Head)
}

func deserialize(d []byte) (*Model, error) {
	var cfgData []byte
	var context []serializer.Serializer
	m := &Model{}
	if err := serializer.DeserializeAny(d, &cfgData, &m.Projection, &context, &m.Head); err != nil {
		return nil, essentials.AddCtx("deserialize model", err)
	}
	if err := json.Unmarshal(cfgData, &m.Config); err != nil {
		return nil, essentials.AddCtx("deserialize model", err)
	}
	for _, obj := range context {
		b, ok := obj.(*anyrnn.Bidir)
		if !ok {
			return nil, fmt.Errorf("deserialize model: unexpected context layer %T", obj)
		}
		m.Context = append(m.Context, b)
	}
	if len(m.Context) != m.Config.NumLayers {
		return nil, errors.New("deserialize model: layer count does not match config")
	}
	if m.Head.OutCount != m.Config.VocabSize {
		return nil, errors.New("deserialize model: head size does not match config")
	}
	if err := m.init(); err != nil {
		return nil, essentials.AddCtx("deserialize model", err)
	}
	return m, nil
}
