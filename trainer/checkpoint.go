package trainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ieee0824/ctc-finetune/model"
	"github.com/ieee0824/ctc-finetune/processor"
)

const (
	checkpointPrefix = "checkpoint-"
	// StateFileName holds the serialized State of a checkpoint.
	StateFileName = "trainer_state.json"
	// OptimizerFileName holds the AdamW moments of a checkpoint.
	OptimizerFileName = "optimizer.bin"
)

// ErrNoCheckpoint is returned when an output directory holds no checkpoints.
var ErrNoCheckpoint = errors.New("trainer: no checkpoint found")

// Entry is one logged point of a run.
type Entry struct {
	Step    int                `json:"step"`
	Epoch   float64            `json:"epoch"`
	Metrics map[string]float64 `json:"metrics"`
}

// State is the resumable progress of a run.
type State struct {
	RunID          string   `json:"run_id"`
	GlobalStep     int      `json:"global_step"`
	MaxSteps       int      `json:"max_steps"`
	Epoch          float64  `json:"epoch"`
	BestWER        *float64 `json:"best_wer,omitempty"`
	BestCheckpoint string   `json:"best_checkpoint,omitempty"`
	LogHistory     []Entry  `json:"log_history"`
}

// Checkpoint is a checkpoint directory and the step it was taken at.
type Checkpoint struct {
	Step int
	Path string
}

// SaveCheckpoint writes dir/model.bin, the processor files, the optimizer
// state when opt is non-nil and trainer_state.json.
func SaveCheckpoint(dir string, m *model.Model, proc *processor.Processor, opt *AdamW, st *State) error {
	if err := proc.Save(dir); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := m.Save(filepath.Join(dir, model.FileName)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if opt != nil {
		data, err := opt.MarshalBinary()
		if err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, OptimizerFileName), data, 0o644); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, StateFileName), data, 0o644); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadState reads trainer_state.json from a checkpoint directory.
func LoadState(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFileName))
	if err != nil {
		return nil, fmt.Errorf("load trainer state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("load trainer state: %w", err)
	}
	return &st, nil
}

func checkpointDir(outputDir string, step int) string {
	return filepath.Join(outputDir, checkpointPrefix+strconv.Itoa(step))
}

// ListCheckpoints returns the checkpoints under outputDir, oldest first.
func ListCheckpoints(outputDir string) ([]Checkpoint, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var out []Checkpoint
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), checkpointPrefix) {
			continue
		}
		step, err := strconv.Atoi(strings.TrimPrefix(e.Name(), checkpointPrefix))
		if err != nil {
			continue
		}
		out = append(out, Checkpoint{Step: step, Path: filepath.Join(outputDir, e.Name())})
	}
	slices.SortFunc(out, func(a, b Checkpoint) int { return a.Step - b.Step })
	return out, nil
}

// LatestCheckpoint returns the newest checkpoint directory under outputDir.
func LatestCheckpoint(outputDir string) (string, error) {
	cps, err := ListCheckpoints(outputDir)
	if err != nil {
		return "", err
	}
	if len(cps) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, outputDir)
	}
	return cps[len(cps)-1].Path, nil
}

// RotateCheckpoints removes the oldest checkpoints so that at most limit
// remain. A limit of 0 keeps everything. The newest checkpoint and keep are
// never removed, so up to limit+1 may survive.
func RotateCheckpoints(outputDir string, limit int, keep string) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	cps, err := ListCheckpoints(outputDir)
	if err != nil {
		return nil, err
	}
	var removed []string
	excess := len(cps) - limit
	for _, cp := range cps[:max(0, len(cps)-1)] {
		if excess <= 0 {
			break
		}
		if cp.Path == keep {
			continue
		}
		if err := os.RemoveAll(cp.Path); err != nil {
			return removed, fmt.Errorf("rotate checkpoints: %w", err)
		}
		removed = append(removed, cp.Path)
		excess--
	}
	return removed, nil
}
