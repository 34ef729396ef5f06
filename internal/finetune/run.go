package finetune

import (
	"context"
	"sync"

	"imaged/pkg/types"
)

// Run tracks the lifecycle of one fine-tuning run. State transitions follow
// created -> running -> {completed, failed, cancelled}; terminal states
// never transition again.
type Run struct {
	ID string

	mu         sync.Mutex
	state      types.RunState
	baseModel  string
	epochs     int
	epoch      int // last completed epoch, -1 before the first
	trainLoss  float64
	valLoss    float64
	lastCkpt   string
	bestCkpt   string
	bestVal    float64
	promotedAs string
	errMsg     string
	cancel     context.CancelFunc
}

func newRun(id, baseModel string, epochs int, cancel context.CancelFunc) *Run {
	return &Run{
		ID:        id,
		state:     types.RunCreated,
		baseModel: baseModel,
		epochs:    epochs,
		epoch:     -1,
		cancel:    cancel,
	}
}

// transition moves the run to the target state, rejecting any move out of a
// terminal state.
func (r *Run) transition(to types.RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return runStateError{from: string(r.state), to: string(to)}
	}
	r.state = to
	return nil
}

// Cancel requests cancellation. The run stops at the next batch boundary
// and transitions to cancelled; the most recent checkpoint is preserved.
// Cancelling a terminal run is an invalid transition.
func (r *Run) Cancel() error {
	r.mu.Lock()
	if r.state.Terminal() {
		from := string(r.state)
		r.mu.Unlock()
		return runStateError{from: from, to: string(types.RunCancelled)}
	}
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// State returns the current lifecycle state.
func (r *Run) State() types.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns a snapshot for the API.
func (r *Run) Status() types.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.RunStatus{
		ID:             r.ID,
		Model:          r.baseModel,
		State:          r.state,
		Epoch:          r.epoch,
		Epochs:         r.epochs,
		TrainLoss:      r.trainLoss,
		ValLoss:        r.valLoss,
		LastCheckpoint: r.lastCkpt,
		BestCheckpoint: r.bestCkpt,
		PromotedAs:     r.promotedAs,
		Error:          r.errMsg,
	}
}

// LastCheckpoint returns the most recent checkpoint directory, if any.
func (r *Run) LastCheckpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCkpt
}

// BestCheckpoint returns the lowest-validation-loss checkpoint directory.
func (r *Run) BestCheckpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bestCkpt
}

// recordEpoch updates the per-epoch counters after a completed epoch.
func (r *Run) recordEpoch(epoch int, trainLoss, valLoss float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch = epoch
	r.trainLoss = trainLoss
	r.valLoss = valLoss
}

// recordCheckpoint updates checkpoint references, tracking the best by
// validation loss.
func (r *Run) recordCheckpoint(dir string, valLoss float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCkpt = dir
	if r.bestCkpt == "" || valLoss < r.bestVal {
		r.bestCkpt = dir
		r.bestVal = valLoss
	}
}

func (r *Run) fail(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Terminal() {
		r.state = types.RunFailed
		r.errMsg = msg
	}
}

func (r *Run) finish(state types.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Terminal() {
		r.state = state
	}
}

func (r *Run) setPromoted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promotedAs = id
}
