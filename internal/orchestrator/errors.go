package orchestrator

import (
	"errors"
	"fmt"
)

// ErrTurnProcessingFailed matches every error returned by ProcessTurn.
var ErrTurnProcessingFailed = errors.New("turn processing failed")

// Stage names where in the pipeline a turn failed.
type Stage string

const (
	StageInput    Stage = "input"
	StageClassify Stage = "classify"
	StageExtract  Stage = "extract"
	StageClarify  Stage = "clarify"
	StageConverse Stage = "converse"
)

// TurnError wraps any failure inside a turn.
type TurnError struct {
	Stage Stage
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn processing failed at %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Is makes every TurnError match ErrTurnProcessingFailed.
func (e *TurnError) Is(target error) bool {
	return target == ErrTurnProcessingFailed
}

func stageError(stage Stage, err error) error {
	var te *TurnError
	if errors.As(err, &te) {
		return te
	}
	return &TurnError{Stage: stage, Err: err}
}
