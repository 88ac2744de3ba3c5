package pipeline

import "fmt"

// Stage names one step of the per-group analysis.
type Stage string

const (
	StageSelect           Stage = "select"
	StageTestStationarity Stage = "test_stationarity"
	StageDifference       Stage = "difference"
	StageSelectRankAndLag Stage = "select_rank_and_lag"
	StageFit              Stage = "fit"
	StageForecast         Stage = "forecast"
	StageInverseTransform Stage = "inverse_transform"
	StageReshape          Stage = "reshape"
	StageTag              Stage = "tag"
	StagePersist          Stage = "persist"
)

// Stages lists the per-group stages in execution order.
var Stages = []Stage{
	StageSelect, StageTestStationarity, StageDifference, StageSelectRankAndLag, StageFit,
	StageForecast, StageInverseTransform, StageReshape, StageTag, StagePersist,
}

// GroupError reports the stage at which an analysis group failed.
type GroupError struct {
	Group string
	Stage Stage
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %s: %s: %v", e.Group, e.Stage, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }
