// Package pipeline orchestrates a forecasting run: retrieval, harmonization,
// persistence, and an independent analysis of every configured group.
//
// A group moves through a fixed sequence of stages (see Stages). A failure
// aborts only that group and is reported as a *GroupError naming the stage;
// the remaining groups still run.
package pipeline
