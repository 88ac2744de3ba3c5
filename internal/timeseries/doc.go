// Package timeseries holds the data model shared by the forecasting pipeline:
// long-form observations as they come from FRED and from storage, the wide
// date-indexed Dataset the analysis stages operate on, and the conversions
// between the two (Pivot and Melt).
//
// A Dataset keeps its values in a gonum *mat.Dense with one row per calendar
// day. Missing cells are NaN until FillGaps or a harmonization step removes
// them.
package timeseries
