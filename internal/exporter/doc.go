// Package exporter writes stored forecasts to CSV or to an Excel workbook.
package exporter
