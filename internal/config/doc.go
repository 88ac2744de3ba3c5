// Package config loads fredcast's configuration.
//
// Values come from three layers, later layers winning: the built-in defaults
// (Default), an optional YAML file, and FREDCAST_* environment variables.
// The pipeline section (series list, classification, analysis groups) is
// file-only; it is passed explicitly to the pipeline instead of living in
// package-level variables.
package config
