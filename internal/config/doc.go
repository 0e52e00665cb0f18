// Package config loads the controller parameters and wheel configuration.
//
// The node parameter file (YAML) is read with viper, every key can be
// overridden from the environment with the DDC_ prefix (DDC_BASELINE_M,
// DDC_HTTP_ADDR, DDC_TIMING_SAFETY_PERIOD, ...). Wheel files are plain YAML.
//
// Fatal problems (baseline, wheel files) are returned as errors. Values that
// have a documented fallback are replaced and reported in Params.Warnings.
package config
