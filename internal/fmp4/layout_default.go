//go:build !segmenterdebug

package fmp4

const panicOnLayoutViolation = false
