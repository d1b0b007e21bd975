package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorRemoteUnavailable marks a fetch-level failure against the remote
// record source. It is fatal for the whole sync run, unlike per-record
// errors which are collected and skipped.
var ErrorRemoteUnavailable = errors.New("remote source unavailable")

// ErrorRelinkInProgress is returned when a repair pass is already holding
// the relink lock for the same rule.
var ErrorRelinkInProgress = errors.New("relink pass already in progress")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
