package core

import "errors"

var (
	// ErrMediaNotFound indicates that a search produced no usable result.
	ErrMediaNotFound = errors.New("media not found")
	// ErrDownloadFailed indicates that media retrieval produced no valid local asset.
	ErrDownloadFailed = errors.New("download failed")
	// ErrConversionUnavailable indicates that the conversion service could not be reached.
	ErrConversionUnavailable = errors.New("conversion service unavailable")
	// ErrConversionJobFailed indicates that a submitted conversion job failed or could not be created.
	ErrConversionJobFailed = errors.New("conversion job failed")
	// ErrOutputMissing indicates that a finished job's output file is absent.
	ErrOutputMissing = errors.New("conversion output missing")
	// ErrEmptyCompletion indicates that the completion stream ended with no text.
	ErrEmptyCompletion = errors.New("empty completion")
	// ErrStreamError indicates that the completion stream broke mid-flight.
	ErrStreamError = errors.New("completion stream error")
	// ErrSpeechSynthesisFailed indicates that speech could not be produced.
	ErrSpeechSynthesisFailed = errors.New("speech synthesis failed")
	// ErrPersistenceFailed indicates that the message store rejected an operation.
	ErrPersistenceFailed = errors.New("persistence failed")
)
