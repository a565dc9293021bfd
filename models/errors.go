package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoManifestsFound      = errors.New("no manifests found for media id")
	ErrNoSegmentsDownloaded  = errors.New("no valid segments were downloaded")
	ErrExternalToolMissing   = errors.New("ffmpeg is not installed or not found in PATH")
	ErrEmptyMergedArtifact   = errors.New("merged media artifact is missing or empty")
	ErrTranscriptionFailed   = errors.New("transcription failed")
	ErrNoteSynthesisFailed   = errors.New("note synthesis failed")
	ErrTimeoutWaitingForPeer = errors.New("timed out waiting for peer job result")
	ErrUserNotFound          = errors.New("user not found")
	ErrNotFound              = errors.New("not found")
	ErrTrialLimitReached     = errors.New("free trial limit reached")
)

// Pipeline stage names carried by PipelineError.
const (
	StageWait       = "wait"
	StageLock       = "lock"
	StageWorkspace  = "workspace"
	StageResolve    = "resolve"
	StageFetch      = "fetch"
	StageMerge      = "merge"
	StageExtract    = "extract_audio"
	StageTranscribe = "transcribe"
	StageNotes      = "notes"
)

// PipelineError tags a failure with the stage that produced it.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StageOf returns the stage of the first PipelineError in err's chain.
func StageOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// IsInputError reports whether err is caused by the request data rather than
// by an operational fault. Input errors are not worth retrying.
func IsInputError(err error) bool {
	switch {
	case errors.Is(err, ErrNoManifestsFound),
		errors.Is(err, ErrNoSegmentsDownloaded),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTrialLimitReached):
		return true
	}
	return false
}

// UserMessage maps err to the text shown to end users.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExternalToolMissing):
		return "FFmpeg is not installed on the server. Please contact support."
	case errors.Is(err, ErrTrialLimitReached):
		return "Free trial limit reached"
	case errors.Is(err, ErrUserNotFound):
		return "User not found"
	case errors.Is(err, ErrNoManifestsFound), errors.Is(err, ErrNoSegmentsDownloaded):
		return "No recording could be found for this class"
	default:
		return "An error occurred while processing the video"
	}
}
