package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

var (
	// ErrMissingAudio means the file handed to Transcribe does not exist.
	ErrMissingAudio = errors.New("audio file missing")
	// ErrUnreadableAudio means the file exists but is not decodable PCM WAV.
	ErrUnreadableAudio = errors.New("audio file unreadable")
	// ErrNoSpeech is returned by backends when the service found nothing to transcribe.
	ErrNoSpeech = errors.New("no speech detected")
)

// Outcome tags a Result.
type Outcome int

const (
	OutcomeText Outcome = iota
	OutcomeNoSpeech
	OutcomeServiceError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeText:
		return "text"
	case OutcomeNoSpeech:
		return "no_speech"
	case OutcomeServiceError:
		return "service_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one transcription. Exactly one of Text (OutcomeText) or
// Err (OutcomeServiceError) is meaningful.
type Result struct {
	Outcome Outcome
	Text    string
	Err     *ServiceError
}

// Text builds a recognized-speech result.
func Text(s string) Result { return Result{Outcome: OutcomeText, Text: s} }

// NoSpeechDetected builds the no-speech result.
func NoSpeechDetected() Result { return Result{Outcome: OutcomeNoSpeech} }

// Failed builds a service-error result from a backend error.
func Failed(err error) Result {
	return Result{Outcome: OutcomeServiceError, Err: &ServiceError{Message: err.Error(), Class: ClassifyServiceError(err), Err: err}}
}

// ErrorClass says whether repeating the request can help.
type ErrorClass int

const (
	// ClassRetryable covers network trouble, timeouts, 5xx and rate limiting.
	ClassRetryable ErrorClass = iota
	// ClassFatal covers bad credentials, exhausted quota and malformed requests.
	ClassFatal
)

func (c ErrorClass) String() string {
	if c == ClassFatal {
		return "fatal"
	}
	return "retryable"
}

// ServiceError is a connectivity, quota or protocol failure of the speech service.
type ServiceError struct {
	Message string
	Class   ErrorClass
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("transcription service (%s): %s", e.Class, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ClassifyServiceError sorts backend errors into retryable and fatal. Status codes from
// the Google and OpenAI clients are used when present; otherwise the message is matched
// against known patterns. Unknown errors are retryable.
func ClassifyServiceError(err error) ErrorClass {
	if err == nil {
		return ClassRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" {
				return ClassFatal
			}
		}
		return classifyStatus(gerr.Code, gerr.Message)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Type == "insufficient_quota" {
			return ClassFatal
		}
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err.Error())
	}
	return classifyMessage(err.Error())
}

func classifyStatus(code int, msg string) ErrorClass {
	switch {
	case code == 429 && strings.Contains(strings.ToLower(msg), "quota"):
		return ClassFatal
	case code == 429, code >= 500:
		return ClassRetryable
	case code == 400, code == 401, code == 403, code == 404:
		return ClassFatal
	}
	return classifyMessage(msg)
}

func classifyMessage(msg string) ErrorClass {
	lower := strings.ToLower(msg)
	fatalPatterns := []string{
		"quota exceeded",
		"insufficient_quota",
		"api key not valid",
		"invalid api key",
		"permission denied",
		"unauthenticated",
		"invalid argument",
		"malformed",
	}
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return ClassFatal
		}
	}
	return ClassRetryable
}
