package llm

import (
	"errors"
	"fmt"
)

// ErrTruncated is returned when the server stopped at the token limit. A
// cut translation is worse than none, so callers treat it as a failure.
var ErrTruncated = errors.New("completion truncated at max tokens")

// ErrEmptyResponse is returned when the server answers without any choice.
var ErrEmptyResponse = errors.New("no choices in response")

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// StatusError is a non-2xx answer from the inference server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference server returned %d: %s", e.Code, e.Message)
}

// Temporary reports whether a retry can succeed: the server is overloaded or
// still loading the model.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case 429, 502, 503, 504:
		return true
	}
	return false
}
