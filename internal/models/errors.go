package models

import (
	"fmt"
	"strings"
)

// ErrModelUnavailable indicates the backend could not serve the request at
// all: connection failure, non-2xx status, or a non-JSON body from a proxy
// in front of the model server.
type ErrModelUnavailable struct {
	Provider string
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("model provider %s unavailable: %v", e.Provider, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("model provider %s unavailable: %s", e.Provider, e.Body)
	default:
		return fmt.Sprintf("model provider %s unavailable", e.Provider)
	}
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// failureFamilies maps recognizable SDK failure text to a stable label the
// daemon can log and operators can grep for.
var failureFamilies = []struct {
	label   string
	needles []string
}{
	{"authentication failed", []string{"401", "403", "unauthorized", "invalid api key", "api key", "forbidden"}},
	{"rate limited", []string{"429", "rate limit", "quota", "too many requests"}},
	{"context too long", []string{"context length", "too many tokens", "max tokens", "token limit"}},
	{"model not found", []string{"model not found", "404", "not found"}},
	{"connection error", []string{"connection", "eof", "timeout", "dial", "refused"}},
}

// classifyErr prefixes err with a stable label when its text matches a
// known failure family. Unrecognized errors pass through untouched.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	text := strings.ToLower(err.Error())
	for _, family := range failureFamilies {
		for _, needle := range family.needles {
			if strings.Contains(text, needle) {
				return fmt.Errorf("%s: %w", family.label, err)
			}
		}
	}
	return err
}
