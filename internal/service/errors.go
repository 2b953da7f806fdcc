package service

import (
	"errors"

	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/validation"
)

// Kind is the user-facing class of a lookup failure.
type Kind int

const (
	KindOther Kind = iota
	KindConnectivity
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "other"
	}
}

const (
	msgEnterCity    = "Enter a city name"
	msgConnectivity = "No internet connection"
)

// Classify maps a lookup error to its user-facing kind.
func Classify(err error) Kind {
	switch {
	case validation.IsInvalid(err):
		return KindInvalidInput
	case client.IsConnectivity(err):
		return KindConnectivity
	default:
		return KindOther
	}
}

// UserMessage is the text shown in place of the temperature when a lookup fails.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case KindInvalidInput:
		if errors.Is(err, validation.ErrCityEmpty) {
			return msgEnterCity
		}
		return "Error: " + err.Error()
	case KindConnectivity:
		return msgConnectivity
	default:
		return "Error: " + detail(err)
	}
}

// detail prefers the weather API's own message over the wrapped chain.
func detail(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
