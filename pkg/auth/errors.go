package auth

import (
	"fmt"
)

// Step is a state of the login state machine.
type Step string

const (
	StepFetchingMetadata      Step = "FetchingMetadata"
	StepBuildingAuthorizeURL  Step = "BuildingAuthorizeUrl"
	StepFetchingLoginPage     Step = "FetchingLoginPage"
	StepExtractingPageState   Step = "ExtractingPageState"
	StepSubmittingCredentials Step = "SubmittingCredentials"
	StepConfirmingSignIn      Step = "ConfirmingSignIn"
	StepFollowingRedirects    Step = "FollowingRedirects"
	StepExchangingToken       Step = "ExchangingToken"
	StepDone                  Step = "Done"
)

// ProtocolError means the identity provider's pages no longer look the way we
// expect them to. It cannot be fixed by retrying.
type ProtocolError struct {
	// Name is the embedded variable or document that could not be read.
	Name   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected %s payload: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("unexpected %s payload: %s", e.Name, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// AuthError is returned when any step of the login fails. Step is the state
// the machine was in when it moved to Failed.
type AuthError struct {
	Step   Step
	Reason string
	// Body holds the (truncated) response body, if any, for diagnostics.
	Body string
	Err  error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("authentication failed at %s: %s", e.Step, e.Reason)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

const maxBodyInError = 500

func truncateBody(b []byte) string {
	if len(b) > maxBodyInError {
		return string(b[:maxBodyInError]) + "..."
	}
	return string(b)
}
