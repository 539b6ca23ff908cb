package social

import "errors"

var (
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("social: invalid request")
	// ErrUnsupportedPlatform signals a platform outside the supported set.
	ErrUnsupportedPlatform = errors.New("social: unsupported platform")
	// ErrPlatformNotConfigured indicates missing client credentials for a
	// platform. This is a deployment defect, not a runtime OAuth failure.
	ErrPlatformNotConfigured = errors.New("social: platform not configured")
	// ErrInvalidState covers every state-token security failure. Callers must
	// not be able to distinguish expired from unknown from mismatched states.
	ErrInvalidState = errors.New("social: invalid or expired state")
	// ErrProviderRejected indicates the provider declined the code exchange or
	// the end user declined consent.
	ErrProviderRejected = errors.New("social: provider rejected authorization")
	// ErrAccountNotFound signals a missing or inactive linked account.
	ErrAccountNotFound = errors.New("social: linked account not found")
	// ErrNotRefreshable signals the account holds no refresh credential.
	ErrNotRefreshable = errors.New("social: account is not refreshable")
	// ErrRefreshFailed signals the provider rejected the refresh grant.
	ErrRefreshFailed = errors.New("social: token refresh failed")
)
