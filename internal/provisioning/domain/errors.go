package domain

import "errors"

var (
	ErrInvalidJSON           = errors.New("invalid_json")
	ErrMissingFields         = errors.New("missing_required_fields")
	ErrInvalidEmail          = errors.New("invalid_email")
	ErrCredentialUnavailable = errors.New("credential_unavailable")
	ErrResultNotFound        = errors.New("result_not_found")
	ErrMissingTeamID         = errors.New("team id required to access sharepoint site")
	ErrStepPanicked          = errors.New("step_panicked")
)
