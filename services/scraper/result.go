package scraper

import (
	"stationboard/models"
)

// ErrorKind classifies a failed scrape run
type ErrorKind string

// The closed set of failure classifications produced by the engine.
// VaultError is produced by the scheduler when credentials cannot be
// resolved before the engine is invoked.
const (
	ErrNetwork            ErrorKind = "network_error"
	ErrFormNotFound       ErrorKind = "form_not_found"
	ErrFieldNotFound      ErrorKind = "field_not_found"
	ErrInvalidCredentials ErrorKind = "invalid_credentials"
	ErrCaptchaRequired    ErrorKind = "captcha_required"
	ErrParse              ErrorKind = "parse_error"
	ErrVault              ErrorKind = "vault_error"
)

// Pipeline step names, recorded in diagnostics
const (
	StepFetchLoginPage    = "fetch_login_page"
	StepLocateForm        = "locate_form"
	StepLocateFields      = "locate_fields"
	StepSubmitCredentials = "submit_credentials"
	StepVerifyOutcome     = "verify_outcome"
	StepFetchData         = "fetch_data"
	StepParseData         = "parse_data"
)

// Result is the outcome of one engine run. Exactly one of the failure
// fields is populated when Success is false.
type Result struct {
	Success    bool
	ErrorKind  ErrorKind
	Gear       []models.GearRecord
	OpenAlerts []models.GearRecord
	Diagnostic *models.ScrapeDiagnostic

	// AlertsURL is the open-alerts data URL the run fetched: the link
	// discovered on the post-login page, or the default endpoint.
	AlertsURL string
}

func failure(kind ErrorKind, d *models.ScrapeDiagnostic) Result {
	return Result{Success: false, ErrorKind: kind, Diagnostic: d}
}
