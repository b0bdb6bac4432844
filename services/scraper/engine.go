package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"stationboard/models"
	"stationboard/services/vault"
)

// Default engine settings, overridable via Options
const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// Portal data endpoints relative to the account base URL
const (
	loginPath      = "/login.php"
	gearListPath   = "/scba/gear-list-data.php"
	openAlertsPath = "/scba/scba-open-alerts-data.php"
)

var defaultGearForm = map[string]string{
	"limitSearch": "0",
	"btnSubmit":   "Find",
	"typeid":      "",
	"statusid":    "",
	"sid":         "",
}

// Empty filters return every open alert row
var defaultAlertsForm = map[string]string{
	"type":       "",
	"assignment": "",
	"postedby":   "",
}

// Options configures an engine. Field candidate lists and marker strings
// are deployment configuration because the portal markup changes without
// notice.
type Options struct {
	Timeout         time.Duration
	UserAgent       string
	UsernameFields  []string
	PasswordFields  []string
	CaptchaMarkers  []string
	LoggedInMarkers []string
}

// Target identifies the portal to scrape
type Target struct {
	BaseURL string
}

// Engine executes one login-then-fetch pipeline per Run call. It keeps no
// state between runs; every run gets a fresh cookie session. Retry is the
// scheduler's job, never the engine's.
type Engine struct {
	opts Options
}

// New creates an engine with the given options
func New(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if len(opts.UsernameFields) == 0 {
		opts.UsernameFields = []string{"txtuser_name", "username", "email"}
	}
	if len(opts.PasswordFields) == 0 {
		opts.PasswordFields = []string{"txtpassword", "password"}
	}
	return &Engine{opts: opts}
}

// Run performs one complete login-and-fetch attempt against the target.
// Every failure exit is classified and carries diagnostics; credential
// values never appear in the result.
func (e *Engine) Run(ctx context.Context, target Target, creds vault.Credentials) Result {
	client := e.newSession()
	base := strings.TrimRight(target.BaseURL, "/")

	// FetchLoginPage. The portal wants the username as a query parameter
	// on the login page itself.
	loginURL := base + loginPath + "?username=" + url.QueryEscape(creds.Username)
	res, err := client.R().SetContext(ctx).Get(loginURL)
	if err != nil {
		return failure(ErrNetwork, &models.ScrapeDiagnostic{
			Step:    StepFetchLoginPage,
			Message: sanitizeError(err, creds),
			URL:     base + loginPath,
			Timeout: isTimeout(err),
		})
	}
	if !res.IsSuccess() {
		return failure(ErrNetwork, &models.ScrapeDiagnostic{
			Step:       StepFetchLoginPage,
			StatusCode: res.StatusCode(),
			Message:    fmt.Sprintf("login page returned status %d", res.StatusCode()),
			URL:        base + loginPath,
		})
	}

	bodyLower := strings.ToLower(string(res.Body()))
	if marker, found := containsMarker(bodyLower, e.opts.CaptchaMarkers); found {
		return failure(ErrCaptchaRequired, &models.ScrapeDiagnostic{
			Step:       StepFetchLoginPage,
			StatusCode: res.StatusCode(),
			Message:    "captcha challenge on login page: " + marker,
			URL:        base + loginPath,
		})
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return failure(ErrParse, &models.ScrapeDiagnostic{
			Step:    StepLocateForm,
			Message: "login page is not parseable HTML",
			URL:     base + loginPath,
		})
	}

	// LocateForm
	form := doc.Find("form#loginForm").First()
	if form.Length() == 0 {
		form = doc.Find("form").First()
	}
	if form.Length() == 0 {
		return failure(ErrFormNotFound, &models.ScrapeDiagnostic{
			Step:        StepLocateForm,
			StatusCode:  res.StatusCode(),
			Message:     "login form not found",
			URL:         base + loginPath,
			InputsFound: []string{},
		})
	}

	// LocateFields
	seen := inputNames(form)
	userField, ok := fieldLocator{candidates: e.opts.UsernameFields}.locate(form)
	if !ok {
		return failure(ErrFieldNotFound, &models.ScrapeDiagnostic{
			Step:        StepLocateFields,
			Message:     "username field not found",
			URL:         base + loginPath,
			InputsFound: seen,
		})
	}
	passField, ok := fieldLocator{candidates: e.opts.PasswordFields}.locatePassword(form)
	if !ok {
		return failure(ErrFieldNotFound, &models.ScrapeDiagnostic{
			Step:        StepLocateFields,
			Message:     "password field not found",
			URL:         base + loginPath,
			InputsFound: seen,
		})
	}

	formData := map[string]string{
		passField.Name: creds.Password,
	}
	if userField.Value != "" {
		formData[userField.Name] = userField.Value
	} else {
		formData[userField.Name] = creds.Username
	}
	for _, hidden := range hiddenFields(form) {
		if hidden.Name == "_token" && hidden.Value == "" {
			return failure(ErrFieldNotFound, &models.ScrapeDiagnostic{
				Step:        StepLocateFields,
				Message:     "csrf token field is present but empty",
				URL:         base + loginPath,
				InputsFound: seen,
			})
		}
		if _, taken := formData[hidden.Name]; !taken {
			formData[hidden.Name] = hidden.Value
		}
	}

	// SubmitCredentials
	postURL := resolveAction(base, form.AttrOr("action", ""))
	res, err = client.R().SetContext(ctx).SetFormData(formData).Post(postURL)
	if err != nil {
		return failure(ErrNetwork, &models.ScrapeDiagnostic{
			Step:    StepSubmitCredentials,
			Message: sanitizeError(err, creds),
			URL:     postURL,
			Timeout: isTimeout(err),
		})
	}

	// VerifyOutcome
	finalURL := postURL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalURL = res.RawResponse.Request.URL.String()
	}
	bodyLower = strings.ToLower(string(res.Body()))
	if marker, found := containsMarker(bodyLower, e.opts.CaptchaMarkers); found {
		return failure(ErrCaptchaRequired, &models.ScrapeDiagnostic{
			Step:       StepVerifyOutcome,
			StatusCode: res.StatusCode(),
			Message:    "captcha challenge after submit: " + marker,
			URL:        finalURL,
		})
	}

	postDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return failure(ErrParse, &models.ScrapeDiagnostic{
			Step:       StepVerifyOutcome,
			StatusCode: res.StatusCode(),
			Message:    "post-login page is not parseable HTML",
			URL:        finalURL,
		})
	}

	evidence := &loginEvidence{
		finalURL:  finalURL,
		bodyLower: bodyLower,
		doc:       postDoc,
	}
	if e.verifyLogin(evidence) == "" {
		return failure(ErrInvalidCredentials, &models.ScrapeDiagnostic{
			Step:       StepVerifyOutcome,
			StatusCode: res.StatusCode(),
			Message:    "login rejected, login form still present",
			URL:        finalURL,
		})
	}

	// FetchData. The open-alerts feed is the portal's primary payload; a
	// link discovered on the post-login page wins over the default path.
	alertsURL := discoverAlertsLink(postDoc, base, finalURL)
	if alertsURL == "" {
		alertsURL = base + openAlertsPath
	}
	alerts, fail := e.fetchRecords(ctx, client, target, creds, alertsURL, defaultAlertsForm)
	if fail != nil {
		return *fail
	}

	gear, fail := e.fetchRecords(ctx, client, target, creds, base+gearListPath, defaultGearForm)
	if fail != nil {
		return *fail
	}

	return Result{Success: true, Gear: gear, OpenAlerts: alerts, AlertsURL: alertsURL}
}

// fetchRecords posts one data-endpoint form and decodes the record rows.
// Both portal feeds serve JSON under a text/html content type and fall
// back to a login page when the session is gone.
func (e *Engine) fetchRecords(ctx context.Context, client *resty.Client, target Target, creds vault.Credentials, dataURL string, form map[string]string) ([]models.GearRecord, *Result) {
	res, err := client.R().SetContext(ctx).
		SetHeader("Referer", target.BaseURL).
		SetHeader("Accept", "application/json, text/html, */*").
		SetFormData(form).
		Post(dataURL)
	if err != nil {
		f := failure(ErrNetwork, &models.ScrapeDiagnostic{
			Step:    StepFetchData,
			Message: sanitizeError(err, creds),
			URL:     dataURL,
			Timeout: isTimeout(err),
		})
		return nil, &f
	}
	if !res.IsSuccess() {
		f := failure(ErrNetwork, &models.ScrapeDiagnostic{
			Step:       StepFetchData,
			StatusCode: res.StatusCode(),
			Message:    fmt.Sprintf("data endpoint returned status %d", res.StatusCode()),
			URL:        dataURL,
		})
		return nil, &f
	}

	finalURL := dataURL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalURL = res.RawResponse.Request.URL.String()
	}
	bodyLower := strings.ToLower(string(res.Body()))
	if strings.Contains(bodyLower, "authentication expired") ||
		strings.Contains(bodyLower, "session expired") ||
		strings.Contains(strings.ToLower(finalURL), "login") {
		f := failure(ErrInvalidCredentials, &models.ScrapeDiagnostic{
			Step:       StepFetchData,
			StatusCode: res.StatusCode(),
			Message:    "session rejected by data endpoint",
			URL:        finalURL,
		})
		return nil, &f
	}

	// ParseData
	records, err := parseGearList(res.Body())
	if err != nil {
		if looksLikeLoginPage(res.Body()) {
			f := failure(ErrInvalidCredentials, &models.ScrapeDiagnostic{
				Step:       StepParseData,
				StatusCode: res.StatusCode(),
				Message:    "received login page instead of record data",
				URL:        finalURL,
			})
			return nil, &f
		}
		f := failure(ErrParse, &models.ScrapeDiagnostic{
			Step:       StepParseData,
			StatusCode: res.StatusCode(),
			Message:    err.Error(),
			URL:        finalURL,
		})
		return nil, &f
	}
	return records, nil
}

// newSession builds a fresh cookie-backed HTTP session for one run
func (e *Engine) newSession() *resty.Client {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err == nil {
		client.SetCookieJar(jar)
	}
	client.SetTimeout(e.opts.Timeout)
	client.SetHeader("User-Agent", e.opts.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", "en-US,en;q=0.5")
	return client
}

// loginEvidence is what the success heuristics inspect
type loginEvidence struct {
	finalURL  string
	bodyLower string
	doc       *goquery.Document
}

type successHeuristic struct {
	name      string
	satisfied func(ev *loginEvidence) bool
}

// successHeuristics returns the ordered list of independent login checks.
// The first satisfied heuristic wins.
func (e *Engine) successHeuristics() []successHeuristic {
	return []successHeuristic{
		{
			name: "redirect_target",
			satisfied: func(ev *loginEvidence) bool {
				return !strings.Contains(strings.ToLower(ev.finalURL), "login")
			},
		},
		{
			name: "logged_in_marker",
			satisfied: func(ev *loginEvidence) bool {
				_, found := containsMarker(ev.bodyLower, e.opts.LoggedInMarkers)
				return found
			},
		},
		{
			name: "login_form_absent",
			satisfied: func(ev *loginEvidence) bool {
				return findLoginForm(ev.doc).Length() == 0
			},
		},
	}
}

// verifyLogin returns the name of the first satisfied heuristic, or ""
func (e *Engine) verifyLogin(ev *loginEvidence) string {
	for _, h := range e.successHeuristics() {
		if h.satisfied(ev) {
			return h.name
		}
	}
	return ""
}

// findLoginForm locates a login form in the document, by id first, then
// by a login-ish action attribute
func findLoginForm(doc *goquery.Document) *goquery.Selection {
	sel := doc.Find("form#loginForm")
	if sel.Length() > 0 {
		return sel
	}
	return doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.AttrOr("action", "")), "login")
	})
}

// discoverAlertsLink finds the open-alerts page link on the post-login page
func discoverAlertsLink(doc *goquery.Document, base, currentURL string) string {
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := s.AttrOr("href", "")
		lower := strings.ToLower(href)
		if !strings.Contains(lower, "scba-open-alerts") && !strings.Contains(lower, "scba/alerts") {
			return true
		}
		found = resolveHref(base, currentURL, href)
		return false
	})
	return found
}

// resolveAction resolves a form action attribute against the account base URL
func resolveAction(base, action string) string {
	if action == "" {
		return base + "/login"
	}
	return resolveHref(base, base+loginPath, action)
}

// resolveHref resolves an href to an absolute URL
func resolveHref(base, currentURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		parsed, err := url.Parse(base)
		if err != nil {
			return base + href
		}
		return parsed.Scheme + "://" + parsed.Host + href
	}
	current, err := url.Parse(currentURL)
	if err != nil {
		return base + "/" + href
	}
	rel, err := url.Parse(href)
	if err != nil {
		return base + "/" + href
	}
	return current.ResolveReference(rel).String()
}

// looksLikeLoginPage reports whether the body is an HTML login page
func looksLikeLoginPage(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return findLoginForm(doc).Length() > 0
}

// isTimeout reports whether err is a deadline or transport timeout
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sanitizeError renders a transport error with credential values scrubbed.
// The username can leak through the login URL's query string.
func sanitizeError(err error, creds vault.Credentials) string {
	msg := err.Error()
	if creds.Password != "" {
		msg = strings.ReplaceAll(msg, creds.Password, "***")
	}
	if creds.Username != "" {
		msg = strings.ReplaceAll(msg, url.QueryEscape(creds.Username), "***")
		msg = strings.ReplaceAll(msg, creds.Username, "***")
	}
	return msg
}
