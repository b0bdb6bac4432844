package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"stationboard/services/vault"
)

const loginPage = `<html><body>
<form id="loginForm" action="/login.php" method="post">
  <input type="text" name="txtuser_name" value="">
  <input type="password" name="txtpassword">
  <input type="hidden" name="_token" value="tok-123">
  <input type="hidden" name="redirect" value="/home">
</form>
</body></html>`

const dashboardPage = `<html><body>
<a id="homeLinkButton" href="/home.php">Home</a>
<a href="/scba/scba-open-alerts-data.php">Open Alerts</a>
<a href="/logout.php">Logout</a>
</body></html>`

const gearJSON = `[
  {"id": 1, "serial": "SN-100", "type": "Pack", "status": "In Service", "assignment": "Engine 1"},
  {"id": 2, "serial": "SN-200", "type": "Mask", "status": "Out of Service", "assignment": ""}
]`

const alertsJSON = `[
  {"alert_id": 31, "type": "Flow Test Due", "assignment": "Engine 1", "posted_by": "captain", "detail": "SN-100 flow test overdue"}
]`

func testCreds() vault.Credentials {
	return vault.Credentials{Username: "chief", Password: "hunter2"}
}

func testEngine() *Engine {
	return New(Options{
		Timeout:         5 * time.Second,
		LoggedInMarkers: []string{"logout", "homelinkbutton"},
		CaptchaMarkers:  []string{"g-recaptcha", "h-captcha"},
	})
}

func TestRunSuccess(t *testing.T) {
	var submitted map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			require.Equal(t, "chief", r.URL.Query().Get("username"))
			w.Write([]byte(loginPage))
			return
		}
		require.NoError(t, r.ParseForm())
		submitted = r.PostForm
		http.Redirect(w, r, "/home.php", http.StatusFound)
	})
	mux.HandleFunc("/home.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(dashboardPage))
	})
	mux.HandleFunc("/scba/gear-list-data.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "Find", r.PostForm.Get("btnSubmit"))
		// served as text/html on purpose, the portal does the same
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(gearJSON))
	})
	mux.HandleFunc("/scba/scba-open-alerts-data.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		// empty filters request every open alert
		require.Contains(t, r.PostForm, "postedby")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(alertsJSON))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.True(t, result.Success)
	require.Nil(t, result.Diagnostic)
	require.Len(t, result.Gear, 2)
	require.Equal(t, "SN-100", result.Gear[0].Serial)
	require.Equal(t, "In Service", result.Gear[0].Status)
	require.Equal(t, "Mask", result.Gear[1].Type)
	require.Len(t, result.OpenAlerts, 1)
	require.Equal(t, "31", result.OpenAlerts[0].ID)
	require.Equal(t, "Flow Test Due", result.OpenAlerts[0].Type)
	require.Equal(t, "captain", result.OpenAlerts[0].PostedBy)
	require.Contains(t, result.AlertsURL, "scba-open-alerts")

	// The form submit must echo hidden fields and carry the credentials
	require.Equal(t, "hunter2", submitted["txtpassword"][0])
	require.Equal(t, "chief", submitted["txtuser_name"][0])
	require.Equal(t, "tok-123", submitted["_token"][0])
	require.Equal(t, "/home", submitted["redirect"][0])
}

func TestRunPrefilledUsernameIsKept(t *testing.T) {
	prefilled := `<html><body>
<form id="loginForm" action="/login.php" method="post">
  <input type="text" name="txtuser_name" value="chief@station.example">
  <input type="password" name="txtpassword">
</form>
</body></html>`

	var submitted map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(prefilled))
			return
		}
		require.NoError(t, r.ParseForm())
		submitted = r.PostForm
		http.Redirect(w, r, "/home.php", http.StatusFound)
	})
	mux.HandleFunc("/home.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(dashboardPage))
	})
	mux.HandleFunc("/scba/gear-list-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/scba/scba-open-alerts-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())
	require.True(t, result.Success)
	// Server pre-filled the username from the query parameter; the engine
	// must submit the portal's value, not its own
	require.Equal(t, "chief@station.example", submitted["txtuser_name"][0])
}

func TestRunServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrNetwork, result.ErrorKind)
	require.NotNil(t, result.Diagnostic)
	require.Equal(t, StepFetchLoginPage, result.Diagnostic.Step)
	require.Equal(t, http.StatusInternalServerError, result.Diagnostic.StatusCode)
}

func TestRunUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrNetwork, result.ErrorKind)
	require.Equal(t, StepFetchLoginPage, result.Diagnostic.Step)
	// Transport errors must never include credential values
	require.NotContains(t, result.Diagnostic.Message, "hunter2")
	require.NotContains(t, result.Diagnostic.Message, "chief")
}

func TestRunFormNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Maintenance</h1></body></html>`))
	}))
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrFormNotFound, result.ErrorKind)
	require.Equal(t, StepLocateForm, result.Diagnostic.Step)
	require.NotNil(t, result.Diagnostic.InputsFound)
	require.Empty(t, result.Diagnostic.InputsFound)
}

func TestRunFieldNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<form action="/search.php">
  <input type="text" name="query">
  <input type="text" name="category">
</form>
</body></html>`))
	}))
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrFieldNotFound, result.ErrorKind)
	require.Equal(t, StepLocateFields, result.Diagnostic.Step)
	// Diagnostics report the names the engine actually saw
	require.ElementsMatch(t, []string{"query", "category"}, result.Diagnostic.InputsFound)
}

func TestRunEmptyCSRFToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<form id="loginForm" action="/login.php">
  <input type="text" name="txtuser_name">
  <input type="password" name="txtpassword">
  <input type="hidden" name="_token" value="">
</form>
</body></html>`))
	}))
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrFieldNotFound, result.ErrorKind)
	require.Contains(t, result.Diagnostic.Message, "csrf")
}

func TestRunCaptchaOnLoginPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<form id="loginForm"><div class="g-recaptcha"></div></form>
</body></html>`))
	}))
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrCaptchaRequired, result.ErrorKind)
	require.Equal(t, StepFetchLoginPage, result.Diagnostic.Step)
}

func TestRunInvalidCredentials(t *testing.T) {
	// Submit lands back on the login page: no redirect away, no logged-in
	// marker, login form still present. All heuristics fail.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(loginPage))
	}))
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrInvalidCredentials, result.ErrorKind)
	require.Equal(t, StepVerifyOutcome, result.Diagnostic.Step)
}

func TestRunSessionRejectedAtDataEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage))
			return
		}
		http.Redirect(w, r, "/home.php", http.StatusFound)
	})
	mux.HandleFunc("/home.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(dashboardPage))
	})
	mux.HandleFunc("/scba/scba-open-alerts-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/scba/gear-list-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Session expired. Please sign in again."))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrInvalidCredentials, result.ErrorKind)
	require.Equal(t, StepFetchData, result.Diagnostic.Step)
}

func TestRunGarbageGearPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage))
			return
		}
		http.Redirect(w, r, "/home.php", http.StatusFound)
	})
	mux.HandleFunc("/home.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(dashboardPage))
	})
	mux.HandleFunc("/scba/scba-open-alerts-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(alertsJSON))
	})
	mux.HandleFunc("/scba/gear-list-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrParse, result.ErrorKind)
	require.Equal(t, StepParseData, result.Diagnostic.Step)
	require.Contains(t, result.Diagnostic.URL, "gear-list")
}

func TestRunTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	engine := New(Options{Timeout: 100 * time.Millisecond})
	start := time.Now()
	result := engine.Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrNetwork, result.ErrorKind)
	require.True(t, result.Diagnostic.Timeout)
	require.Less(t, time.Since(start), time.Second, "run must not outlive its timeout")
}

func TestParseGearListShapes(t *testing.T) {
	gear, err := parseGearList([]byte(`{"data": [{"id": 7, "serial": "X-1"}]}`))
	require.NoError(t, err)
	require.Len(t, gear, 1)
	require.Equal(t, "X-1", gear[0].Serial)

	gear, err = parseGearList([]byte(`[]`))
	require.NoError(t, err)
	require.Empty(t, gear)

	_, err = parseGearList([]byte(`{"rows": 3}`))
	require.Error(t, err)
}

func TestVerifyLoginHeuristicOrder(t *testing.T) {
	engine := testEngine()
	doc := mustParse(t, loginPage)

	// Redirect away from the login URL wins even when the body still has
	// a form
	name := engine.verifyLogin(&loginEvidence{
		finalURL:  "https://portal.example/home.php",
		bodyLower: "<html></html>",
		doc:       doc,
	})
	require.Equal(t, "redirect_target", name)

	// Stuck on the login URL but a logout link is present
	name = engine.verifyLogin(&loginEvidence{
		finalURL:  "https://portal.example/login.php",
		bodyLower: `<a href="/logout.php">logout</a>`,
		doc:       doc,
	})
	require.Equal(t, "logged_in_marker", name)

	// No redirect, no marker, but the login form is gone
	name = engine.verifyLogin(&loginEvidence{
		finalURL:  "https://portal.example/login.php",
		bodyLower: "<html><p>welcome</p></html>",
		doc:       mustParse(t, "<html><p>welcome</p></html>"),
	})
	require.Equal(t, "login_form_absent", name)

	// Everything points at rejection
	name = engine.verifyLogin(&loginEvidence{
		finalURL:  "https://portal.example/login.php",
		bodyLower: "invalid password",
		doc:       doc,
	})
	require.Equal(t, "", name)
}

func TestRunPrefersDiscoveredAlertsLink(t *testing.T) {
	landing := `<html><body>
<a href="/data/scba-open-alerts-data.php?station=4">Open Alerts</a>
<a href="/logout.php">Logout</a>
</body></html>`

	var customHit, defaultHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage))
			return
		}
		http.Redirect(w, r, "/home.php", http.StatusFound)
	})
	mux.HandleFunc("/home.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(landing))
	})
	mux.HandleFunc("/data/scba-open-alerts-data.php", func(w http.ResponseWriter, r *http.Request) {
		customHit = true
		w.Write([]byte(alertsJSON))
	})
	mux.HandleFunc("/scba/scba-open-alerts-data.php", func(w http.ResponseWriter, r *http.Request) {
		defaultHit = true
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/scba/gear-list-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.True(t, result.Success)
	require.True(t, customHit, "discovered link must be fetched")
	require.False(t, defaultHit, "default endpoint must not be used when a link was discovered")
	require.Contains(t, result.AlertsURL, "station=4")
	require.Len(t, result.OpenAlerts, 1)
}

func TestRunAlertsFallbackWithoutLink(t *testing.T) {
	landing := `<html><body><a href="/logout.php">Logout</a></body></html>`

	var defaultHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage))
			return
		}
		http.Redirect(w, r, "/home.php", http.StatusFound)
	})
	mux.HandleFunc("/home.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(landing))
	})
	mux.HandleFunc("/scba/scba-open-alerts-data.php", func(w http.ResponseWriter, r *http.Request) {
		defaultHit = true
		w.Write([]byte(alertsJSON))
	})
	mux.HandleFunc("/scba/gear-list-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gearJSON))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.True(t, result.Success)
	require.True(t, defaultHit)
	require.Len(t, result.OpenAlerts, 1)
	require.Len(t, result.Gear, 2)
}

func TestRunAlertsEndpointFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage))
			return
		}
		http.Redirect(w, r, "/home.php", http.StatusFound)
	})
	mux.HandleFunc("/home.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(dashboardPage))
	})
	mux.HandleFunc("/scba/scba-open-alerts-data.php", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/scba/gear-list-data.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gearJSON))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result := testEngine().Run(context.Background(), Target{BaseURL: srv.URL}, testCreds())

	require.False(t, result.Success)
	require.Equal(t, ErrNetwork, result.ErrorKind)
	require.Equal(t, StepFetchData, result.Diagnostic.Step)
	require.Contains(t, result.Diagnostic.URL, "scba-open-alerts")
}

func TestFieldLocatorOddCandidateNames(t *testing.T) {
	doc := mustParse(t, `<html><body>
<form id="loginForm">
  <input type="text" name="data[user].name" value="prefill">
  <input type="password" name="pw:field">
</form>
</body></html>`)
	form := doc.Find("form").First()

	// Names with selector metacharacters must match literally, and a
	// non-matching odd candidate must not stop the scan
	field, ok := fieldLocator{candidates: []string{"no.such[one]", "data[user].name"}}.locate(form)
	require.True(t, ok)
	require.Equal(t, "data[user].name", field.Name)
	require.Equal(t, "prefill", field.Value)

	pass, ok := fieldLocator{candidates: []string{"pw:field"}}.locatePassword(form)
	require.True(t, ok)
	require.Equal(t, "pw:field", pass.Name)
}

func mustParse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestResolveHref(t *testing.T) {
	base := "https://portal.example"

	require.Equal(t, "https://other.example/x", resolveHref(base, base+"/login.php", "https://other.example/x"))
	require.Equal(t, "https://portal.example/scba/alerts.php", resolveHref(base, base+"/home.php", "/scba/alerts.php"))
	require.Equal(t, "https://portal.example/scba/alerts.php", resolveHref(base, base+"/scba/home.php", "alerts.php"))
}
