// Package scheduler drives periodic scrape runs, one logical timer per
// enabled account, and owns all scrape-side background state.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"

	"stationboard/models"
	"stationboard/services"
	"stationboard/services/alerting"
	"stationboard/services/scraper"
	"stationboard/services/vault"
)

// ScrapeEngine runs one login-and-fetch attempt. Satisfied by
// *scraper.Engine; tests substitute their own.
type ScrapeEngine interface {
	Run(ctx context.Context, target scraper.Target, creds vault.Credentials) scraper.Result
}

// CredentialVault resolves account credentials at run time
type CredentialVault interface {
	Get(accountID uint) (vault.Credentials, error)
}

// Publisher notifies connected dashboard clients. Satisfied by
// *services.BroadcastHub.
type Publisher interface {
	PublishScrapeUpdate(payload interface{})
	PublishAlertUpdate(payload interface{})
}

// Options configures the scheduler
type Options struct {
	// RunTimeout bounds one engine run, including shutdown drain time
	RunTimeout time.Duration
	// FailureThreshold is the consecutive-failure count at which an
	// account is flagged degraded. Flagging only; nothing is disabled.
	FailureThreshold int
}

// accountState is the per-account entry in the scheduler's state table
type accountState struct {
	inFlight atomic.Bool

	mu            sync.Mutex
	lastStarted   time.Time
	failureStreak int
	degraded      bool
}

// AccountHealth is the externally visible health of one account's scrapes
type AccountHealth struct {
	AccountID     uint      `json:"account_id"`
	FailureStreak int       `json:"failure_streak"`
	Degraded      bool      `json:"degraded"`
	InFlight      bool      `json:"in_flight"`
	LastStarted   time.Time `json:"last_started"`
}

// Scheduler owns per-account scrape timers. At most one run per account is
// ever in flight; a tick that lands while a run is outstanding is skipped,
// not queued. Interval and enabled changes take effect at the next tick
// evaluation.
type Scheduler struct {
	cron   *gocron.Scheduler
	store  Store
	engine ScrapeEngine
	vault  CredentialVault
	hub    Publisher
	opts   Options

	mu          sync.Mutex
	states      map[uint]*accountState
	activeAlert uint

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler instance
func NewScheduler(store Store, engine ScrapeEngine, credVault CredentialVault, hub Publisher, opts Options) *Scheduler {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = scraper.DefaultTimeout
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		store:  store,
		engine: engine,
		vault:  credVault,
		hub:    hub,
		opts:   opts,
		states: make(map[uint]*accountState),
		runCtx: ctx,
		cancel: cancel,
	}
}

// Start starts the tick loop and the periodic alert re-check
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Per-account due-ness is evaluated every minute; each account runs
	// at its own configured interval.
	s.cron.Every(1).Minute().Do(func() {
		s.tick(time.Now())
	})

	// Re-evaluate the active alert window every minute so boundary
	// crossings are pushed without any admin action.
	s.cron.Every(1).Minute().Do(func() {
		s.RefreshAlerts(false)
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops issuing new runs and waits, bounded by the run timeout, for
// in-flight runs to reach a terminal state.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler stopped")
	case <-time.After(s.opts.RunTimeout + 5*time.Second):
		log.Println("Scheduler stopped with runs still draining")
	}
}

// tick evaluates every enabled account and starts the ones that are due
func (s *Scheduler) tick(now time.Time) {
	accounts, err := s.store.EnabledAccounts()
	if err != nil {
		log.Printf("Error loading accounts: %v", err)
		return
	}

	for i := range accounts {
		account := accounts[i]
		if !s.isDue(&account, now) {
			continue
		}
		s.tryStart(&account, now)
	}
}

// TriggerNow requests an immediate run for one account, subject to the
// same non-overlap rule as scheduled ticks. Returns false when a run for
// the account is already in flight or the account is disabled.
func (s *Scheduler) TriggerNow(accountID uint) bool {
	account, err := s.store.Account(accountID)
	if err != nil {
		log.Printf("TriggerNow: account %d not found: %v", accountID, err)
		return false
	}
	if !account.Enabled {
		return false
	}
	return s.tryStart(account, time.Now())
}

// Health reports the current per-account scrape health
func (s *Scheduler) Health() []AccountHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := make([]AccountHealth, 0, len(s.states))
	for id, st := range s.states {
		st.mu.Lock()
		health = append(health, AccountHealth{
			AccountID:     id,
			FailureStreak: st.failureStreak,
			Degraded:      st.degraded,
			InFlight:      st.inFlight.Load(),
			LastStarted:   st.lastStarted,
		})
		st.mu.Unlock()
	}
	return health
}

// RefreshAlerts re-evaluates the active alert window and publishes the
// outcome. When force is false, nothing is published unless the winning
// window changed since the last evaluation; mutations force a publish so
// edited messages reach clients even when the winner is unchanged.
func (s *Scheduler) RefreshAlerts(force bool) {
	windows, err := s.store.AlertWindows()
	if err != nil {
		log.Printf("Error loading alert windows: %v", err)
		return
	}

	winner := alerting.Active(time.Now(), windows)
	var winnerID uint
	if winner != nil {
		winnerID = winner.ID
	}

	s.mu.Lock()
	changed := winnerID != s.activeAlert
	s.activeAlert = winnerID
	s.mu.Unlock()

	if changed || force {
		s.hub.PublishAlertUpdate(alerting.Payload(winner))
		if changed {
			log.Printf("Active alert changed: window %d", winnerID)
		}
	}
}

// state returns (creating if needed) the state entry for an account
func (s *Scheduler) state(accountID uint) *accountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[accountID]
	if !ok {
		st = &accountState{}
		s.states[accountID] = st
	}
	return st
}

// isDue reports whether the account's interval has elapsed since the more
// recent of its persisted last scrape and the last locally started run
func (s *Scheduler) isDue(account *models.Account, now time.Time) bool {
	st := s.state(account.ID)

	st.mu.Lock()
	ref := st.lastStarted
	st.mu.Unlock()

	if account.LastScrapeAt != nil && account.LastScrapeAt.After(ref) {
		ref = *account.LastScrapeAt
	}
	if ref.IsZero() {
		return true
	}
	return now.Sub(ref) >= account.Interval()
}

// tryStart claims the account's in-flight slot and launches a run. The
// claim is the single point of mutual exclusion per account: if it fails,
// a run is already outstanding and this tick is dropped.
func (s *Scheduler) tryStart(account *models.Account, now time.Time) bool {
	select {
	case <-s.runCtx.Done():
		return false
	default:
	}

	st := s.state(account.ID)
	if !st.inFlight.CompareAndSwap(false, true) {
		log.Printf("Scrape for account %d still running, skipping tick", account.ID)
		return false
	}

	st.mu.Lock()
	st.lastStarted = now
	st.mu.Unlock()

	s.wg.Add(1)
	go s.runAccount(account, st)
	return true
}

// runAccount executes one scrape run for the account and records its outcome
func (s *Scheduler) runAccount(account *models.Account, st *accountState) {
	defer s.wg.Done()
	defer st.inFlight.Store(false)

	result := s.execute(account)

	if err := s.store.SaveResult(result); err != nil {
		log.Printf("Error saving scrape result for account %d: %v", account.ID, err)
	}
	if err := s.store.TouchAccount(account.ID, result.ScrapedAt); err != nil {
		log.Printf("Error updating account %d: %v", account.ID, err)
	}
	s.archive(result)
	s.updateStreak(account.ID, st, result)

	s.hub.PublishScrapeUpdate(result.ToPayload())
}

// execute resolves credentials and runs the engine, mapping every outcome
// to an immutable scrape result row
func (s *Scheduler) execute(account *models.Account) *models.ScrapeResult {
	result := &models.ScrapeResult{
		AccountID: account.ID,
		ScrapedAt: time.Now(),
	}

	creds, err := s.vault.Get(account.ID)
	if err != nil {
		// The run never reached the network; record the vault failure
		// without partial scrape diagnostics.
		log.Printf("Credential lookup failed for account %d: %v", account.ID, err)
		result.Status = models.ScrapeStatusFailed
		result.ErrorKind = string(scraper.ErrVault)
		result.SetDiagnostic(&models.ScrapeDiagnostic{
			Step:    "credential_vault",
			Message: vaultErrorMessage(err),
		})
		result.ScrapedAt = time.Now()
		return result
	}

	ctx, cancel := context.WithTimeout(s.runCtx, s.opts.RunTimeout)
	defer cancel()

	run := s.engine.Run(ctx, scraper.Target{BaseURL: account.BaseURL}, creds)
	result.ScrapedAt = time.Now()

	if run.Success {
		result.Status = models.ScrapeStatusSuccess
		if err := result.SetGearList(run.Gear); err != nil {
			log.Printf("Error encoding gear list for account %d: %v", account.ID, err)
		}
		if err := result.SetOpenAlerts(run.OpenAlerts); err != nil {
			log.Printf("Error encoding open alerts for account %d: %v", account.ID, err)
		}
		return result
	}

	result.Status = models.ScrapeStatusFailed
	result.ErrorKind = string(run.ErrorKind)
	if err := result.SetDiagnostic(run.Diagnostic); err != nil {
		log.Printf("Error encoding diagnostics for account %d: %v", account.ID, err)
	}
	return result
}

// archive mirrors the result to the optional local and remote archives
func (s *Scheduler) archive(result *models.ScrapeResult) {
	if services.GlobalHistoryArchive != nil {
		if err := services.GlobalHistoryArchive.Append(result); err != nil {
			log.Printf("Error archiving scrape result: %v", err)
		}
	}
	if services.GlobalMongoArchive.IsAvailable() {
		services.GlobalMongoArchive.ArchiveResult(context.Background(), result)
	}
}

// updateStreak maintains the consecutive-failure count and degraded flag
func (s *Scheduler) updateStreak(accountID uint, st *accountState, result *models.ScrapeResult) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if result.Status == models.ScrapeStatusSuccess {
		st.failureStreak = 0
		if st.degraded {
			log.Printf("Account %d recovered", accountID)
		}
		st.degraded = false
		return
	}

	st.failureStreak++
	if !st.degraded && st.failureStreak >= s.opts.FailureThreshold {
		st.degraded = true
		log.Printf("Account %d degraded after %d consecutive failures (%s)",
			accountID, st.failureStreak, result.ErrorKind)
	}
}

// vaultErrorMessage maps a vault error to dashboard-facing guidance
func vaultErrorMessage(err error) string {
	if vault.IsNotFound(err) {
		return "no credentials configured for this account"
	}
	return "stored credentials could not be decrypted; re-enter them in settings"
}
