package sites

import (
	"context"
	"time"
)

// Outcome classifies one renewal attempt. The two refreshed variants are
// only ever assigned by the batch executor after a mid-batch
// re-authentication, adapters themselves report success or failure.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailure          Outcome = "failure"
	OutcomeRefreshedSuccess Outcome = "refreshed-then-success"
	OutcomeRefreshedFailure Outcome = "refreshed-then-failure"
)

type Info struct {
	ID     string
	Name   string
	Domain string
	Emoji  string
}

type LoginResult struct {
	OK      bool
	Message string
	// Cookie is the opaque session artifact; only meaningful when OK.
	Cookie string
}

type RenewRequest struct {
	Account  string
	Password string
	// Cookie is the stored session artifact from a previous login, empty
	// for adapters that authenticate on every call.
	Cookie string
	// RandomMode toggles the site-specific "random" check-in variant.
	RandomMode bool
}

type RenewalResult struct {
	Account string
	Site    string
	Outcome Outcome
	Message string
	Time    time.Time
	// CookieRefreshed marks that the executor re-authenticated this
	// account during the batch.
	CookieRefreshed bool
	// CreditAmount is the earned credit parsed out of a successful
	// check-in response, 0 when the site reports none.
	CreditAmount int
	// ScreenshotPath references a diagnostic artifact produced by the
	// adapter on failure. The core forwards it, it never generates one.
	ScreenshotPath string
}

// Adapter is the capability boundary to one external site. Calls are
// slow, network-bound and fallible; expected failures come back as
// ordinary result values, never as panics, and adapters must honor ctx
// deadlines so one stuck site cannot stall a whole batch.
type Adapter interface {
	Info() Info
	Login(ctx context.Context, account, password string) LoginResult
	Renew(ctx context.Context, req RenewRequest) RenewalResult
	// ExpiredSignatures lists message fragments that indicate the stored
	// session is no longer valid, triggering the one-shot refresh path.
	ExpiredSignatures() []string
}
