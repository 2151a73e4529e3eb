package renewal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"renewbot-backend/lib/telemetry"
	"renewbot-backend/lib/textutil"
	"renewbot-backend/lib/timezone"
	"renewbot-backend/services/sites"
	"renewbot-backend/services/userstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("services/renewal")

type Source string

const (
	SourceManual Source = "manual"
	SourceAuto   Source = "auto"
)

type Actor string

const (
	ActorUser   Actor = "user"
	ActorAdmin  Actor = "admin"
	ActorSystem Actor = "system"
)

// Auditor receives every finalized result. Implementations decide what
// is worth retaining (the audit log keeps only credited outcomes).
type Auditor interface {
	Append(ctx context.Context, uid string, result sites.RenewalResult, source Source, actor Actor) error
}

type BatchRequest struct {
	// uid -> siteId -> account names
	Targets map[string]map[string][]string
	// uid -> siteId -> random-mode flag
	Modes  map[string]map[string]bool
	Source Source
	Actor  Actor
}

type BatchResult struct {
	// uid -> siteId -> one result per targeted account
	Results map[string]map[string][]sites.RenewalResult
	// PersistErr is set when a session refresh succeeded upstream but
	// writing the new token to the store failed. The results are still
	// valid, the stored state is not.
	PersistErr error
}

type Options struct {
	// WorkersPerSite bounds simultaneous sessions against one site.
	WorkersPerSite int
	// CallTimeout bounds a single adapter login or renew call. Challenge
	// solving can legitimately take a minute or two.
	CallTimeout time.Duration
}

func (o *Options) fillDefaults() {
	if o.WorkersPerSite <= 0 {
		o.WorkersPerSite = 3
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = time.Minute * 3
	}
}

// Executor runs renewal batches: one adapter call per targeted account,
// bounded parallelism per site, and a one-shot session refresh when a
// result matches the adapter's expiry signatures.
type Executor struct {
	store    *userstore.Store
	registry *sites.Registry
	auditor  Auditor
	opts     Options
}

func NewExecutor(store *userstore.Store, registry *sites.Registry, auditor Auditor, opts Options) *Executor {
	opts.fillDefaults()
	return &Executor{
		store:    store,
		registry: registry,
		auditor:  auditor,
		opts:     opts,
	}
}

// TargetsForUser builds a batch target covering every account the user
// owns across all sites.
func TargetsForUser(data *userstore.Data, uid string) map[string]map[string][]string {
	user, ok := data.Users[uid]
	if !ok {
		return nil
	}
	siteTargets := map[string][]string{}
	for site, accounts := range user.Accounts {
		for name := range accounts {
			siteTargets[site] = append(siteTargets[site], name)
		}
	}
	if len(siteTargets) == 0 {
		return nil
	}
	return map[string]map[string][]string{uid: siteTargets}
}

// TargetsForAll builds a batch target covering every account of every
// user, for the admin-wide summary run.
func TargetsForAll(data *userstore.Data) map[string]map[string][]string {
	targets := map[string]map[string][]string{}
	for uid := range data.Users {
		for innerUid, siteTargets := range TargetsForUser(data, uid) {
			targets[innerUid] = siteTargets
		}
	}
	return targets
}

// ModesFor extracts the per-site random-mode flags for the targeted users.
func ModesFor(data *userstore.Data, targets map[string]map[string][]string) map[string]map[string]bool {
	modes := map[string]map[string]bool{}
	for uid := range targets {
		user, ok := data.Users[uid]
		if !ok {
			continue
		}
		modes[uid] = map[string]bool{}
		for site, enabled := range user.Modes {
			modes[uid][site] = enabled
		}
	}
	return modes
}

// Run executes the batch and blocks until every account finished. One
// failing account never aborts the rest of the batch.
func (e *Executor) Run(ctx context.Context, req BatchRequest) BatchResult {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	batchId := uuid.NewString()
	span.SetAttributes(attribute.String("batch_id", batchId))
	slog.Info("batch starting",
		"batchId", batchId, "users", len(req.Targets),
		"source", req.Source, "actor", req.Actor)

	out := BatchResult{Results: map[string]map[string][]sites.RenewalResult{}}

	// one semaphore per site so a slow site saturates only its own slots
	semaphores := map[string]chan struct{}{}
	for _, siteTargets := range req.Targets {
		for site := range siteTargets {
			if _, ok := semaphores[site]; !ok {
				semaphores[site] = make(chan struct{}, e.opts.WorkersPerSite)
			}
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for uid, siteTargets := range req.Targets {
		out.Results[uid] = map[string][]sites.RenewalResult{}
		for site, accounts := range siteTargets {
			out.Results[uid][site] = make([]sites.RenewalResult, len(accounts))
			for i, account := range accounts {
				wg.Add(1)
				go func(uid, site, account string, i int) {
					defer wg.Done()
					semaphores[site] <- struct{}{}
					defer func() { <-semaphores[site] }()

					randomMode := false
					if siteModes, ok := req.Modes[uid]; ok {
						randomMode = siteModes[site]
					}

					result, persistErr := e.runAccount(ctx, uid, site, account, randomMode)
					mu.Lock()
					out.Results[uid][site][i] = result
					if persistErr != nil && out.PersistErr == nil {
						out.PersistErr = persistErr
					}
					mu.Unlock()

					e.audit(ctx, uid, result, req.Source, req.Actor)
				}(uid, site, account, i)
			}
		}
	}
	wg.Wait()
	slog.Info("batch finished", "batchId", batchId)

	if out.PersistErr != nil {
		span.RecordError(out.PersistErr)
		span.SetStatus(codes.Error, "session token persistence failed")
	}
	return out
}

func (e *Executor) audit(ctx context.Context, uid string, result sites.RenewalResult, source Source, actor Actor) {
	if e.auditor == nil {
		return
	}
	err := e.auditor.Append(ctx, uid, result, source, actor)
	if err != nil {
		slog.Error("failed to append audit entry",
			"uid", uid, "account", textutil.MaskAccount(result.Account), "err", err)
	}
}

// runAccount drives the attempt -> detect expiry -> refresh once ->
// retry once state machine for a single account.
func (e *Executor) runAccount(
	ctx context.Context,
	uid, site, account string,
	randomMode bool,
) (sites.RenewalResult, error) {
	ctx, span := tracer.Start(ctx, "runAccount")
	defer span.End()
	span.SetAttributes(
		attribute.String("site", site),
		attribute.String("account", textutil.MaskAccount(account)),
	)

	adapter, ok := e.registry.Get(site)
	if !ok {
		return failed(account, site, fmt.Sprintf("no adapter registered for site %q", site)), nil
	}

	stored, err := e.lookupAccount(uid, site, account)
	if err != nil {
		return failed(account, site, err.Error()), nil
	}

	result := e.renewOnce(ctx, adapter, account, stored, randomMode)
	if result.Outcome != sites.OutcomeFailure ||
		!textutil.MatchAny(result.Message, adapter.ExpiredSignatures()) {
		return result, nil
	}

	// stored session looks expired, refresh at most once
	slog.Info("session looks expired, refreshing",
		"site", site, "account", textutil.MaskAccount(account))
	login := e.loginOnce(ctx, adapter, account, stored)
	if !login.OK {
		result.Outcome = sites.OutcomeRefreshedFailure
		result.Message = fmt.Sprintf("session refresh failed: %s", login.Message)
		return result, nil
	}

	persistErr := e.storeCookie(uid, site, account, login.Cookie)
	if persistErr != nil {
		// the refresh itself worked, keep going with the in-memory
		// token but surface the persistence failure loudly
		slog.Error("failed to persist refreshed session token",
			"uid", uid, "site", site,
			"account", textutil.MaskAccount(account), "err", persistErr)
		persistErr = fmt.Errorf("persist refreshed token for %s/%s: %w",
			site, textutil.MaskAccount(account), persistErr)
	}

	stored.Cookie = login.Cookie
	retried := e.renewOnce(ctx, adapter, account, stored, randomMode)
	retried.CookieRefreshed = true
	switch retried.Outcome {
	case sites.OutcomeSuccess:
		retried.Outcome = sites.OutcomeRefreshedSuccess
	default:
		retried.Outcome = sites.OutcomeRefreshedFailure
	}
	return retried, persistErr
}

func (e *Executor) renewOnce(
	ctx context.Context,
	adapter sites.Adapter,
	account string,
	stored userstore.Account,
	randomMode bool,
) sites.RenewalResult {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return adapter.Renew(callCtx, sites.RenewRequest{
		Account:    account,
		Password:   stored.Password,
		Cookie:     stored.Cookie,
		RandomMode: randomMode,
	})
}

func (e *Executor) loginOnce(
	ctx context.Context,
	adapter sites.Adapter,
	account string,
	stored userstore.Account,
) sites.LoginResult {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return adapter.Login(callCtx, account, stored.Password)
}

func (e *Executor) lookupAccount(uid, site, account string) (userstore.Account, error) {
	data, err := e.store.Load()
	if err != nil {
		return userstore.Account{}, fmt.Errorf("load state: %w", err)
	}
	user, ok := data.Users[uid]
	if !ok {
		return userstore.Account{}, fmt.Errorf("unknown user %q", uid)
	}
	stored, ok := user.SiteAccounts(site)[account]
	if !ok {
		return userstore.Account{}, fmt.Errorf("no account %q on site %q", account, site)
	}
	return stored, nil
}

// storeCookie writes a freshly refreshed session token. The store's own
// lock serializes this with every other record write, so two concurrent
// refreshes for the same user cannot lose each other's update.
func (e *Executor) storeCookie(uid, site, account, cookie string) error {
	return e.store.Update(func(data *userstore.Data) error {
		user, ok := data.Users[uid]
		if !ok {
			return fmt.Errorf("unknown user %q", uid)
		}
		accounts := user.SiteAccounts(site)
		stored, ok := accounts[account]
		if !ok {
			return fmt.Errorf("no account %q on site %q", account, site)
		}
		stored.Cookie = cookie
		accounts[account] = stored
		return nil
	})
}

func failed(account, site, message string) sites.RenewalResult {
	return sites.RenewalResult{
		Account: account,
		Site:    site,
		Outcome: sites.OutcomeFailure,
		Message: message,
		Time:    timezone.Now(),
	}
}
