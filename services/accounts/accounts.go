package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"renewbot-backend/lib/telemetry"
	"renewbot-backend/lib/textutil"
	"renewbot-backend/services/sites"
	"renewbot-backend/services/userstore"
)

var tracer = telemetry.Tracer("services/accounts")

var (
	ErrUnknownSite = errors.New("unknown site")
	ErrNoAccounts  = errors.New("user has no accounts")
	ErrNotFound    = errors.New("account not found")
)

// RemoveAll is the account-name sentinel that removes every account the
// user owns on a site.
const RemoveAll = "-all"

// ScheduleNotifier is the scheduler's surface as seen from account
// management: user creation installs a trigger, user deletion drops it.
type ScheduleNotifier interface {
	Set(uid string, hour, minute int) error
	Remove(uid string)
}

// Service implements account lifecycle operations on top of the state
// store. Every mutation is one atomic read-modify-write, and adding an
// account verifies the credentials with a real login before anything is
// persisted.
type Service struct {
	store     *userstore.Store
	registry  *sites.Registry
	scheduler ScheduleNotifier
}

func NewService(store *userstore.Store, registry *sites.Registry, scheduler ScheduleNotifier) *Service {
	return &Service{store: store, registry: registry, scheduler: scheduler}
}

type AddParams struct {
	Uid         string
	DisplayName string
	Site        string
	Account     string
	Password    string
}

// Add verifies the credentials against the site and persists the
// account with the session token the login produced. Re-adding an
// existing account name replaces its credentials.
func (s *Service) Add(ctx context.Context, params AddParams) error {
	ctx, span := tracer.Start(ctx, "Add")
	defer span.End()

	adapter, ok := s.registry.Get(params.Site)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSite, params.Site)
	}

	login := adapter.Login(ctx, params.Account, params.Password)
	if !login.OK {
		return fmt.Errorf("login verification failed: %s", login.Message)
	}

	var schedule [2]int
	created := false
	err := s.store.Update(func(data *userstore.Data) error {
		_, existed := data.Users[params.Uid]
		user := data.EnsureUser(params.Uid)
		created = !existed

		if params.DisplayName != "" {
			user.DisplayName = params.DisplayName
		}
		if user.Accounts[params.Site] == nil {
			user.Accounts[params.Site] = map[string]userstore.Account{}
		}
		user.Accounts[params.Site][params.Account] = userstore.Account{
			Username: params.Account,
			Password: params.Password,
			Cookie:   login.Cookie,
		}
		schedule = [2]int{user.SignHour, user.SignMinute}
		return nil
	})
	if err != nil {
		return err
	}

	if created && s.scheduler != nil {
		err := s.scheduler.Set(params.Uid, schedule[0], schedule[1])
		if err != nil {
			slog.Error("failed to schedule new user", "uid", params.Uid, "err", err)
		}
	}

	slog.Info("account added",
		"uid", params.Uid, "site", params.Site,
		"account", textutil.MaskAccount(params.Account))
	return nil
}

// Remove deletes one account, or every account on the site when name is
// RemoveAll. A user whose last account is removed is deleted entirely
// and unscheduled.
func (s *Service) Remove(ctx context.Context, uid, site, name string) error {
	_, span := tracer.Start(ctx, "Remove")
	defer span.End()

	userDeleted := false
	err := s.store.Update(func(data *userstore.Data) error {
		user, ok := data.Users[uid]
		if !ok {
			return ErrNotFound
		}
		siteAccounts := user.SiteAccounts(site)
		if len(siteAccounts) == 0 {
			return fmt.Errorf("%w: no accounts on site %q", ErrNotFound, site)
		}

		if name == RemoveAll {
			delete(user.Accounts, site)
		} else {
			if _, ok := siteAccounts[name]; !ok {
				return fmt.Errorf("%w: %q on site %q", ErrNotFound, name, site)
			}
			delete(siteAccounts, name)
			if len(siteAccounts) == 0 {
				delete(user.Accounts, site)
			}
		}

		if !user.HasAccounts() {
			delete(data.Users, uid)
			userDeleted = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if userDeleted && s.scheduler != nil {
		s.scheduler.Remove(uid)
	}
	slog.Info("account removed", "uid", uid, "site", site,
		"account", textutil.MaskAccount(name), "userDeleted", userDeleted)
	return nil
}

type AccountView struct {
	Site       string
	Name       string
	MaskedName string
	HasSession bool
}

// List returns the user's accounts ordered by site then name.
func (s *Service) List(ctx context.Context, uid string) ([]AccountView, error) {
	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	user, ok := data.Users[uid]
	if !ok {
		return nil, ErrNoAccounts
	}

	var views []AccountView
	for site, accounts := range user.Accounts {
		for name, account := range accounts {
			views = append(views, AccountView{
				Site:       site,
				Name:       name,
				MaskedName: textutil.MaskAccount(name),
				HasSession: account.Cookie != "",
			})
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Site != views[j].Site {
			return views[i].Site < views[j].Site
		}
		return views[i].Name < views[j].Name
	})
	return views, nil
}

// SetSchedule stores a new daily run time and swaps the live trigger.
func (s *Service) SetSchedule(ctx context.Context, uid string, hour, minute int) error {
	_, span := tracer.Start(ctx, "SetSchedule")
	defer span.End()

	err := userstore.ValidateSchedule(hour, minute)
	if err != nil {
		return err
	}
	err = s.store.Update(func(data *userstore.Data) error {
		user, ok := data.Users[uid]
		if !ok {
			return ErrNoAccounts
		}
		user.SignHour = hour
		user.SignMinute = minute
		return nil
	})
	if err != nil {
		return err
	}
	if s.scheduler != nil {
		return s.scheduler.Set(uid, hour, minute)
	}
	return nil
}

// SetMode flips the site's random-mode flag for the user.
func (s *Service) SetMode(ctx context.Context, uid, site string, enabled bool) error {
	if _, ok := s.registry.Get(site); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSite, site)
	}
	return s.store.Update(func(data *userstore.Data) error {
		user, ok := data.Users[uid]
		if !ok {
			return ErrNoAccounts
		}
		user.Modes[site] = enabled
		return nil
	})
}

// RequireAccounts is the precondition guard composed in front of
// operations that only make sense for users who own accounts.
func (s *Service) RequireAccounts(uid string) error {
	data, err := s.store.Load()
	if err != nil {
		return err
	}
	if !data.Users[uid].HasAccounts() {
		return ErrNoAccounts
	}
	return nil
}
