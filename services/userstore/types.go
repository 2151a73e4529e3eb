package userstore

// Account is one credential pair on one site. Cookie holds the opaque
// session artifact produced by the site's login flow, it is never
// interpreted here, only stored and handed back to the matching adapter.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Cookie   string `json:"cookie"`
}

// User is the persisted record for one chat-platform user. The JSON field
// names are kept compatible with data files written by earlier versions.
type User struct {
	DisplayName string `json:"tgUsername"`
	// siteId -> account name -> Account
	Accounts map[string]map[string]Account `json:"accounts"`
	// siteId -> whether to check in with the site's "random" mode
	Modes      map[string]bool `json:"modes"`
	SignHour   int             `json:"sign_hour"`
	SignMinute int             `json:"sign_minute"`
}

type Data struct {
	Users map[string]*User `json:"users"`
}

func NewData() *Data {
	return &Data{Users: map[string]*User{}}
}

// EnsureUser returns the record for uid, creating an empty one if needed.
func (d *Data) EnsureUser(uid string) *User {
	if d.Users == nil {
		d.Users = map[string]*User{}
	}
	u, ok := d.Users[uid]
	if !ok {
		u = &User{}
		d.Users[uid] = u
	}
	u.normalize()
	return u
}

func (u *User) normalize() (changed bool) {
	if u.Accounts == nil {
		u.Accounts = map[string]map[string]Account{}
		changed = true
	}
	for site, accounts := range u.Accounts {
		if accounts == nil {
			u.Accounts[site] = map[string]Account{}
			changed = true
		}
	}
	if u.Modes == nil {
		u.Modes = map[string]bool{}
		changed = true
	}
	if u.SignHour < 0 || u.SignHour > MaxScheduleHour {
		u.SignHour = 0
		changed = true
	}
	if u.SignMinute < 0 || u.SignMinute > 59 {
		u.SignMinute = 0
		changed = true
	}
	return changed
}

// HasAccounts reports whether the user owns at least one account on any
// site. Users without accounts are not allowed to exist in the store.
func (u *User) HasAccounts() bool {
	if u == nil {
		return false
	}
	for _, accounts := range u.Accounts {
		if len(accounts) > 0 {
			return true
		}
	}
	return false
}

func (u *User) SiteAccounts(site string) map[string]Account {
	if u == nil || u.Accounts == nil {
		return nil
	}
	return u.Accounts[site]
}
