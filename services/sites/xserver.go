package sites

import (
	"context"
	"fmt"

	"renewbot-backend/lib/scrapers/xserver"
	"renewbot-backend/lib/timezone"
)

// XServerAdapter renews a hosting lease through the login + renewal form
// flow. Sessions there are too short-lived to store, every renewal
// authenticates from scratch, so the one-shot refresh path never fires
// for this adapter in practice.
type XServerAdapter struct {
	info   Info
	client *xserver.Client
}

func NewXServerAdapter(info Info, client *xserver.Client) *XServerAdapter {
	return &XServerAdapter{info: info, client: client}
}

func (a *XServerAdapter) Info() Info { return a.info }

func (a *XServerAdapter) Login(ctx context.Context, account, password string) LoginResult {
	cookie, err := a.client.Login(ctx, account, password)
	if err != nil {
		return LoginResult{OK: false, Message: err.Error()}
	}
	return LoginResult{OK: true, Message: "logged in", Cookie: cookie}
}

func (a *XServerAdapter) Renew(ctx context.Context, req RenewRequest) RenewalResult {
	result := RenewalResult{
		Account: req.Account,
		Site:    a.info.ID,
		Time:    timezone.Now(),
	}

	renewal, err := a.client.Renew(ctx, req.Account, req.Password)
	if err != nil {
		result.Outcome = OutcomeFailure
		result.Message = err.Error()
		return result
	}

	if renewal.OK {
		result.Outcome = OutcomeSuccess
		result.Message = fmt.Sprintf("%s %s", a.info.Emoji, renewal.Message)
	} else {
		result.Outcome = OutcomeFailure
		result.Message = renewal.Message
	}
	return result
}

// ExpiredSignatures is empty: with login-per-renewal there is no stored
// session that could go stale mid-batch.
func (a *XServerAdapter) ExpiredSignatures() []string { return nil }

var _ Adapter = (*XServerAdapter)(nil)
