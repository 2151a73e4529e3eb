package sites

import (
	"context"
	"fmt"

	"renewbot-backend/lib/scrapers/nodeseek"
	"renewbot-backend/lib/timezone"
)

// NodeSeekAdapter covers NodeSeek-style forums (NodeSeek, DeepFlood):
// cookie-based sessions, a daily attendance API, turnstile-gated login.
type NodeSeekAdapter struct {
	info   Info
	client *nodeseek.Client
}

func NewNodeSeekAdapter(info Info, client *nodeseek.Client) *NodeSeekAdapter {
	return &NodeSeekAdapter{info: info, client: client}
}

func (a *NodeSeekAdapter) Info() Info { return a.info }

func (a *NodeSeekAdapter) Login(ctx context.Context, account, password string) LoginResult {
	cookie, err := a.client.Login(ctx, account, password)
	if err != nil {
		return LoginResult{OK: false, Message: err.Error()}
	}
	return LoginResult{OK: true, Message: "logged in", Cookie: cookie}
}

func (a *NodeSeekAdapter) Renew(ctx context.Context, req RenewRequest) RenewalResult {
	result := RenewalResult{
		Account: req.Account,
		Site:    a.info.ID,
		Time:    timezone.Now(),
	}

	checkin, err := a.client.CheckIn(ctx, req.Cookie, req.RandomMode)
	if err != nil {
		result.Outcome = OutcomeFailure
		result.Message = fmt.Sprintf("attendance request failed: %v", err)
		return result
	}

	switch checkin.Status {
	case nodeseek.StatusSuccess:
		result.Outcome = OutcomeSuccess
		result.Message = fmt.Sprintf("%s %s", a.info.Emoji, checkin.Message)
		result.CreditAmount = checkin.Amount
	case nodeseek.StatusAlreadyDone:
		// already checked in today counts as a kept-alive session
		result.Outcome = OutcomeSuccess
		result.Message = fmt.Sprintf("%s already checked in today", a.info.Emoji)
	case nodeseek.StatusBlocked:
		result.Outcome = OutcomeFailure
		result.Message = checkin.Message
	default:
		result.Outcome = OutcomeFailure
		result.Message = checkin.Message
	}
	return result
}

func (a *NodeSeekAdapter) ExpiredSignatures() []string {
	return []string{
		"unparseable attendance response",
		"用户不存在",
		"请先登录",
		"invalid user",
	}
}

var _ Adapter = (*NodeSeekAdapter)(nil)
