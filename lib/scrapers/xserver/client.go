package xserver

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"renewbot-backend/lib/scrapers/solver"
	"renewbot-backend/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("scrapers/xserver")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// Client drives the XServer login + lease-renewal form flow. The site
// has no session API: every renewal is a fresh login (image captcha via
// OCR, turnstile challenge, hidden form fields harvested off the page).
type Client struct {
	opts    Options
	baseUrl *url.URL
	solver  *solver.Client
}

type Options struct {
	BaseUrl  string
	LoginUrl string
	RenewUrl string
	// CaptchaUrl overrides captcha image discovery when the login page
	// doesn't make it guessable.
	CaptchaUrl string

	TurnstileSitekey      string
	RenewTurnstileSitekey string

	// form field names, defaulted to the common deployment
	UserField      string
	PassField      string
	CaptchaField   string
	TurnstileField string

	// extra static form values merged into the login/renew submissions
	ExtraLoginForm map[string]string
	RenewForm      map[string]string

	// response classification keywords; empty keywords skip that check
	LoginSuccessKeyword string
	LoginFailureKeyword string
	RenewSuccessKeyword string
	RenewFailureKeyword string

	Solver *solver.Client
}

func (o *Options) fillDefaults() {
	if o.LoginUrl == "" {
		o.LoginUrl = o.BaseUrl + "/login/"
	}
	if o.RenewUrl == "" {
		o.RenewUrl = o.BaseUrl + "/xserver/renew/"
	}
	if o.UserField == "" {
		o.UserField = "username"
	}
	if o.PassField == "" {
		o.PassField = "password"
	}
	if o.CaptchaField == "" {
		o.CaptchaField = "captcha"
	}
	if o.TurnstileField == "" {
		o.TurnstileField = "cf-turnstile-response"
	}
	if o.RenewTurnstileSitekey == "" {
		o.RenewTurnstileSitekey = o.TurnstileSitekey
	}
}

func NewClient(opts Options) (*Client, error) {
	opts.fillDefaults()
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	return &Client{opts: opts, baseUrl: baseUrl, solver: opts.Solver}, nil
}

func (c *Client) newSession() (*resty.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	session := resty.New()
	session.SetCookieJar(jar)
	session.SetHeader("user-agent", userAgent)
	session.SetHeader("referer", c.opts.LoginUrl)
	session.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(session, "scrapers/xserver/http")
	return session, nil
}

func hiddenInputs(doc *goquery.Document) map[string]string {
	out := map[string]string{}
	doc.Find(`input[type="hidden"]`).Each(func(_ int, sel *goquery.Selection) {
		name, ok := sel.Attr("name")
		if !ok || name == "" {
			return
		}
		out[name] = sel.AttrOr("value", "")
	})
	return out
}

func (c *Client) captchaUrl(doc *goquery.Document, pageUrl *url.URL) string {
	if c.opts.CaptchaUrl != "" {
		ref, err := url.Parse(c.opts.CaptchaUrl)
		if err != nil {
			return ""
		}
		return pageUrl.ResolveReference(ref).String()
	}

	found := ""
	first := ""
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			return true
		}
		if first == "" {
			first = src
		}
		if strings.Contains(strings.ToLower(src), "captcha") {
			found = src
			return false
		}
		return true
	})
	if found == "" {
		found = first
	}
	if found == "" {
		return ""
	}
	ref, err := url.Parse(found)
	if err != nil {
		return ""
	}
	return pageUrl.ResolveReference(ref).String()
}

func cookieHeader(session *resty.Client, base *url.URL) string {
	jar := session.GetClient().Jar
	if jar == nil {
		return ""
	}
	var pairs []string
	for _, cookie := range jar.Cookies(base) {
		pairs = append(pairs, fmt.Sprintf("%s=%s", cookie.Name, cookie.Value))
	}
	return strings.Join(pairs, "; ")
}

// Login walks the full login flow and returns the resulting session
// cookie string. All expected failures come back as errors with a
// human-readable cause, the caller turns them into result values.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	session, err := c.newSession()
	if err != nil {
		return "", err
	}

	res, err := session.R().SetContext(ctx).Get(c.opts.LoginUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login page fetch failed")
		return "", fmt.Errorf("fetch login page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return "", fmt.Errorf("parse login page: %w", err)
	}

	loginUrl, err := url.Parse(c.opts.LoginUrl)
	if err != nil {
		return "", err
	}
	captchaUrl := c.captchaUrl(doc, loginUrl)
	if captchaUrl == "" {
		return "", fmt.Errorf("no captcha image found on the login page")
	}
	captchaRes, err := session.R().SetContext(ctx).Get(captchaUrl)
	if err != nil {
		return "", fmt.Errorf("fetch captcha image: %w", err)
	}

	captchaText, err := c.solver.SolveCaptcha(ctx, captchaRes.Body())
	if err != nil {
		return "", fmt.Errorf("solve captcha: %w", err)
	}
	turnstileToken, err := c.solver.SolveTurnstile(ctx, c.opts.LoginUrl, c.opts.TurnstileSitekey)
	if err != nil {
		return "", fmt.Errorf("solve turnstile: %w", err)
	}

	form := hiddenInputs(doc)
	for k, v := range c.opts.ExtraLoginForm {
		form[k] = v
	}
	form[c.opts.UserField] = username
	form[c.opts.PassField] = password
	form[c.opts.CaptchaField] = captchaText
	form[c.opts.TurnstileField] = turnstileToken

	loginRes, err := session.R().
		SetContext(ctx).
		SetFormData(form).
		Post(c.opts.LoginUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login submit failed")
		return "", fmt.Errorf("submit login form: %w", err)
	}

	body := loginRes.String()
	if c.opts.LoginFailureKeyword != "" && strings.Contains(body, c.opts.LoginFailureKeyword) {
		return "", fmt.Errorf("login rejected: bad credentials or captcha")
	}
	if c.opts.LoginSuccessKeyword != "" && !strings.Contains(body, c.opts.LoginSuccessKeyword) {
		return "", fmt.Errorf("login response carried no success marker")
	}
	if loginRes.StatusCode() >= 400 {
		return "", fmt.Errorf("login failed: HTTP %d", loginRes.StatusCode())
	}

	return cookieHeader(session, c.baseUrl), nil
}

type RenewResult struct {
	OK      bool
	Message string
	// Cookie is the session produced by the login leg, handed back so
	// the caller can store it even when the renew leg fails.
	Cookie string
}

// Renew performs a login followed by the renewal form submission.
func (c *Client) Renew(ctx context.Context, username, password string) (RenewResult, error) {
	ctx, span := tracer.Start(ctx, "Renew")
	defer span.End()

	cookie, err := c.Login(ctx, username, password)
	if err != nil {
		return RenewResult{}, err
	}

	session, err := c.newSession()
	if err != nil {
		return RenewResult{}, err
	}
	session.SetHeader("referer", c.opts.RenewUrl)
	injectCookieHeader(session, cookie)

	form := map[string]string{}
	preRes, err := session.R().SetContext(ctx).Get(c.opts.RenewUrl)
	if err == nil {
		doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(preRes.Body()))
		if docErr == nil {
			form = hiddenInputs(doc)
		}
	}
	for k, v := range c.opts.RenewForm {
		form[k] = v
	}

	// the renew page doesn't always gate on turnstile, a solve failure
	// here is not fatal
	token, err := c.solver.SolveTurnstile(ctx, c.opts.RenewUrl, c.opts.RenewTurnstileSitekey)
	if err == nil && token != "" {
		form[c.opts.TurnstileField] = token
	}

	renewRes, err := session.R().
		SetContext(ctx).
		SetFormData(form).
		Post(c.opts.RenewUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "renew submit failed")
		return RenewResult{}, fmt.Errorf("submit renew form: %w", err)
	}

	body := renewRes.String()
	switch {
	case c.opts.RenewFailureKeyword != "" && strings.Contains(body, c.opts.RenewFailureKeyword):
		return RenewResult{OK: false, Message: "renewal rejected by the site", Cookie: cookie}, nil
	case c.opts.RenewSuccessKeyword != "" && !strings.Contains(body, c.opts.RenewSuccessKeyword):
		return RenewResult{OK: false, Message: "renewal response carried no success marker", Cookie: cookie}, nil
	case renewRes.StatusCode() >= 400:
		return RenewResult{OK: false, Message: fmt.Sprintf("renewal failed: HTTP %d", renewRes.StatusCode()), Cookie: cookie}, nil
	}

	return RenewResult{OK: true, Message: "renewal request submitted", Cookie: cookie}, nil
}

func injectCookieHeader(session *resty.Client, cookie string) {
	if cookie != "" {
		session.SetHeader("cookie", cookie)
	}
}
