package nodeseek

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"renewbot-backend/lib/scrapers/solver"
	"renewbot-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("scrapers/nodeseek")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// Client scrapes a NodeSeek-style forum (NodeSeek and DeepFlood run the
// same software, only the base url and turnstile sitekey differ).
type Client struct {
	baseUrl *url.URL
	sitekey string
	http    *resty.Client
	solver  *solver.Client
}

type Options struct {
	BaseUrl          string
	TurnstileSitekey string
	Solver           *solver.Client
}

func NewClient(opts Options) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	// this client carries no jar on purpose: check-in calls pass the
	// stored cookie explicitly so concurrent accounts cannot bleed
	// sessions into each other
	http := resty.New()
	http.SetBaseURL(opts.BaseUrl)
	http.SetHeader("user-agent", userAgent)
	http.SetTimeout(time.Second * 30)
	http.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(http.GetClient().Transport)
	telemetry.InstrumentResty(http, "scrapers/nodeseek/http")

	return &Client{
		baseUrl: baseUrl,
		sitekey: opts.TurnstileSitekey,
		http:    http,
		solver:  opts.Solver,
	}, nil
}

func (c *Client) newLoginSession() (*resty.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	session := resty.New()
	session.SetBaseURL(c.baseUrl.String())
	session.SetCookieJar(jar)
	session.SetHeader("user-agent", userAgent)
	session.SetTimeout(time.Second * 30)
	session.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(session.GetClient().Transport)
	telemetry.InstrumentResty(session, "scrapers/nodeseek/http")
	return session, nil
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

type signInResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login signs in with a solved turnstile token and returns the complete
// session cookie string. FlareSolverr clearance cookies are injected
// first when available.
func (c *Client) Login(ctx context.Context, user, password string) (string, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	loginUrl := c.baseUrl.String() + "/signIn.html"

	flareCookies := c.solver.FlaresolverrCookies(ctx, loginUrl)

	token, err := c.solver.SolveTurnstile(ctx, loginUrl, c.sitekey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turnstile solve failed")
		return "", fmt.Errorf("solve turnstile: %w", err)
	}

	session, err := c.newLoginSession()
	if err != nil {
		return "", err
	}

	// best effort, primes whatever cookies the site hands out pre-login
	session.R().SetContext(ctx).Get("/signIn.html")

	var injected []*http.Cookie
	for name, value := range flareCookies {
		injected = append(injected, &http.Cookie{Name: name, Value: value})
	}
	if len(injected) > 0 {
		session.GetClient().Jar.SetCookies(c.baseUrl, injected)
	}

	payload := map[string]string{
		"password": password,
		"token":    token,
		"source":   "turnstile",
	}
	if strings.Contains(user, "@") {
		payload["email"] = user
	} else {
		payload["username"] = user
	}

	var res signInResponse
	_, err = session.R().
		SetContext(ctx).
		SetHeader("origin", c.baseUrl.String()).
		SetHeader("referer", loginUrl).
		SetBody(payload).
		SetResult(&res).
		Post("/api/account/signIn")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign-in request failed")
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("sign-in rejected: %s", res.Message)
	}

	// the full cookie set only materializes after follow-up page loads
	session.R().SetContext(ctx).Get("/")
	session.R().SetContext(ctx).Get("/user/profile")

	cookie := cookieHeader(session, c.baseUrl)
	if cookie == "" {
		return "", fmt.Errorf("sign-in succeeded but produced no cookies")
	}
	return cookie, nil
}

type CheckInStatus int

const (
	StatusSuccess CheckInStatus = iota
	StatusAlreadyDone
	StatusBlocked
	StatusFailed
)

type CheckInResult struct {
	Status  CheckInStatus
	Message string
	// Amount is the earned credit on a successful check-in.
	Amount int
}

var amountRegex = regexp.MustCompile(`\d+`)

type attendanceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CheckIn performs the daily attendance call with a stored cookie.
// A transport-level failure comes back as an error, everything else is
// a classified result.
func (c *Client) CheckIn(ctx context.Context, cookie string, random bool) (CheckInResult, error) {
	ctx, span := tracer.Start(ctx, "CheckIn")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("cookie", cookie).
		SetHeader("origin", c.baseUrl.String()).
		SetHeader("referer", c.baseUrl.String()+"/board").
		Post(fmt.Sprintf("/api/attendance?random=%t", random))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attendance request failed")
		return CheckInResult{}, err
	}

	if res.StatusCode() == 403 {
		return CheckInResult{
			Status:  StatusBlocked,
			Message: "blocked by site risk control",
		}, nil
	}

	var body attendanceResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		// an expired session serves the login page instead of json
		return CheckInResult{
			Status:  StatusFailed,
			Message: "unparseable attendance response",
		}, nil
	}

	if body.Success {
		amount := 0
		if m := amountRegex.FindString(body.Message); m != "" {
			amount, _ = strconv.Atoi(m)
		}
		return CheckInResult{
			Status:  StatusSuccess,
			Message: body.Message,
			Amount:  amount,
		}, nil
	}

	lower := strings.ToLower(body.Message)
	if strings.Contains(lower, "already") || strings.Contains(body.Message, "重复") {
		return CheckInResult{
			Status:  StatusAlreadyDone,
			Message: body.Message,
		}, nil
	}

	return CheckInResult{
		Status:  StatusFailed,
		Message: body.Message,
	}, nil
}
