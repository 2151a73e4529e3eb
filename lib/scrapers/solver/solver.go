package solver

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"renewbot-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("scrapers/solver")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// Client talks to the external challenge-solving services: a
// Turnstile-solver API, a FlareSolverr instance and a captcha OCR
// endpoint. All of them are optional, callers must handle an empty
// token/cookie set.
type Client struct {
	http *resty.Client

	apiBaseUrl      string
	clientKey       string
	flaresolverrUrl string
	ocrUrl          string
}

type Options struct {
	// ApiBaseUrl and ClientKey configure the Turnstile task API.
	ApiBaseUrl string
	ClientKey  string
	// FlaresolverrUrl is the local FlareSolverr endpoint, may be empty.
	FlaresolverrUrl string
	// OcrUrl is the captcha OCR endpoint, may be empty.
	OcrUrl string
}

func NewClient(opts Options) *Client {
	http := resty.New()
	http.SetHeader("user-agent", userAgent)
	http.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(http, "scrapers/solver/http")

	return &Client{
		http:            http,
		apiBaseUrl:      opts.ApiBaseUrl,
		clientKey:       opts.ClientKey,
		flaresolverrUrl: opts.FlaresolverrUrl,
		ocrUrl:          opts.OcrUrl,
	}
}

type createTaskResponse struct {
	TaskId string `json:"taskId"`
}

type taskResultResponse struct {
	Status   string `json:"status"`
	Solution struct {
		Token string `json:"token"`
	} `json:"solution"`
	Result struct {
		Response struct {
			Token string `json:"token"`
		} `json:"response"`
	} `json:"result"`
}

// SolveTurnstile creates a solving task and polls until a token comes
// back. It can easily take a minute, bound it with the passed context.
func (c *Client) SolveTurnstile(ctx context.Context, pageUrl, sitekey string) (string, error) {
	ctx, span := tracer.Start(ctx, "SolveTurnstile")
	defer span.End()

	if c.apiBaseUrl == "" || c.clientKey == "" || sitekey == "" {
		return "", fmt.Errorf("turnstile solver is not configured")
	}

	var created createTaskResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"clientKey": c.clientKey,
			"type":      "Turnstile",
			"url":       pageUrl,
			"siteKey":   sitekey,
		}).
		SetResult(&created).
		Post(c.apiBaseUrl + "/createTask")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create task request failed")
		return "", err
	}
	if created.TaskId == "" {
		return "", fmt.Errorf("createTask response carried no taskId")
	}

	ticker := time.NewTicker(time.Second * 6)
	defer ticker.Stop()
	for attempt := 1; attempt <= 20; attempt++ {
		var result taskResultResponse
		_, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{
				"clientKey": c.clientKey,
				"taskId":    created.TaskId,
			}).
			SetResult(&result).
			Post(c.apiBaseUrl + "/getTaskResult")
		if err == nil && (result.Status == "completed" || result.Status == "ready") {
			token := result.Solution.Token
			if token == "" {
				token = result.Result.Response.Token
			}
			if token == "" {
				return "", fmt.Errorf("solver finished without a token")
			}
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}

	return "", fmt.Errorf("timed out waiting for turnstile token")
}

type flaresolverrResponse struct {
	Solution struct {
		Cookies []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"cookies"`
	} `json:"solution"`
}

// FlaresolverrCookies renders pageUrl through FlareSolverr and returns
// the clearance cookies it collected. Missing configuration or any
// failure yields an empty map, the login flow works without it, just
// with worse odds.
func (c *Client) FlaresolverrCookies(ctx context.Context, pageUrl string) map[string]string {
	ctx, span := tracer.Start(ctx, "FlaresolverrCookies")
	defer span.End()

	if c.flaresolverrUrl == "" {
		return nil
	}

	var res flaresolverrResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"cmd":        "request.get",
			"url":        pageUrl,
			"maxTimeout": 120000,
		}).
		SetResult(&res).
		Post(c.flaresolverrUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flaresolverr request failed")
		return nil
	}

	cookies := map[string]string{}
	for _, cookie := range res.Solution.Cookies {
		cookies[cookie.Name] = cookie.Value
	}
	return cookies
}

type ocrResponse struct {
	Text    string `json:"text"`
	Result  string `json:"result"`
	Code    string `json:"code"`
	Captcha string `json:"captcha"`
	Answer  string `json:"answer"`
	Data    *struct {
		Text   string `json:"text"`
		Result string `json:"result"`
	} `json:"data"`
}

func (o ocrResponse) text() string {
	for _, v := range []string{o.Text, o.Result, o.Code, o.Captcha, o.Answer} {
		if v != "" {
			return v
		}
	}
	if o.Data != nil {
		if o.Data.Text != "" {
			return o.Data.Text
		}
		return o.Data.Result
	}
	return ""
}

// SolveCaptcha feeds a captcha image to the OCR endpoint. The endpoint's
// response shape varies between deployments, every known field name is
// tried before giving up.
func (c *Client) SolveCaptcha(ctx context.Context, image []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "SolveCaptcha")
	defer span.End()

	if c.ocrUrl == "" {
		return "", fmt.Errorf("ocr endpoint is not configured")
	}

	var res ocrResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"image": base64.StdEncoding.EncodeToString(image),
		}).
		SetResult(&res).
		Post(c.ocrUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ocr request failed")
		return "", err
	}

	text := res.text()
	if text == "" {
		return "", fmt.Errorf("ocr response carried no text")
	}
	return text, nil
}
