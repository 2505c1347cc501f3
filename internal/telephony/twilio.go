package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioProvider controls live calls through the Twilio REST API.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	client     *http.Client
}

type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	// BaseURL defaults to https://api.twilio.com.
	BaseURL string
	Client  *http.Client
}

func NewTwilioProvider(opts TwilioOptions) *TwilioProvider {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioProvider{
		accountSID: opts.AccountSID,
		authToken:  opts.AuthToken,
		baseURL:    base,
		client:     client,
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", p.baseURL, url.PathEscape(p.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return p.do(req)
}

// DropVoicemail redirects the live call to a Play+Hangup document.
func (p *TwilioProvider) DropVoicemail(ctx context.Context, in DropRequest) error {
	if in.ProviderCallID == "" {
		return fmt.Errorf("%w: provider call id required", ErrInvalidRequest)
	}
	twiml, err := RenderPlayAndHangup(in.MessageURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		p.baseURL, url.PathEscape(p.accountSID), url.PathEscape(in.ProviderCallID))
	form := url.Values{"Twiml": {twiml}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req)
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) do(req *http.Request) error {
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var te twilioError
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(body, &te) == nil && te.Message != "" {
		return fmt.Errorf("%w: status %d code %d: %s", ErrProvider, resp.StatusCode, te.Code, te.Message)
	}
	return fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
}
