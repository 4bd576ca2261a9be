// Package scraper implements a booking session against the shifts site over
// plain HTTP, reading the room calendar with goquery.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/net/publicsuffix"

	"shift-booker/pkg/booker"
	"shift-booker/poll"
)

// ErrClosed is returned by a session after Close.
var ErrClosed = errors.New("session closed")

// ErrNoView is returned when a slot is inspected before a view was opened.
var ErrNoView = errors.New("no shifts view loaded")

// AuthError indicates the site rejected the login or the session expired.
type AuthError struct {
	URL    string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s (%s)", e.Reason, e.URL)
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ClaimError indicates a claim submission was not accepted.
type ClaimError struct {
	Target booker.SlotTarget
	Status int
	Reason string
}

func (e *ClaimError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("claim %s: HTTP %d", e.Target, e.Status)
	}
	return fmt.Sprintf("claim %s: %s", e.Target, e.Reason)
}

// IsClaimError checks if an error is a claim error.
func IsClaimError(err error) bool {
	var claimErr *ClaimError
	return errors.As(err, &claimErr)
}

// Config tunes a Session.
type Config struct {
	BaseURL      string
	Timeout      time.Duration // per request
	LoginTimeout time.Duration // login must land on a room page within this
	Attempts     uint          // page fetch attempts
	Transport    http.RoundTripper
}

// DefaultConfig returns settings for the production site.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Timeout:      30 * time.Second,
		LoginTimeout: 15 * time.Second,
		Attempts:     3,
	}
}

// Session is one logged-in connection to the site. It holds its own cookie
// jar and the most recently fetched view. Use one Session per account.
type Session struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	doc     *goquery.Document
	viewURL string
	closed  bool
}

var _ poll.Session = (*Session)(nil)
var _ poll.Refresher = (*Session)(nil)

// New creates a session with an empty cookie jar.
func New(cfg Config, logger *slog.Logger) (*Session, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Session{
		client: &http.Client{
			Jar:       jar,
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Authenticate submits the login form and succeeds when the site redirects
// to a room page.
func (s *Session) Authenticate(ctx context.Context, username, secret string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.cfg.LoginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LoginTimeout)
		defer cancel()
	}

	loginURL := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/login/"
	doc, _, err := s.fetch(ctx, loginURL, "login_form")
	if err != nil {
		return fmt.Errorf("fetch login page: %w", err)
	}

	userField := doc.Find("#id_username").First()
	passField := doc.Find("#id_password").First()
	if userField.Length() == 0 || passField.Length() == 0 {
		return &AuthError{URL: loginURL, Reason: "login form not found"}
	}

	form := url.Values{}
	userField.Closest("form").Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		form.Set(in.AttrOr("name", ""), in.AttrOr("value", ""))
	})
	form.Set(userField.AttrOr("name", "username"), username)
	form.Set(passField.AttrOr("name", "password"), secret)

	action := loginURL
	if a := strings.TrimSpace(userField.Closest("form").AttrOr("action", "")); a != "" {
		action, err = resolve(loginURL, a)
		if err != nil {
			return fmt.Errorf("resolve login action: %w", err)
		}
	}

	s.logger.Info("HTTP request starting", "method", "POST", "url", action, "purpose", "login")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &AuthError{URL: action, Reason: "no room page reached within " + s.cfg.LoginTimeout.String()}
		}
		return fmt.Errorf("submit login: %w", err)
	}
	defer s.closeBody(resp)

	if !strings.Contains(resp.Request.URL.Path, "/rooms/") {
		s.logger.Warn("Login did not reach a room page", "final_url", resp.Request.URL.String(), "status_code", resp.StatusCode)
		return &AuthError{URL: resp.Request.URL.String(), Reason: "credentials rejected"}
	}
	s.logger.Info("Login succeeded", "final_url", resp.Request.URL.String())
	return nil
}

// ResolveTargetView opens the room calendar month that covers targets.
func (s *Session) ResolveTargetView(ctx context.Context, room string, targets booker.TargetSet) (poll.View, error) {
	if err := s.checkOpen(); err != nil {
		return poll.View{}, err
	}
	viewURL := ShiftsURL(s.cfg.BaseURL, room, targets, s.now())
	doc, _, err := s.fetch(ctx, viewURL, "open_shifts_view")
	if err != nil {
		return poll.View{}, err
	}
	s.mu.Lock()
	s.doc = doc
	s.viewURL = viewURL
	s.mu.Unlock()
	return poll.View{URL: viewURL}, nil
}

// Refresh re-reads the current view.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.RLock()
	viewURL := s.viewURL
	s.mu.RUnlock()
	if viewURL == "" {
		return ErrNoView
	}

	doc, _, err := s.fetch(ctx, viewURL, "refresh_shifts_view")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// FindSlot reports what the last fetched view shows for target.
func (s *Session) FindSlot(ctx context.Context, target booker.SlotTarget) (booker.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return booker.NotPresent, ErrClosed
	}
	if s.doc == nil {
		return booker.NotPresent, ErrNoView
	}
	return observe(s.doc, target), nil
}

// Claim submits the claim action of target's button. It is not retried: a
// repeated submission could book twice or lose the race anyway.
func (s *Session) Claim(ctx context.Context, target booker.SlotTarget) error {
	s.mu.RLock()
	closed, doc, viewURL := s.closed, s.doc, s.viewURL
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if doc == nil {
		return ErrNoView
	}

	button := findShift(doc, target).Find(claimSelector).First()
	if button.Length() == 0 {
		return &ClaimError{Target: target, Reason: "claim button not found"}
	}
	action, fields := claimAction(button)
	if action == "" {
		return &ClaimError{Target: target, Reason: "claim button has no action"}
	}
	endpoint, err := resolve(viewURL, action)
	if err != nil {
		return &ClaimError{Target: target, Reason: err.Error()}
	}

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}

	s.logger.Info("HTTP request starting", "method", "POST", "url", endpoint, "purpose", "claim", "target", target.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", viewURL)
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	if token := s.csrf(doc, endpoint); token != "" {
		req.Header.Set("X-CSRFToken", token)
	}
	if _, ok := button.Attr("hx-post"); ok {
		req.Header.Set("HX-Request", "true")
		req.Header.Set("HX-Current-URL", viewURL)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return &ClaimError{Target: target, Reason: err.Error()}
	}
	defer s.closeBody(resp)

	s.logger.Info("HTTP request completed",
		"url", endpoint,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ClaimError{Target: target, Status: resp.StatusCode}
	}
	return nil
}

// Close releases the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.doc = nil
	s.client.CloseIdleConnections()
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// csrf prefers the csrftoken cookie, which Django rotates on login, over the
// token embedded in the page.
func (s *Session) csrf(doc *goquery.Document, endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil {
		for _, c := range s.client.Jar.Cookies(u) {
			if c.Name == "csrftoken" {
				return c.Value
			}
		}
	}
	return csrfToken(doc)
}

// fetch GETs pageURL and parses it, retrying transient failures. It returns
// the document and the final URL after redirects.
func (s *Session) fetch(ctx context.Context, pageURL, purpose string) (*goquery.Document, string, error) {
	var (
		doc      *goquery.Document
		finalURL string
	)

	err := retry.Do(
		func() error {
			s.logger.Debug("HTTP request starting",
				"method", "GET",
				"url", pageURL,
				"purpose", purpose)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			setBrowserHeaders(req)

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer s.closeBody(resp)

			s.logger.Debug("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
				return &AuthError{URL: pageURL, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
			}
			if purpose != "login_form" && strings.HasSuffix(strings.TrimSuffix(resp.Request.URL.Path, "/"), "/login") {
				return &AuthError{URL: pageURL, Reason: "redirected to login"}
			}
			if resp.StatusCode != http.StatusOK {
				s.logger.Warn("HTTP request returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			parsed, err := goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				s.logger.Error("Failed to parse HTML", "error", err)
				return retry.Unrecoverable(err)
			}
			doc = parsed
			finalURL = resp.Request.URL.String()
			return nil
		},
		retry.Attempts(s.cfg.Attempts),
		retry.Delay(250*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsAuthError(err)
		}),
	)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return doc, finalURL, nil
}

func (s *Session) closeBody(resp *http.Response) {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		s.logger.Debug("Failed to drain response body", "error", err)
	}
	if err := resp.Body.Close(); err != nil {
		s.logger.Warn("Failed to close response body", "error", err)
	}
}

// setBrowserHeaders sets Chrome-like headers; the site blocks bare clients.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ar,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Sec-Ch-Ua", `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
