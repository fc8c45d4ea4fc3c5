// Package provider implements mail-service connectors.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/pkg/apperr"
)

// =============================================================================
// Gmail Connector
// =============================================================================

const (
	connectorName = "gmail"
	tokenFileName = "gmail_token.json"
)

// GmailConfig holds OAuth client configuration plus the data dir where
// the token file lives.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	DataDir      string
}

// GmailConnector implements out.Connector for Gmail.
type GmailConnector struct {
	config    *oauth2.Config
	tokenPath string
	cb        *gobreaker.CircuitBreaker
	log       zerolog.Logger

	mu    sync.Mutex
	token *oauth2.Token

	labelMu  sync.Mutex
	labelIDs map[string]string // name -> label ID
}

func NewGmailConnector(cfg *GmailConfig, log zerolog.Logger) *GmailConnector {
	connLog := log.With().Str("component", "gmail").Logger()

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailModifyScope,
			gmail.GmailLabelsScope,
		},
		Endpoint: google.Endpoint,
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			connLog.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &GmailConnector{
		config:    oauthCfg,
		tokenPath: filepath.Join(cfg.DataDir, tokenFileName),
		cb:        cb,
		log:       connLog,
		labelIDs:  make(map[string]string),
	}
}

func (c *GmailConnector) Name() string { return connectorName }

func (c *GmailConnector) Capabilities() out.ConnectorCapabilities {
	return out.ConnectorCapabilities{SupportsPush: false, SupportsLabels: true}
}

// =============================================================================
// Authentication
// =============================================================================

// AuthURL returns the OAuth consent URL for the interactive setup flow.
func (c *GmailConnector) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeAndSave trades the authorization code for a token and persists
// it in the data dir.
func (c *GmailConnector) ExchangeAndSave(ctx context.Context, code string) error {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return apperr.ConnectorAuth(connectorName, err)
	}
	return c.saveToken(token)
}

// Authenticate loads the stored token and verifies it against the API,
// refreshing when expired.
func (c *GmailConnector) Authenticate(ctx context.Context) error {
	token, err := c.loadToken()
	if err != nil {
		return err
	}

	fresh, err := c.config.TokenSource(ctx, token).Token()
	if err != nil {
		return apperr.ConnectorAuth(connectorName, err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := c.saveToken(fresh); err != nil {
			return err
		}
	}

	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	if _, err := svc.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		return c.wrapAPIError(err)
	}
	return nil
}

func (c *GmailConnector) loadToken() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil {
		return c.token, nil
	}

	raw, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return nil, apperr.ConnectorAuth(connectorName,
			fmt.Errorf("no stored token, run setup first: %w", err))
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, apperr.ConnectorAuth(connectorName, err)
	}
	c.token = &token
	return c.token, nil
}

func (c *GmailConnector) saveToken(token *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(token)
	if err != nil {
		return apperr.ConnectorAuth(connectorName, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.tokenPath), 0o700); err != nil {
		return apperr.Storage("save token", err)
	}
	if err := os.WriteFile(c.tokenPath, raw, 0o600); err != nil {
		return apperr.Storage("save token", err)
	}
	c.token = token
	return nil
}

func (c *GmailConnector) service(ctx context.Context) (*gmail.Service, error) {
	token, err := c.loadToken()
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	svc, err := gmail.NewService(ctx,
		option.WithTokenSource(c.config.TokenSource(ctx, token)))
	if err != nil {
		return nil, apperr.ConnectorTransient(connectorName, err)
	}
	return svc, nil
}

// =============================================================================
// Pull
// =============================================================================

// Pull lists messages received after since, newest last, capped at max.
// NextSince is the latest ReceivedAt seen, so the caller can advance the
// watermark only after persisting the page.
func (c *GmailConnector) Pull(ctx context.Context, since time.Time, max int) (*out.PullResult, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 100
	}

	req := svc.Users.Messages.List("me").MaxResults(int64(max))
	if !since.IsZero() {
		// Gmail's after: operator has day granularity; exact filtering
		// happens below on the parsed timestamps.
		req = req.Q(fmt.Sprintf("after:%s", since.UTC().Format("2006/01/02")))
	}

	var refs []*gmail.Message
	pageToken := ""
	for len(refs) < max {
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		var resp *gmail.ListMessagesResponse
		if err := c.execute(ctx, func() error {
			var apiErr error
			resp, apiErr = req.Context(ctx).Do()
			return apiErr
		}); err != nil {
			return nil, err
		}
		refs = append(refs, resp.Messages...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(refs) > max {
		refs = refs[:max]
	}

	result := &out.PullResult{NextSince: since}
	for _, ref := range refs {
		m, err := c.GetMessage(ctx, ref.Id)
		if err != nil {
			return nil, err
		}
		if !since.IsZero() && !m.ReceivedAt.After(since) {
			continue
		}
		result.Messages = append(result.Messages, m)
		if m.ReceivedAt.After(result.NextSince) {
			result.NextSince = m.ReceivedAt
		}
	}
	c.log.Debug().Int("pulled", len(result.Messages)).Time("since", since).Msg("pull complete")
	return result, nil
}

// GetMessage fetches one message in full and maps it to the domain.
func (c *GmailConnector) GetMessage(ctx context.Context, externalID string) (*domain.Message, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	if err := c.execute(ctx, func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", externalID).Format("full").Context(ctx).Do()
		return apiErr
	}); err != nil {
		return nil, err
	}
	return c.convertMessage(msg), nil
}

// =============================================================================
// Mutations
// =============================================================================

func (c *GmailConnector) MarkRead(ctx context.Context, externalID string, read bool) error {
	if read {
		return c.modifyLabels(ctx, externalID, nil, []string{"UNREAD"})
	}
	return c.modifyLabels(ctx, externalID, []string{"UNREAD"}, nil)
}

func (c *GmailConnector) Archive(ctx context.Context, externalID string) error {
	return c.modifyLabels(ctx, externalID, nil, []string{"INBOX"})
}

// ApplyLabels adds and removes labels by display name, creating missing
// ones on the fly.
func (c *GmailConnector) ApplyLabels(ctx context.Context, externalID string, add, remove []string) error {
	addIDs, err := c.resolveLabelIDs(ctx, add, true)
	if err != nil {
		return err
	}
	removeIDs, err := c.resolveLabelIDs(ctx, remove, false)
	if err != nil {
		return err
	}
	if len(addIDs) == 0 && len(removeIDs) == 0 {
		return nil
	}
	return c.modifyLabels(ctx, externalID, addIDs, removeIDs)
}

func (c *GmailConnector) ListLabels(ctx context.Context) ([]string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	var resp *gmail.ListLabelsResponse
	if err := c.execute(ctx, func() error {
		var apiErr error
		resp, apiErr = svc.Users.Labels.List("me").Context(ctx).Do()
		return apiErr
	}); err != nil {
		return nil, err
	}

	c.labelMu.Lock()
	names := make([]string, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		c.labelIDs[l.Name] = l.Id
		names = append(names, l.Name)
	}
	c.labelMu.Unlock()
	return names, nil
}

func (c *GmailConnector) modifyLabels(ctx context.Context, externalID string, add, remove []string) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	return c.execute(ctx, func() error {
		_, apiErr := svc.Users.Messages.Modify("me", externalID, &gmail.ModifyMessageRequest{
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
		return apiErr
	})
}

func (c *GmailConnector) resolveLabelIDs(ctx context.Context, names []string, createMissing bool) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	c.labelMu.Lock()
	cached := len(c.labelIDs) > 0
	c.labelMu.Unlock()
	if !cached {
		if _, err := c.ListLabels(ctx); err != nil {
			return nil, err
		}
	}

	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, name := range names {
		c.labelMu.Lock()
		id, ok := c.labelIDs[name]
		c.labelMu.Unlock()
		if ok {
			ids = append(ids, id)
			continue
		}
		if !createMissing {
			continue
		}

		var created *gmail.Label
		if err := c.execute(ctx, func() error {
			var apiErr error
			created, apiErr = svc.Users.Labels.Create("me", &gmail.Label{
				Name:                  name,
				LabelListVisibility:   "labelShow",
				MessageListVisibility: "show",
			}).Context(ctx).Do()
			return apiErr
		}); err != nil {
			return nil, err
		}
		c.labelMu.Lock()
		c.labelIDs[name] = created.Id
		c.labelMu.Unlock()
		ids = append(ids, created.Id)
	}
	return ids, nil
}

// =============================================================================
// Conversion & Errors
// =============================================================================

func (c *GmailConnector) convertMessage(msg *gmail.Message) *domain.Message {
	m := &domain.Message{
		ExternalID:     msg.Id,
		ThreadID:       msg.ThreadId,
		ProviderLabels: msg.LabelIds,
		ReceivedAt:     time.UnixMilli(msg.InternalDate).UTC(),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				m.Subject = h.Value
			case "From":
				m.Sender = parseAddress(h.Value)
			case "To", "Cc":
				m.Recipients = append(m.Recipients, parseAddressList(h.Value)...)
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					m.SentAt = t.UTC()
				}
			}
		}
		text, html := extractBody(msg.Payload)
		m.BodyText = text
		m.BodyHTML = html
		m.AttachmentCount = countAttachments(msg.Payload)
		m.HasAttachments = m.AttachmentCount > 0
	}
	if m.SentAt.IsZero() {
		m.SentAt = m.ReceivedAt
	}

	for _, l := range msg.LabelIds {
		switch l {
		case "STARRED":
			m.IsFlagged = true
		case "CATEGORY_SOCIAL":
			m.Category = domain.CategorySocial
		case "CATEGORY_PROMOTIONS":
			m.Category = domain.CategoryPromotions
		case "CATEGORY_UPDATES":
			m.Category = domain.CategoryUpdates
		case "CATEGORY_FORUMS":
			m.Category = domain.CategoryForums
		case "SPAM":
			m.Category = domain.CategorySpam
		}
	}
	m.IsRead = !hasLabel(msg.LabelIds, "UNREAD")

	m.Normalize()
	return m
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func parseAddress(raw string) domain.Address {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return domain.Address{Address: strings.TrimSpace(raw)}
	}
	return domain.Address{Address: addr.Address, DisplayName: addr.Name}
}

func parseAddressList(raw string) []domain.Address {
	list, err := mail.ParseAddressList(raw)
	if err != nil {
		return []domain.Address{{Address: strings.TrimSpace(raw)}}
	}
	out := make([]domain.Address, len(list))
	for i, a := range list {
		out[i] = domain.Address{Address: a.Address, DisplayName: a.Name}
	}
	return out
}

func extractBody(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		decoded := decodeBody(part.Body.Data)
		switch part.MimeType {
		case "text/plain":
			return decoded, ""
		case "text/html":
			return "", decoded
		}
	}
	for _, p := range part.Parts {
		t, h := extractBody(p)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}
	return text, html
}

func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(
		strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

func countAttachments(part *gmail.MessagePart) int {
	if part == nil {
		return 0
	}
	n := 0
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		n++
	}
	for _, p := range part.Parts {
		n += countAttachments(p)
	}
	return n
}

// execute wraps an API call with the circuit breaker; failures are
// mapped onto the closed connector error kinds.
func (c *GmailConnector) execute(ctx context.Context, fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					// Client errors must not trip the breaker.
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		err = nce.err
	}
	if err == nil {
		return nil
	}
	return c.wrapAPIError(err)
}

func (c *GmailConnector) wrapAPIError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.ConnectorRateLimit(connectorName, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return apperr.ConnectorAuth(connectorName, err)
		case 403:
			if isRateLimit(apiErr) {
				return apperr.ConnectorRateLimit(connectorName, err)
			}
			return apperr.ConnectorAuth(connectorName, err)
		case 429:
			return apperr.ConnectorRateLimit(connectorName, err)
		}
	}
	return apperr.ConnectorTransient(connectorName, err)
}

func isRateLimit(err *googleapi.Error) bool {
	for _, e := range err.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Message), "rate limit")
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }

func (e *nonCircuitError) Unwrap() error { return e.err }
