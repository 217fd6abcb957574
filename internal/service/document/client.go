// Package document is the client for the destination document service. It
// resolves page URLs, verifies access and appends paragraph blocks.
package document

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
)

var (
	// ErrInvalidURL is returned when a page URL does not match the page URL grammar.
	ErrInvalidURL = errors.New("invalid document url")
	// ErrAccessDenied covers every failure to read the target: network,
	// permission and not-found alike.
	ErrAccessDenied = errors.New("document access denied")
	// ErrRemote is returned when an append fails.
	ErrRemote = errors.New("document remote error")
)

const (
	defaultAPIURL  = "https://api.notion.com"
	defaultVersion = "2022-06-28"
)

// Config configures a Client. APIURL only needs setting to reach a proxy
// or a local stand-in for the public API.
type Config struct {
	APIKey        string
	APIURL        string
	Version       string
	PageURLPrefix string
	HTTPClient    *http.Client
}

// Client talks to the document service through the Notion SDK.
type Client struct {
	notion     *notionapi.Client
	pagePrefix string
	logger     zerolog.Logger
}

// NewClient builds a Client, filling unset fields with the public defaults.
func NewClient(cfg Config) *Client {
	version := cfg.Version
	if version == "" {
		version = defaultVersion
	}
	prefix := cfg.PageURLPrefix
	if prefix == "" {
		prefix = DefaultPageURLPrefix
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL != "" && apiURL != defaultAPIURL {
		if target, err := url.Parse(apiURL); err == nil && target.Host != "" {
			rewritten := *httpClient
			rewritten.Transport = &baseURLTransport{target: target, base: httpClient.Transport}
			httpClient = &rewritten
		}
	}

	return &Client{
		notion: notionapi.NewClient(
			notionapi.Token(cfg.APIKey),
			notionapi.WithHTTPClient(httpClient),
			notionapi.WithVersion(version),
		),
		pagePrefix: prefix,
		logger:     logging.WithComponent("document"),
	}
}

// ResolveTarget parses a page URL into its page and anchor ids.
func (c *Client) ResolveTarget(rawURL string) (models.Target, error) {
	return ParseTarget(c.pagePrefix, rawURL)
}

// VerifyAccess reads the anchor block, or the page itself when no anchor is
// set. Any failure is reported as ErrAccessDenied.
func (c *Client) VerifyAccess(ctx context.Context, target models.Target) error {
	id := target.AnchorID
	if id == "" {
		id = target.PageID
	}
	if id == "" {
		return fmt.Errorf("%w: empty target", ErrAccessDenied)
	}

	if _, err := c.notion.Block.Get(ctx, notionapi.BlockID(id)); err != nil {
		c.logger.Warn().Err(err).Str("blockId", id).Msg("access check failed")
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return nil
}

// AppendText appends one paragraph block after cursor.After() on the
// cursor's page and returns the new block id. Each call creates a new block.
func (c *Client) AppendText(ctx context.Context, cursor models.Cursor, text string) (string, error) {
	if cursor.PageID == "" {
		return "", fmt.Errorf("%w: cursor has no page", ErrRemote)
	}

	req := &notionapi.AppendBlockChildrenRequest{
		After:    notionapi.BlockID(cursor.After()),
		Children: []notionapi.Block{paragraph(text)},
	}
	resp, err := c.notion.Block.AppendChildren(ctx, notionapi.BlockID(cursor.PageID), req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemote, err)
	}
	if resp == nil || len(resp.Results) == 0 || resp.Results[0].GetID() == "" {
		return "", fmt.Errorf("%w: append returned no block", ErrRemote)
	}

	newID := resp.Results[0].GetID().String()
	c.logger.Debug().
		Str("pageId", cursor.PageID).
		Str("after", cursor.After()).
		Str("blockId", newID).
		Msg("appended block")
	return newID, nil
}

func paragraph(text string) *notionapi.ParagraphBlock {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{
			RichText: []notionapi.RichText{{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{Content: text},
			}},
		},
	}
}

// baseURLTransport sends SDK requests to another scheme and host, keeping
// the path.
type baseURLTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t *baseURLTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Host = t.target.Host
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}
