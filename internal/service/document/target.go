package document

import (
	"fmt"
	"net/url"
	"strings"

	"speech-to-notion/internal/models"
)

// DefaultPageURLPrefix is the public page URL prefix of the document service.
const DefaultPageURLPrefix = "https://www.notion.so/"

// ParseTarget resolves a page URL against prefix. The last path segment,
// after its final '-', is the page id; the optional fragment is the anchor
// block id. Both must be alphanumeric. The query string is ignored.
func ParseTarget(prefix, raw string) (models.Target, error) {
	base, err := url.Parse(prefix)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return models.Target{}, fmt.Errorf("%w: bad page prefix %q", ErrInvalidURL, prefix)
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return models.Target{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return models.Target{}, fmt.Errorf("%w: %q is not under %s", ErrInvalidURL, raw, prefix)
	}

	basePath := strings.TrimSuffix(base.Path, "/")
	if !strings.HasPrefix(u.Path, basePath+"/") {
		return models.Target{}, fmt.Errorf("%w: %q is not under %s", ErrInvalidURL, raw, prefix)
	}
	rest := strings.Trim(strings.TrimPrefix(u.Path, basePath), "/")
	if rest == "" {
		return models.Target{}, fmt.Errorf("%w: missing page segment", ErrInvalidURL)
	}

	segment := rest[strings.LastIndex(rest, "/")+1:]
	pageID := segment[strings.LastIndex(segment, "-")+1:]
	if !isAlphanumeric(pageID) {
		return models.Target{}, fmt.Errorf("%w: bad page id %q", ErrInvalidURL, pageID)
	}

	anchorID := u.Fragment
	if anchorID != "" && !isAlphanumeric(anchorID) {
		return models.Target{}, fmt.Errorf("%w: bad block id %q", ErrInvalidURL, anchorID)
	}

	return models.Target{PageID: pageID, AnchorID: anchorID}, nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
