package models

// Target is a resolved destination: the page (container) and the optional
// block after which text is appended.
type Target struct {
	PageID   string `json:"pageId"`
	AnchorID string `json:"anchorId,omitempty"`
}

// Cursor is a session's append position.
type Cursor struct {
	PageID              string `json:"pageId"`
	AnchorID            string `json:"anchorId,omitempty"`
	LastAppendedBlockID string `json:"lastAppendedBlockId,omitempty"`
}

// After returns the block the next append must follow. Empty means the end
// of the page.
func (c Cursor) After() string {
	if c.LastAppendedBlockID != "" {
		return c.LastAppendedBlockID
	}
	return c.AnchorID
}
