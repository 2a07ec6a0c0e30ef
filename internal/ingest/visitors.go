package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/lox/visitorlog/internal/htmlutil"
)

// VisitorCountSource returns the current number of visitors at the venue.
type VisitorCountSource interface {
	FetchCount(ctx context.Context) (int, error)
}

// Selector for the element holding the live count.
const (
	countTag   = "div"
	countAttr  = "style"
	countValue = "font-size: 2rem;"
)

// VisitorPage scrapes the count from the venue's public statistics page.
type VisitorPage struct {
	url   string
	fetch *fetcher
}

func NewVisitorPage(url string, cfg FetchConfig) *VisitorPage {
	return &VisitorPage{
		url:   url,
		fetch: newFetcher("visitors", cfg),
	}
}

func (v *VisitorPage) FetchCount(ctx context.Context) (int, error) {
	body, err := v.fetch.get(ctx, v.url, nil)
	if err != nil {
		return 0, err
	}
	return ParseVisitorCount(body)
}

// ParseVisitorCount extracts the count from a statistics page body.
func ParseVisitorCount(body []byte) (int, error) {
	doc, err := htmlutil.Parse(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParse, err)
	}

	el := htmlutil.FindElement(doc, countTag, countAttr, countValue)
	if el == nil {
		return 0, ErrElementNotFound
	}

	text := htmlutil.NodeText(el)
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: visitor count %q is not an integer", ErrParse, text)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: visitor count %d is negative", ErrParse, n)
	}
	return n, nil
}
