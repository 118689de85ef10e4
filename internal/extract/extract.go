// Package extract normalizes raw parsed feed content into a single entry.
package extract

import (
	"html"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// Entry is a normalized feed item ready for dedup and dispatch.
type Entry struct {
	Title     string
	Link      string
	Published *time.Time
	ImageURL  string
}

// Latest selects the first (assumed newest) item of a parsed feed and
// normalizes it. Returns nil when the feed has no items. Callers must treat
// an empty Link as "no entry".
func Latest(feed *gofeed.Feed) *Entry {
	if feed == nil || len(feed.Items) == 0 {
		return nil
	}
	item := feed.Items[0]

	title := strings.TrimSpace(html.UnescapeString(item.Title))
	if title == "" {
		title = "No Title"
	}

	var published *time.Time
	if item.PublishedParsed != nil {
		published = item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed
	}

	return &Entry{
		Title:     title,
		Link:      strings.TrimSpace(item.Link),
		Published: published,
		ImageURL:  imageURL(item),
	}
}

// imageURL resolves an entry image using the fallback chain: media:content,
// media:thumbnail, image-typed enclosure, first <img> in the entry body.
func imageURL(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if url := ext.Attrs["url"]; url != "" {
					return url
				}
			}
		}
	}

	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}
	if body == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img").First().Attr("src")
	return src
}
