package contentful

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Article is the flattened view of an article entry.
type Article struct {
	ID           string          `json:"id" cbor:"id" msgpack:"id"`
	Title        string          `json:"title" cbor:"title" msgpack:"title"`
	Slug         string          `json:"slug" cbor:"slug" msgpack:"slug"`
	Summary      string          `json:"summary,omitempty" cbor:"summary,omitempty" msgpack:"summary,omitempty"`
	Details      json.RawMessage `json:"details,omitempty" cbor:"details,omitempty" msgpack:"details,omitempty"` // rich text document
	Date         string          `json:"date,omitempty" cbor:"date,omitempty" msgpack:"date,omitempty"`
	AuthorName   string          `json:"authorName,omitempty" cbor:"authorName,omitempty" msgpack:"authorName,omitempty"`
	CategoryName string          `json:"categoryName,omitempty" cbor:"categoryName,omitempty" msgpack:"categoryName,omitempty"`
	ImageURL     string          `json:"imageUrl,omitempty" cbor:"imageUrl,omitempty" msgpack:"imageUrl,omitempty"`
}

// ParseArticles flattens an entries response. Items without sys.id are
// skipped.
func ParseArticles(body []byte) []Article {
	assets := make(map[string]string)
	gjson.GetBytes(body, "includes.Asset").ForEach(func(_, a gjson.Result) bool {
		if id := a.Get("sys.id").String(); id != "" {
			assets[id] = assetURL(a.Get("fields.file.url").String())
		}
		return true
	})

	items := gjson.GetBytes(body, "items").Array()
	out := make([]Article, 0, len(items))
	for _, it := range items {
		id := it.Get("sys.id").String()
		if id == "" {
			continue
		}
		f := it.Get("fields")
		a := Article{
			ID:           id,
			Title:        f.Get("title").String(),
			Slug:         f.Get("slug").String(),
			Summary:      f.Get("summary").String(),
			Date:         f.Get("date").String(),
			AuthorName:   f.Get("authorName").String(),
			CategoryName: f.Get("categoryName").String(),
		}
		if d := f.Get("details"); d.IsObject() {
			a.Details = json.RawMessage(d.Raw)
		}
		if link := f.Get("articleImage.sys"); link.Get("linkType").String() == "Asset" {
			a.ImageURL = assets[link.Get("id").String()]
		}
		out = append(out, a)
	}
	return out
}

// Tags returns the entity ids the articles were built from, which includes
// linked assets.
func Tags(body []byte) []string {
	var tags []string
	gjson.GetBytes(body, "items.#.sys.id").ForEach(func(_, v gjson.Result) bool {
		tags = append(tags, v.String())
		return true
	})
	gjson.GetBytes(body, "includes.Asset.#.sys.id").ForEach(func(_, v gjson.Result) bool {
		tags = append(tags, v.String())
		return true
	})
	return tags
}

// asset URLs come protocol-relative ("//images.ctfassets.net/...")
func assetURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
