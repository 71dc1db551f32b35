package views

import (
	"encoding/json"
)

// jsonLD produces the Schema.org block for a preview: BlogPosting for
// articles, WebSite for everything else.
func jsonLD(p PreviewPayload) string {
	var data map[string]interface{}
	if p.Type == TypeArticle {
		data = map[string]interface{}{
			"@context":    "https://schema.org",
			"@type":       "BlogPosting",
			"headline":    p.Title,
			"description": p.Description,
			"url":         p.Canonical,
			"image":       p.Image.URL,
			"mainEntityOfPage": map[string]string{
				"@type": "WebPage",
				"@id":   p.Canonical,
			},
		}
		if p.PublishedAt != "" {
			data["datePublished"] = p.PublishedAt
		}
		if p.ModifiedAt != "" {
			data["dateModified"] = p.ModifiedAt
		}
		if p.SiteName != "" {
			data["publisher"] = map[string]string{
				"@type": "Organization",
				"name":  p.SiteName,
			}
		}
	} else {
		data = map[string]interface{}{
			"@context":    "https://schema.org",
			"@type":       "WebSite",
			"name":        p.SiteName,
			"url":         p.Canonical,
			"description": p.Description,
		}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// jsString encodes s as a JavaScript string literal that is safe inside a
// <script> element: json.Marshal escapes <, > and & as \u sequences.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
