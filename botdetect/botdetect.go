// Package botdetect classifies User-Agent strings as link-preview fetchers.
package botdetect

import "strings"

// signature pairs a lowercase User-Agent fragment with a display name.
type signature struct {
	fragment string
	name     string
}

// signatures lists known preview fetchers. Fragments must not match the
// in-app browsers of the same platforms.
var signatures = []signature{
	{"facebookexternalhit", "Facebook"},
	{"facebookcatalog", "Facebook"},
	{"facebot", "Facebook"},
	{"meta-externalagent", "Facebook"},
	{"twitterbot", "Twitter"},
	{"linkedinbot", "LinkedIn"},
	{"slack-imgproxy", "Slack"},
	{"slackbot", "Slack"},
	{"discordbot", "Discord"},
	{"telegrambot", "Telegram"},
	{"whatsapp", "WhatsApp"},
	{"skypeuripreview", "Skype"},
	{"microsoftpreview", "Microsoft"},
	{"pinterestbot", "Pinterest"},
	{"pinterest/0.", "Pinterest"},
	{"redditbot", "Reddit"},
	{"tumblr", "Tumblr"},
	{"embedly", "Embedly"},
	{"iframely", "Iframely"},
	{"quora link preview", "Quora"},
	{"vkshare", "VK"},
	{"viber", "Viber"},
	{"line-poker", "LINE"},
	{"kakaotalk-scrap", "KakaoTalk"},
	{"mastodon", "Mastodon"},
	{"bluesky", "Bluesky"},
	{"cardyb", "Bluesky"},
	{"applebot", "Apple"},
	{"googlebot", "Googlebot"},
	{"google-inspectiontool", "Googlebot"},
	{"bingbot", "Bingbot"},
	{"bingpreview", "Bingbot"},
	{"duckduckbot", "DuckDuckBot"},
	{"yandex", "Yandex"},
	{"baiduspider", "Baidu"},
	{"slurp", "Yahoo Slurp"},
	{"outbrain", "Outbrain"},
	{"nuzzel", "Nuzzel"},
	{"ia_archiver", "Alexa"},
	{"w3c_validator", "W3C Validator"},
	{"opengraph", "OpenGraph Checker"},
}

// IsBot reports whether userAgent belongs to a known link-preview fetcher.
// An empty User-Agent is treated as a human.
func IsBot(userAgent string) bool {
	return Name(userAgent) != ""
}

// Name returns the display name of the preview fetcher behind userAgent,
// or "" when the agent is not recognized.
func Name(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return ""
	}
	for _, s := range signatures {
		if strings.Contains(ua, s.fragment) {
			return s.name
		}
	}
	return ""
}

// AgentType returns "bot" or "human" for log and metric labels.
func AgentType(userAgent string) string {
	if IsBot(userAgent) {
		return "bot"
	}
	return "human"
}
