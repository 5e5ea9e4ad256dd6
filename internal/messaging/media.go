package messaging

import "regexp"

var (
	instagramPattern = regexp.MustCompile(`https?://(?:www\.)?instagram\.com/(?:reel|p)/[A-Za-z0-9_-]+`)
	youtubePattern   = regexp.MustCompile(`https?://(?:www\.)?youtube\.com/shorts/[A-Za-z0-9_-]+`)
)

// DetectMedia finds the first hostable rich-media link in text. Instagram wins
// over YouTube when both appear.
func DetectMedia(text string) (MediaType, string, bool) {
	if text == "" {
		return MediaTypeNone, "", false
	}
	if url := instagramPattern.FindString(text); url != "" {
		return MediaTypeInstagram, url, true
	}
	if url := youtubePattern.FindString(text); url != "" {
		return MediaTypeYouTube, url, true
	}
	return MediaTypeNone, "", false
}
