package main

import "github.com/microcosm-cc/bluemonday"

// descriptionPolicy keeps the formatting tags the rich-text editor emits and
// strips scripts and other active content.
var descriptionPolicy = bluemonday.UGCPolicy()

func sanitizeDescription(html string) string {
	return descriptionPolicy.Sanitize(html)
}
