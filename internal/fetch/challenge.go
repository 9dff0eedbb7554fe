// Package fetch - challenge.go recognizes WAF challenge and access-denied pages.
package fetch

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Vendor identifies the protection layer that produced a challenge page.
type Vendor string

const (
	// VendorCloudflare is Cloudflare's browser check / managed challenge
	VendorCloudflare Vendor = "cloudflare"
	// VendorAkamai is Akamai's edge access-denied page
	VendorAkamai Vendor = "akamai"
	// VendorImperva is Imperva Incapsula
	VendorImperva Vendor = "imperva"
	// VendorPerimeterX is the PerimeterX / HUMAN captcha
	VendorPerimeterX Vendor = "perimeterx"
	// VendorGeneric is an unattributed "enable JavaScript" interstitial
	VendorGeneric Vendor = "generic"
)

// Challenge describes a detected interstitial.
type Challenge struct {
	Vendor Vendor
	Reason string
}

func (c Challenge) String() string {
	return "blocked by " + string(c.Vendor) + " challenge: " + c.Reason
}

type selectorRule struct {
	vendor   Vendor
	selector string
}

var challengeSelectors = []selectorRule{
	{VendorCloudflare, "#cf-wrapper, #challenge-form, #cf-challenge-running, script[src*='/cdn-cgi/challenge-platform/']"},
	{VendorImperva, "iframe[src*='_Incapsula_Resource'], script[src*='_Incapsula_Resource']"},
	{VendorPerimeterX, "#px-captcha, script[src*='captcha.px-cdn.net']"},
}

var challengeTitles = []struct {
	vendor Vendor
	title  string
}{
	{VendorCloudflare, "just a moment"},
	{VendorCloudflare, "attention required! | cloudflare"},
	{VendorAkamai, "access denied"},
	{VendorPerimeterX, "access to this page has been denied"},
}

var challengeText = []struct {
	vendor Vendor
	text   string
}{
	{VendorImperva, "incapsula incident id"},
	{VendorAkamai, "you don't have permission to access"},
	{VendorGeneric, "please enable javascript and cookies to continue"},
	{VendorGeneric, "enable javascript and cookies to continue"},
}

// DetectChallenge inspects the start of an HTML response for a known challenge page.
// Only markup is inspected; binary payloads never match.
func DetectChallenge(head []byte, header http.Header) (Challenge, bool) {
	if len(head) == 0 || !bytes.Contains(head, []byte("<")) {
		return Challenge{}, false
	}

	if header != nil && header.Get("Cf-Mitigated") == "challenge" {
		return Challenge{Vendor: VendorCloudflare, Reason: "cf-mitigated header"}, true
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(head))
	if err != nil {
		return Challenge{}, false
	}

	for _, rule := range challengeSelectors {
		if doc.Find(rule.selector).Length() > 0 {
			return Challenge{Vendor: rule.vendor, Reason: "challenge markup"}, true
		}
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if title != "" {
		for _, t := range challengeTitles {
			if strings.HasPrefix(title, t.title) {
				return Challenge{Vendor: t.vendor, Reason: "title " + `"` + title + `"`}, true
			}
		}
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, m := range challengeText {
		if strings.Contains(text, m.text) {
			return Challenge{Vendor: m.vendor, Reason: `"` + m.text + `"`}, true
		}
	}

	return Challenge{}, false
}
