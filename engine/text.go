package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/use-agent/padcrawl/models"
)

// VisibleText extracts the text inside <body>, skipping <script>, <style>
// and <noscript> content. Text nodes are joined with single spaces.
func VisibleText(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(buf.String())
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "body":
				inBody = true
			case "script", "style", "noscript":
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					buf.WriteString(text)
					buf.WriteByte(' ')
				}
			}
		}
	}
}

// Title returns the content of the first <title> element.
func Title(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				if tokenizer.Next() == html.TextToken {
					return strings.TrimSpace(string(tokenizer.Text()))
				}
				return ""
			}
		}
	}
}

var (
	reNoscript  = regexp.MustCompile(`<noscript[^>]*>[^<]*(enable|activate|turn on|requires?)\s+javascript`)
	reEmptyRoot = regexp.MustCompile(`<div id="(root|app|__next)">\s*</div>`)
)

// NeedsBrowser guesses whether statically fetched HTML is an unrendered
// JavaScript shell: little visible text, an empty SPA root, a noscript
// warning, or many scripts around little text.
func NeedsBrowser(htmlStr string) bool {
	bodyText := VisibleText(htmlStr)
	if len(bodyText) < 200 {
		return true
	}

	lower := strings.ToLower(htmlStr)
	if reEmptyRoot.MatchString(lower) || reNoscript.MatchString(lower) {
		return true
	}
	return strings.Count(lower, "<script") > 10 && len(bodyText) < 500
}

// CategorizeError wraps raw renderer errors into typed CrawlErrors so results
// carry a stable error code. Errors that already carry a code pass through.
func CategorizeError(err error, msg string) *models.CrawlError {
	var ce *models.CrawlError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewCrawlError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewCrawlError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewCrawlError(models.ErrCodeNavigation, msg, err)
	}
}
