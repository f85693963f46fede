// Package extract pulls the labelled company fields out of directory profile pages.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/company-scraper/internal/scraper"
)

// ErrParse is returned when a page cannot be parsed as HTML.
var ErrParse = errors.New("parse page")

type field int

const (
	fieldEmail field = iota
	fieldActivity
	fieldPAN
	fieldGST
)

// labelRule maps a lower-case label substring onto a field.
type labelRule struct {
	substr string
	field  field
}

// labelRules are evaluated in order and the first match wins, so a label
// containing both "pan" and "gst" is treated as PAN.
var labelRules = []labelRule{
	{substr: "e-mail", field: fieldEmail},
	{substr: "activity", field: fieldActivity},
	{substr: "pan", field: fieldPAN},
	{substr: "gst", field: fieldGST},
}

// gstPattern matches the 15 character GSTIN shape anywhere in the page text.
var gstPattern = regexp.MustCompile(`\b\d{2}[A-Z]{5}\d{4}[A-Z]\wZ\w\b`)

// Extract parses body and returns the scraped fields.
func Extract(body []byte) (scraper.Fields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return scraper.Fields{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return ExtractDocument(doc), nil
}

// ExtractDocument scans every dt/dd pair of doc. Fields without a matching
// label stay NotMentioned; GST falls back to a pattern search of the whole text.
func ExtractDocument(doc *goquery.Document) scraper.Fields {
	fields := scraper.DefaultFields()
	doc.Find("dt").Each(func(_ int, term *goquery.Selection) {
		label := strings.ToLower(strippedText(term))
		rule, ok := matchLabel(label)
		if !ok {
			return
		}
		value := scraper.NotMentioned
		if desc := term.NextAllFiltered("dd").First(); desc.Length() > 0 {
			value = strippedText(desc)
		}
		setField(&fields, rule.field, value)
	})
	if fields.GST == scraper.NotMentioned {
		if m := gstPattern.FindString(doc.Text()); m != "" {
			fields.GST = m
		}
	}
	return fields
}

// strippedText concatenates the trimmed, non-empty text nodes under sel with
// no separator, so markup indentation never reaches the value.
func strippedText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, child *goquery.Selection) {
			if goquery.NodeName(child) == "#text" {
				b.WriteString(strings.TrimSpace(child.Text()))
				return
			}
			walk(child)
		})
	}
	walk(sel)
	return b.String()
}

func matchLabel(label string) (labelRule, bool) {
	for _, rule := range labelRules {
		if strings.Contains(label, rule.substr) {
			return rule, true
		}
	}
	return labelRule{}, false
}

func setField(f *scraper.Fields, which field, value string) {
	switch which {
	case fieldEmail:
		f.Email = value
	case fieldActivity:
		f.Activity = value
	case fieldPAN:
		f.PAN = value
	case fieldGST:
		f.GST = value
	}
}
