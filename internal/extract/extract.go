// Package extract walks a survey page by page and produces a JSON
// structure document: headings, input inventories, and choice lists.
// Operators run it once per survey to write the mapping file against
// real headings instead of guesses.
package extract

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"golang.org/x/net/html"

	"surveyfill/internal/logging"
	"surveyfill/internal/roster"
	"surveyfill/internal/survey"
)

// stepDelay gives the page time to re-render after a Next click.
var stepDelay = 500 * time.Millisecond

// PageReader is the slice of the survey driver the extractor needs.
type PageReader interface {
	WaitReady() error
	Questions() ([]survey.Question, error)
	Signature() (string, error)
	IsGate() (bool, error)
	ThankYouVisible() (bool, error)
	ClickNext() error
	SectionHTML(survey.Question) (string, error)
	PageURL() (string, error)
}

// Inventory counts the fillable controls inside one question.
type Inventory struct {
	Radios     int `json:"radios"`
	Checkboxes int `json:"checkboxes"`
	Texts      int `json:"texts"`
	Dropdowns  int `json:"dropdowns"`
}

// QuestionInfo is one extracted question.
type QuestionInfo struct {
	Heading         string    `json:"heading"`
	Inventory       Inventory `json:"inventory"`
	Choices         []string  `json:"choices,omitempty"`
	DropdownOptions []string  `json:"dropdown_options,omitempty"`
}

// PageInfo is one extracted survey page.
type PageInfo struct {
	Index     int            `json:"index"`
	Signature string         `json:"signature"`
	Gate      bool           `json:"gate"`
	Questions []QuestionInfo `json:"questions,omitempty"`
}

// Document is the full extracted structure.
type Document struct {
	URL         string     `json:"url"`
	ExtractedAt time.Time  `json:"extracted_at"`
	Complete    bool       `json:"complete"`
	Pages       []PageInfo `json:"pages"`
}

// Walk pages through the survey collecting structure. It stops at the
// thank-you page, when the signature stops changing, or after maxSteps
// pages. A stuck walk returns the partial document with Complete false
// rather than an error, since a mandatory question the extractor
// cannot answer is the expected way the walk ends.
func Walk(d PageReader, maxSteps, stuckLimit int) (*Document, error) {
	if maxSteps <= 0 {
		maxSteps = 120
	}
	if stuckLimit <= 0 {
		stuckLimit = 3
	}
	log := logging.Get(logging.CategoryExtract)

	if err := d.WaitReady(); err != nil {
		return nil, err
	}

	doc := &Document{ExtractedAt: time.Now().UTC()}
	if url, err := d.PageURL(); err == nil {
		doc.URL = url
	}

	// Sentinel that no real signature can equal, so the first page is
	// always recorded even when it is a gate with no headings.
	lastSig := "\x00"
	repeats := 0
	for step := 0; step < maxSteps; step++ {
		done, err := d.ThankYouVisible()
		if err != nil {
			return doc, fmt.Errorf("check completion: %w", err)
		}
		if done {
			doc.Complete = true
			return doc, nil
		}

		sig, err := d.Signature()
		if err != nil {
			return doc, fmt.Errorf("read page signature: %w", err)
		}
		if sig == lastSig {
			repeats++
			if repeats >= stuckLimit {
				log.Warn("page did not change after %d next clicks, stopping", repeats)
				return doc, nil
			}
		} else {
			repeats = 0
			lastSig = sig
		}

		// Every step is read. The signature only counts no-progress
		// clicks; a new page that repeats the previous page's headings
		// still differs in content and must land in the document. Only
		// a page identical to the last recorded one is dropped.
		page, err := readPage(d, len(doc.Pages)+1, sig)
		if err != nil {
			return doc, err
		}
		if n := len(doc.Pages); n == 0 || !samePage(doc.Pages[n-1], page) {
			doc.Pages = append(doc.Pages, page)
			log.Info("page %d: %d questions", page.Index, len(page.Questions))
		}

		if err := d.ClickNext(); err != nil {
			log.Warn("next click failed: %v", err)
			return doc, nil
		}
		time.Sleep(stepDelay)
	}
	log.Warn("step limit reached, stopping")
	return doc, nil
}

// samePage reports whether two pages carry the same content. Index is
// positional and excluded from the comparison.
func samePage(a, b PageInfo) bool {
	a.Index, b.Index = 0, 0
	return reflect.DeepEqual(a, b)
}

func readPage(d PageReader, index int, sig string) (PageInfo, error) {
	page := PageInfo{Index: index, Signature: sig}

	gate, err := d.IsGate()
	if err != nil {
		return page, err
	}
	page.Gate = gate

	questions, err := d.Questions()
	if err != nil {
		return page, err
	}
	for _, q := range questions {
		info := QuestionInfo{Heading: q.Heading}
		if raw, herr := d.SectionHTML(q); herr == nil {
			info.Inventory, info.Choices, info.DropdownOptions = ParseSection(raw)
		}
		page.Questions = append(page.Questions, info)
	}
	return page, nil
}

// ParseSection inventories a question's inner HTML: control counts,
// choice labels, and dropdown options.
func ParseSection(raw string) (Inventory, []string, []string) {
	var inv Inventory
	var choices, options []string

	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return inv, nil, nil
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input":
				switch attr(n, "type") {
				case "radio":
					inv.Radios++
				case "checkbox":
					inv.Checkboxes++
				case "text", "email", "":
					inv.Texts++
				}
			case "textarea":
				inv.Texts++
			case "select":
				inv.Dropdowns++
			case "label":
				if text := roster.Normalize(nodeText(n)); text != "" {
					choices = append(choices, text)
				}
			case "li", "option":
				if text := roster.Normalize(nodeText(n)); text != "" {
					options = append(options, text)
				}
			default:
				if n.Data == "div" && strings.Contains(attr(n, "class"), "menu-button") {
					inv.Dropdowns++
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return inv, choices, options
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
