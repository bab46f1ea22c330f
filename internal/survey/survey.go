// Package survey reads and fills one Qualtrics page at a time. All
// primitives operate on the live rod page; the planner decides what to
// fill, this package decides how.
package survey

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"surveyfill/internal/logging"
	"surveyfill/internal/roster"
)

// Options configures the page selectors. Zero values take the defaults
// Qualtrics themes ship with.
type Options struct {
	CanvasSelector     string
	SectionSelector    string
	HeadingSelector    string
	NextButtonSelector string
	ThankYouText       string
	CanvasTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.CanvasSelector == "" {
		o.CanvasSelector = "#survey-canvas"
	}
	if o.SectionSelector == "" {
		o.SectionSelector = "section.question"
	}
	if o.HeadingSelector == "" {
		o.HeadingSelector = ".question-display"
	}
	if o.NextButtonSelector == "" {
		o.NextButtonSelector = "#next-button"
	}
	if o.ThankYouText == "" {
		o.ThankYouText = "Thank you"
	}
	if o.CanvasTimeout == 0 {
		o.CanvasTimeout = 15 * time.Second
	}
	return o
}

// Question is one rendered question on the current page.
type Question struct {
	Section *rod.Element
	Heading string
}

// Driver wraps a rod page with survey-shaped accessors.
type Driver struct {
	page *rod.Page
	opts Options
}

// NewDriver creates a driver for a page.
func NewDriver(page *rod.Page, opts Options) *Driver {
	return &Driver{page: page, opts: opts.withDefaults()}
}

// WaitReady blocks until the survey canvas renders.
func (d *Driver) WaitReady() error {
	_, err := d.page.Timeout(d.opts.CanvasTimeout).Element(d.opts.CanvasSelector)
	if err != nil {
		return fmt.Errorf("survey canvas %s never appeared: %w", d.opts.CanvasSelector, err)
	}
	return nil
}

// Questions returns the questions rendered on the current page, in
// document order. Sections without a heading are skipped.
func (d *Driver) Questions() ([]Question, error) {
	sections, err := d.page.Elements(d.opts.SectionSelector)
	if err != nil {
		return nil, fmt.Errorf("find sections: %w", err)
	}

	var out []Question
	for _, sec := range sections {
		heading, err := sec.Element(d.opts.HeadingSelector)
		if err != nil {
			continue
		}
		text, err := heading.Text()
		if err != nil {
			continue
		}
		text = roster.Normalize(text)
		if text == "" {
			continue
		}
		out = append(out, Question{Section: sec, Heading: text})
	}
	return out, nil
}

// Signature identifies the current page by its joined headings. The
// runner uses it to detect when Next stopped advancing anything.
func (d *Driver) Signature() (string, error) {
	questions, err := d.Questions()
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(questions))
	for _, q := range questions {
		parts = append(parts, q.Heading)
	}
	return strings.Join(parts, " || "), nil
}

// IsGate reports whether the page has no questions. Welcome and
// instruction pages render this way and only need a Next click.
func (d *Driver) IsGate() (bool, error) {
	questions, err := d.Questions()
	if err != nil {
		return false, err
	}
	return len(questions) == 0, nil
}

// ClickNext advances to the next page.
func (d *Driver) ClickNext() error {
	btn, err := d.page.Timeout(5 * time.Second).Element(d.opts.NextButtonSelector)
	if err != nil {
		return fmt.Errorf("next button %s not found: %w", d.opts.NextButtonSelector, err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click next: %w", err)
	}
	return nil
}

// ThankYouVisible reports whether the completion text is on screen.
func (d *Driver) ThankYouVisible() (bool, error) {
	body, err := d.page.Element("body")
	if err != nil {
		return false, err
	}
	text, err := body.Text()
	if err != nil {
		return false, err
	}
	return strings.Contains(text, d.opts.ThankYouText), nil
}

// ClickRadio picks a single choice by label. Matching runs a ladder:
// exact normalized label, then substring either direction, then the
// first radio input gets force-checked so the page can still advance.
func (d *Driver) ClickRadio(q Question, value string) error {
	log := logging.Get(logging.CategoryRunner)

	labels, err := q.Section.Elements("label")
	if err == nil {
		want := roster.Normalize(value)
		lowWant := strings.ToLower(want)

		for _, label := range labels {
			text, terr := label.Text()
			if terr != nil {
				continue
			}
			if strings.EqualFold(roster.Normalize(text), want) {
				return label.Click(proto.InputMouseButtonLeft, 1)
			}
		}
		for _, label := range labels {
			text, terr := label.Text()
			if terr != nil {
				continue
			}
			low := strings.ToLower(roster.Normalize(text))
			if low == "" {
				continue
			}
			if strings.Contains(low, lowWant) || strings.Contains(lowWant, low) {
				return label.Click(proto.InputMouseButtonLeft, 1)
			}
		}
	}

	radios, err := q.Section.Elements(`input[type="radio"]`)
	if err != nil || len(radios) == 0 {
		return fmt.Errorf("no choice matched %q and no radio inputs in %q", value, q.Heading)
	}
	log.Warn("no label matched %q in %q, checking first radio", value, q.Heading)
	return radios[0].Click(proto.InputMouseButtonLeft, 1)
}

// ClickYesNo answers a yes/no question. An exact "Yes" or "No" label
// match wins; without one, truthy values check the first radio and
// falsy the last. Qualtrics renders Yes first and No last. Substring
// matching is deliberately skipped here: "No" is a substring of labels
// like "Prefer not to say".
func (d *Driver) ClickYesNo(q Question, value string) error {
	want := "No"
	if isTruthy(value) {
		want = "Yes"
	}
	if labels, err := q.Section.Elements("label"); err == nil {
		for _, label := range labels {
			text, terr := label.Text()
			if terr != nil {
				continue
			}
			if strings.EqualFold(roster.Normalize(text), want) {
				return label.Click(proto.InputMouseButtonLeft, 1)
			}
		}
	}

	radios, err := q.Section.Elements(`input[type="radio"]`)
	if err != nil || len(radios) == 0 {
		return fmt.Errorf("no radio inputs in %q", q.Heading)
	}
	if want == "Yes" {
		return radios[0].Click(proto.InputMouseButtonLeft, 1)
	}
	return radios[len(radios)-1].Click(proto.InputMouseButtonLeft, 1)
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "1", "x":
		return true
	}
	return false
}

// ClickCheckbox checks every listed choice. Labels that match nothing
// fall back to the first unchecked box so the cell is not silently
// dropped.
func (d *Driver) ClickCheckbox(q Question, values []string) error {
	log := logging.Get(logging.CategoryRunner)

	labels, lerr := q.Section.Elements("label")
	boxes, berr := q.Section.Elements(`input[type="checkbox"]`)
	if (lerr != nil || len(labels) == 0) && (berr != nil || len(boxes) == 0) {
		return fmt.Errorf("no checkboxes in %q", q.Heading)
	}

	for _, value := range values {
		if d.clickMatchingLabel(labels, value) {
			continue
		}
		if len(boxes) > 0 {
			log.Warn("no label matched %q in %q, checking first box", value, q.Heading)
			if err := boxes[0].Click(proto.InputMouseButtonLeft, 1); err != nil {
				return fmt.Errorf("check fallback box: %w", err)
			}
			continue
		}
		log.Warn("value %q in %q matched nothing", value, q.Heading)
	}
	return nil
}

func (d *Driver) clickMatchingLabel(labels rod.Elements, value string) bool {
	want := roster.Normalize(value)
	lowWant := strings.ToLower(want)

	for _, label := range labels {
		text, err := label.Text()
		if err != nil {
			continue
		}
		if strings.EqualFold(roster.Normalize(text), want) {
			return label.Click(proto.InputMouseButtonLeft, 1) == nil
		}
	}
	for _, label := range labels {
		text, err := label.Text()
		if err != nil {
			continue
		}
		low := strings.ToLower(roster.Normalize(text))
		if low == "" {
			continue
		}
		if strings.Contains(low, lowWant) || strings.Contains(lowWant, low) {
			return label.Click(proto.InputMouseButtonLeft, 1) == nil
		}
	}
	return false
}

// SelectDropdown opens the custom select menu and picks the option
// containing the value. Escape closes a menu left open by a miss so
// the page stays interactable.
func (d *Driver) SelectDropdown(q Question, value string) error {
	button, err := q.Section.Element(".select-menu.menu-button, .menu-button, select")
	if err != nil {
		return fmt.Errorf("no dropdown control in %q: %w", q.Heading, err)
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("open dropdown: %w", err)
	}

	// Scoped to the question's section so another question's option
	// list on the same page can never match first. Page-wide lookup is
	// the fallback for menus rendered outside the section.
	options, err := q.Section.Timeout(3 * time.Second).Elements("li")
	if err != nil || len(options) == 0 {
		options, err = d.page.Timeout(3 * time.Second).Elements("li")
	}
	if err == nil {
		want := strings.ToLower(roster.Normalize(value))
		for _, opt := range options {
			text, terr := opt.Text()
			if terr != nil {
				continue
			}
			if strings.Contains(strings.ToLower(roster.Normalize(text)), want) {
				return opt.Click(proto.InputMouseButtonLeft, 1)
			}
		}
	}

	_ = d.page.Keyboard.Press(input.Escape)
	return fmt.Errorf("no dropdown option matched %q in %q", value, q.Heading)
}

// FillText types into the question's first text input or textarea and
// verifies the value landed. Qualtrics occasionally swallows the first
// keystrokes while a page transition settles, so a mismatch gets one
// re-fill.
func (d *Driver) FillText(q Question, value string) error {
	el, err := q.Section.Element(`input[type="text"], input[type="email"], input:not([type]), textarea`)
	if err != nil {
		return fmt.Errorf("no text input in %q: %w", q.Heading, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("type into %q: %w", q.Heading, err)
	}
	if got, perr := el.Property("value"); perr == nil && got.Str() != value {
		if err := el.SelectAllText(); err == nil {
			_ = el.Input(value)
		}
	}
	return nil
}

// FillTexts types one value per input, in document order. Extra values
// are dropped when the question has fewer inputs.
func (d *Driver) FillTexts(q Question, values []string) error {
	inputs, err := q.Section.Elements(`input[type="text"], input[type="email"], input:not([type]), textarea`)
	if err != nil || len(inputs) == 0 {
		return fmt.Errorf("no text inputs in %q", q.Heading)
	}
	for i, value := range values {
		if i >= len(inputs) {
			logging.Get(logging.CategoryRunner).Warn("question %q has %d inputs, %d values given", q.Heading, len(inputs), len(values))
			break
		}
		if value == "" {
			continue
		}
		if err := inputs[i].Input(value); err != nil {
			return fmt.Errorf("type into input %d of %q: %w", i+1, q.Heading, err)
		}
	}
	return nil
}

// FillOtherText types the free text that accompanies an other-choice.
// The free-text input is the last text input in the section.
func (d *Driver) FillOtherText(q Question, value string) error {
	inputs, err := q.Section.Elements(`input[type="text"], input:not([type]), textarea`)
	if err != nil || len(inputs) == 0 {
		return fmt.Errorf("no free-text input in %q", q.Heading)
	}
	return inputs[len(inputs)-1].Input(value)
}

// SectionHTML returns the inner HTML of a question's section, for the
// structure extractor and diagnostics.
func (d *Driver) SectionHTML(q Question) (string, error) {
	return q.Section.HTML()
}

// PageURL returns the page's current URL.
func (d *Driver) PageURL() (string, error) {
	info, err := d.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}
