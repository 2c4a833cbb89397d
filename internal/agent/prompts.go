package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/xkilldash9x/pagehand/api/schemas"
)

const actSystemPrompt = `You are a browser automation assistant. You are given an action to perform and
a list of the interactive elements currently on the page. Each element is listed as
[elementId] <tag attributes> text.

Choose the single element that best accomplishes the action and the method to apply:
  - click, dblclick, hover, focus, check, uncheck: no arguments.
  - fill: one argument, the text to type.
  - press: one argument, the key to press, e.g. "Enter" or "Control+A".
  - selectOption: one argument, the option label or value.

Arguments may contain %name% placeholders for the variables listed with the action;
keep the placeholders exactly as written instead of guessing their values.

Respond with a single JSON object: {"elementId": "...", "method": "...", "arguments": [...], "description": "..."}.`

const extractSystemPrompt = `You are a data extraction assistant. You are given an instruction and the visible
text of a web page. Extract exactly the information the instruction asks for and return it as
a JSON object matching the provided schema. Use only information present in the page text.
When a requested value does not appear on the page, use an empty string for text fields.`

const observeSystemPrompt = `You are a browser automation assistant. You are given an instruction and a list of
the interactive elements currently on the page. Each element is listed as
[elementId] <tag attributes> text.

Return the elements relevant to the instruction, most relevant first, each with a short
description of what it is. Respond with a single JSON object:
{"elements": [{"elementId": "...", "description": "..."}]}.
Return an empty list when nothing matches.`

// promptAttributes are the element attributes shown to the model, in display order.
var promptAttributes = []string{"id", "name", "type", "role", "aria-label", "placeholder", "title", "href", "value"}

// formatElement renders one snapshot entry as a prompt line.
func formatElement(el schemas.ObservedElement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] <%s", el.EncodedID, el.Tag)
	for _, name := range promptAttributes {
		if v, ok := el.Attributes[name]; ok {
			fmt.Fprintf(&b, " %s=%q", name, truncate(v, 80))
		}
	}
	b.WriteString(">")
	if el.Text != "" {
		b.WriteString(" ")
		b.WriteString(el.Text)
	}
	return b.String()
}

func formatElements(elements []schemas.ObservedElement) string {
	lines := make([]string, len(elements))
	for i, el := range elements {
		lines[i] = formatElement(el)
	}
	return strings.Join(lines, "\n")
}

func actUserPrompt(req schemas.ActRequest, elements []schemas.ObservedElement) string {
	var vars string
	if len(req.Variables) > 0 {
		names := make([]string, 0, len(req.Variables))
		for k := range req.Variables {
			names = append(names, "%"+k+"%")
		}
		slices.Sort(names)
		vars = "\nAvailable variables: " + strings.Join(names, ", ")
	}
	return fmt.Sprintf("Action: %s%s\n\nInteractive elements:\n%s", req.Action, vars, formatElements(elements))
}

func extractUserPrompt(instruction, pageText string) string {
	return fmt.Sprintf("Instruction: %s\n\nPage text:\n%s", instruction, pageText)
}

func observeUserPrompt(instruction string, elements []schemas.ObservedElement) string {
	return fmt.Sprintf("Instruction: %s\n\nInteractive elements:\n%s", instruction, formatElements(elements))
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
