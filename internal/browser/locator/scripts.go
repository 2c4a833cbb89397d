package locator

import (
	"fmt"
	"strings"
)

// Functions evaluated with the resolved element bound to this.
const (
	fnInnerText   = `function() { return String(this.innerText ?? this.textContent ?? ""); }`
	fnTextContent = `function() { return String(this.textContent ?? ""); }`
	fnInnerHTML   = `function() { return String(this.innerHTML ?? ""); }`

	fnInputValue = `function() {
	if (!("value" in this)) {
		throw new Error("Node is not an <input>, <textarea> or <select> element");
	}
	return String(this.value);
}`

	fnGetAttribute = `function(name) {
	const v = this.getAttribute(name);
	return v === null ? "" : v;
}`

	fnClearForFill = `function() {
	if (this.isContentEditable) {
		this.textContent = "";
		return true;
	}
	if (!("value" in this)) {
		throw new Error("Element is not an <input>, <textarea> or [contenteditable] element");
	}
	this.value = "";
	this.dispatchEvent(new Event("input", { bubbles: true }));
	return true;
}`

	fnDispatchChange = `function() {
	this.dispatchEvent(new Event("change", { bubbles: true }));
}`

	fnSetChecked = `function(want) {
	if (!("checked" in this)) {
		throw new Error("Not a checkbox or radio button");
	}
	if (this.checked !== want) {
		this.click();
	}
	return this.checked === want;
}`

	fnSelectOption = `function(value) {
	if (this.nodeName.toLowerCase() !== "select") {
		throw new Error("Element is not a <select> element");
	}
	const opt = Array.from(this.options).find(o => o.value === value || o.label === value || o.text.trim() === value);
	if (!opt) {
		return false;
	}
	opt.selected = true;
	this.dispatchEvent(new Event("input", { bubbles: true }));
	this.dispatchEvent(new Event("change", { bubbles: true }));
	return true;
}`
)

// bindArgs wraps fn so it runs with args baked in as JSON literals. The
// result is suitable for Runtime.callFunctionOn with no call arguments.
func bindArgs(fn string, args ...any) (string, error) {
	if len(args) == 0 {
		return fn, nil
	}
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encoding argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("function() { return (%s).call(this, %s); }", fn, strings.Join(encoded, ", ")), nil
}
