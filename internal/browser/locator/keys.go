package locator

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps key names accepted by Press to the runes chromedp's key
// tables understand.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"space":      " ",
}

var modifierKeys = map[string]input.Modifier{
	"control": input.ModifierCtrl,
	"ctrl":    input.ModifierCtrl,
	"shift":   input.ModifierShift,
	"alt":     input.ModifierAlt,
	"option":  input.ModifierAlt,
	"meta":    input.ModifierMeta,
	"command": input.ModifierMeta,
	"cmd":     input.ModifierMeta,
}

// KeyChord is a parsed Press argument.
type KeyChord struct {
	Key       string
	Modifiers []input.Modifier
}

// ParseKeyChord parses "Enter", "a" or "Control+Shift+A". The final segment
// is the key; every earlier segment must be a modifier. A literal "+" is
// accepted as the key itself ("Shift++").
func ParseKeyChord(s string) (KeyChord, error) {
	if s == "" {
		return KeyChord{}, fmt.Errorf("empty key")
	}

	var keyName string
	var mods []string
	switch {
	case s == "+":
		keyName = "+"
	case strings.HasSuffix(s, "++"):
		keyName = "+"
		mods = strings.Split(strings.TrimSuffix(s, "++"), "+")
	default:
		parts := strings.Split(s, "+")
		keyName = parts[len(parts)-1]
		mods = parts[:len(parts)-1]
	}

	var chord KeyChord
	for _, m := range mods {
		mod, ok := modifierKeys[strings.ToLower(strings.TrimSpace(m))]
		if !ok {
			return KeyChord{}, fmt.Errorf("unknown modifier %q in %q", m, s)
		}
		chord.Modifiers = append(chord.Modifiers, mod)
	}

	if k, ok := namedKeys[strings.ToLower(keyName)]; ok {
		chord.Key = k
		return chord, nil
	}
	if len([]rune(keyName)) != 1 {
		return KeyChord{}, fmt.Errorf("unknown key %q", keyName)
	}
	chord.Key = keyName
	return chord, nil
}
