package perform

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/pagehand/api/schemas"
)

// ApplyAction runs an action verb on loc. fill, press and selectOption read
// their argument from value; a nil value is a usage error.
func ApplyAction(ctx context.Context, loc schemas.Locator, verb schemas.Verb, value *string) error {
	if verb.NeedsValue() && value == nil {
		return schemas.NewUsageError(verb, "%s requires a value; provide it as the input value", verb)
	}

	switch verb {
	case schemas.VerbClick:
		return loc.Click(ctx)
	case schemas.VerbDblClick:
		return loc.DblClick(ctx)
	case schemas.VerbHover:
		return loc.Hover(ctx)
	case schemas.VerbFocus:
		return loc.Focus(ctx)
	case schemas.VerbFill:
		return loc.Fill(ctx, *value)
	case schemas.VerbPress:
		return loc.Press(ctx, *value)
	case schemas.VerbCheck:
		return loc.Check(ctx)
	case schemas.VerbUncheck:
		return loc.Uncheck(ctx)
	case schemas.VerbSelectOption:
		return loc.SelectOption(ctx, *value)
	default:
		return fmt.Errorf("%w: %q is not an action", ErrUnknownVerb, verb)
	}
}

// ReadValue runs an extraction verb on loc once. getAttribute takes the
// attribute name from arg. allTextContents joins the texts with newlines.
func ReadValue(ctx context.Context, loc schemas.Locator, verb schemas.Verb, arg *string) (string, error) {
	switch verb {
	case schemas.VerbInnerText:
		return loc.InnerText(ctx)
	case schemas.VerbTextContent:
		return loc.TextContent(ctx)
	case schemas.VerbInputValue:
		return loc.InputValue(ctx)
	case schemas.VerbInnerHTML:
		return loc.InnerHTML(ctx)
	case schemas.VerbAllTextContents:
		texts, err := loc.AllTextContents(ctx)
		if err != nil {
			return "", err
		}
		return strings.Join(texts, "\n"), nil
	case schemas.VerbGetAttribute:
		if arg == nil || *arg == "" {
			return "", schemas.NewUsageError(verb, "getAttribute requires an attribute name; provide it as the input value")
		}
		return loc.GetAttribute(ctx, *arg)
	default:
		return "", fmt.Errorf("%w: %q is not an extraction", ErrUnknownVerb, verb)
	}
}
