package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// templateLiteralEscaper neutralizes everything that could close a JS template
// literal or open an interpolation inside it.
var templateLiteralEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"${", "\\${",
	"\n", `\n`,
	"\r", `\r`,
)

// EscapeTemplateLiteral makes text safe to embed between backticks.
func EscapeTemplateLiteral(text string) string {
	return templateLiteralEscaper.Replace(text)
}

// jsString renders s as a double-quoted JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// setPromptScript sets the prompt surface's text and fires the input event the
// page's reactive state listens for. Evaluates to false if the surface is missing.
func setPromptScript(selector, text string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.innerText = `+"`%s`"+`;
	el.dispatchEvent(new InputEvent('input', { bubbles: true }));
	return true;
})()`, jsString(selector), EscapeTemplateLiteral(text))
}

func existsScript(selector string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
}

func latestReplyScript(selector string) string {
	return fmt.Sprintf(`(() => {
	const blocks = document.querySelectorAll(%s);
	if (blocks.length === 0) return '';
	const last = blocks[blocks.length - 1];
	return (last.innerText || last.textContent || '').trim();
})()`, jsString(selector))
}
