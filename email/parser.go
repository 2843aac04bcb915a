package email

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	addrRe     = regexp.MustCompile(`<([^<>]+)>`)
	htmlTagRe  = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe    = regexp.MustCompile(`[ \t]+`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
	replyRe    = regexp.MustCompile(`(?i)^((re|fwd|fw|aw)\s*:\s*)+`)
)

// ExtractEmailAddress достает адрес из заголовка вида
// "Jan de Vries <jan@example.nl>". Если угловых скобок нет,
// возвращает строку как есть.
func ExtractEmailAddress(from string) string {
	if m := addrRe.FindStringSubmatch(from); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(from)
}

// ExtractNameFromEmail достает отображаемое имя отправителя.
// Без отображаемого имени берем часть адреса до @.
func ExtractNameFromEmail(from string) string {
	if idx := strings.Index(from, "<"); idx > 0 {
		name := strings.Trim(strings.TrimSpace(from[:idx]), `"`)
		if name != "" {
			return name
		}
	}
	addr := ExtractEmailAddress(from)
	if at := strings.Index(addr, "@"); at > 0 {
		return addr[:at]
	}
	return addr
}

// StripHTML превращает HTML-тело письма в плоский текст:
// убирает теги, декодирует частые сущности и схлопывает пробелы.
func StripHTML(html string) string {
	text := regexp.MustCompile(`(?i)<br\s*/?>`).ReplaceAllString(html, "\n")
	text = regexp.MustCompile(`(?i)</p>`).ReplaceAllString(text, "\n")
	text = htmlTagRe.ReplaceAllString(text, "")

	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
	text = replacer.Replace(text)

	text = spaceRe.ReplaceAllString(text, " ")
	text = newlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// BuildContent собирает текст сообщения ленты из письма.
// Тема сохраняется в первой строке — оператор видит контекст треда.
func BuildContent(subject, text, html string) string {
	body := strings.TrimSpace(text)
	if body == "" && html != "" {
		body = StripHTML(html)
	}
	if subject == "" {
		return body
	}
	return fmt.Sprintf("📧 %s\n\n%s", subject, body)
}

// NormalizeSubject убирает префиксы ответов/пересылок и лишние пробелы
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	s = replyRe.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}

// SubjectMatches решает, относится ли письмо к существующему треду.
// Темы сравниваются после нормализации; совпадением считается и
// вхождение одной темы в другую — почтовые клиенты любят дописывать
// к теме свои хвосты.
func SubjectMatches(incoming, existing string) bool {
	a := NormalizeSubject(incoming)
	b := NormalizeSubject(existing)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}
