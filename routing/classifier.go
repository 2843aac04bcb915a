package routing

import (
	"strings"

	"github.com/egor/supportchat/models"
)

// Ключевые слова для классификации входящих писем.
// Поддержка работает с голландскими и английскими клиентами.
var (
	urgentKeywords = []string{
		"urgent", "spoedeisend", "spoed", "asap", "emergency",
		"dringend", "kritiek", "critical",
	}
	highKeywords = []string{
		"complaint", "klacht", "refund", "terugbetaling",
		"cancel", "opzeggen", "annuleren", "probleem", "fout",
	}

	billingKeywords = []string{
		"betal", "payment", "invoice", "factuur", "prijs", "price", "refund", "terugbetaling",
	}
	technicalKeywords = []string{
		"technisch", "technical", "fout", "error", "bug", "storing", "werkt niet",
	}
	salesKeywords = []string{
		"verkoop", "sales", "abonnement", "subscription", "premium", "upgrade", "offerte",
	}
)

// ClassifyPriority определяет приоритет письма по теме и тексту
func ClassifyPriority(subject, body string) string {
	text := strings.ToLower(subject + " " + body)

	for _, kw := range urgentKeywords {
		if strings.Contains(text, kw) {
			return models.PriorityUrgent
		}
	}
	for _, kw := range highKeywords {
		if strings.Contains(text, kw) {
			return models.PriorityHigh
		}
	}
	return models.PriorityNormal
}

// ClassifyDepartment определяет отдел, которому адресовано письмо
func ClassifyDepartment(subject, body string) string {
	text := strings.ToLower(subject + " " + body)

	for _, kw := range billingKeywords {
		if strings.Contains(text, kw) {
			return "billing"
		}
	}
	for _, kw := range technicalKeywords {
		if strings.Contains(text, kw) {
			return "technical"
		}
	}
	for _, kw := range salesKeywords {
		if strings.Contains(text, kw) {
			return "sales"
		}
	}
	return "general"
}
