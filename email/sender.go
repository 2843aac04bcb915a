package email

import "log"

// Sender отправляет исходящее письмо клиенту (ответ оператора
// в email-диалоге). Реальную доставку выполняет внешний провайдер.
type Sender interface {
	Send(to, subject, body string) error
}

// LogSender — заглушка для разработки: пишет письмо в лог вместо
// отправки. Подключается, пока не настроен провайдер.
type LogSender struct{}

// Send реализует Sender
func (LogSender) Send(to, subject, body string) error {
	log.Printf("LogSender: письмо для %s, тема %q:\n%s", to, subject, body)
	return nil
}
