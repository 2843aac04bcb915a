package email

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Допустимый разброс часов между провайдером и нами
const maxTimestampSkew = 5 * time.Minute

var (
	// ErrBadSignature — подпись не совпала с ожидаемой
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrStaleTimestamp — метка времени вне допустимого окна (replay?)
	ErrStaleTimestamp = errors.New("webhook timestamp out of window")
)

// Sign вычисляет hex-подпись HMAC-SHA256 над timestamp+body.
// Тот же алгоритм настроен на стороне почтового провайдера.
func Sign(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись вебхука и свежесть метки времени.
// Сравнение подписи — за константное время; при любой ошибке вызывающая
// сторона обязана ответить 401 без каких-либо побочных эффектов.
func VerifySignature(secret, signature, timestamp string, body []byte) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	age := time.Since(time.Unix(ts, 0))
	if age > maxTimestampSkew || age < -maxTimestampSkew {
		return ErrStaleTimestamp
	}

	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
