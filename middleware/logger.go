package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger логирует каждый HTTP-запрос: статус, длительность, адрес клиента
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Printf("Logger: %3d | %13v | %15s | %-7s %s",
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
			c.Request.Method,
			c.Request.RequestURI,
		)
	}
}
