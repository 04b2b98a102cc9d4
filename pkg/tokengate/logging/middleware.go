package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Middleware logs every handled request. Requests that recorded gin errors are
// logged at error level, everything else at debug.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()

		c.Next()

		level := zapcore.DebugLevel
		if len(c.Errors) > 0 {
			level = zapcore.ErrorLevel
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remoteAddr", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("elapsed", time.Since(begin)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		if ce := L.Check(level, "handled request"); ce != nil {
			ce.Write(fields...)
		}
	}
}
