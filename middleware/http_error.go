package middleware

import (
	"net/http"

	"github.com/wyfcoding/cqbus/xerrors"

	"github.com/gin-gonic/gin"
)

// HTTPErrorHandler 返回一个 Gin 中间件，把 c.Errors 中最后一个错误写成统一的 JSON 响应。
func HTTPErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		writeError(c, c.Errors.Last().Err)
	}
}

func writeError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	code := statusCode
	msg := err.Error()

	if xe, ok := xerrors.FromError(err); ok {
		statusCode = xe.HTTPStatus()
		code = xe.Code
		msg = xe.Message
	}

	c.JSON(statusCode, gin.H{
		"code": code,
		"msg":  msg,
	})
}
