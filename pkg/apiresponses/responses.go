/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiresponses

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	MessageSent           = "메일 발송 성공"
	MessageAccepted       = "요청이 접수되었습니다"
	MessageDownloadFailed = "파일 다운로드 실패"
	MessageRateLimited    = "요청이 너무 많습니다. 잠시 후 다시 시도해 주세요"
	MessageUnavailable    = "메일 발송 대기열이 가득 찼습니다. 잠시 후 다시 시도해 주세요"
)

// Response is the body of every relay endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorMessage formats an unexpected failure the way every endpoint reports it.
func ErrorMessage(err error) string {
	return fmt.Sprintf("에러 발생: %v", err)
}

// RespondSuccess sends a 200 OK response with success:true.
func RespondSuccess(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{Success: true, Message: message})
}

// RespondFailure sends a 200 OK response with success:false. Processing
// failures of a well-formed request are reported this way.
func RespondFailure(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{Success: false, Message: message})
}

// RespondUnprocessableEntity sends a 422 response for requests that fail
// binding or validation.
func RespondUnprocessableEntity(c *gin.Context, message string) {
	c.JSON(http.StatusUnprocessableEntity, Response{Success: false, Message: message})
}

// RespondServiceUnavailable sends a 503 response when the delivery queue
// cannot take more work.
func RespondServiceUnavailable(c *gin.Context, message string) {
	if message == "" {
		message = MessageUnavailable
	}
	c.JSON(http.StatusServiceUnavailable, Response{Success: false, Message: message})
}

// RespondTooManyRequests sends a 429 response.
func RespondTooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, Response{Success: false, Message: MessageRateLimited})
}

// RespondInternalError logs err with full details and sends a 500 response
// carrying the formatted error message.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err)
	}
	c.JSON(http.StatusInternalServerError, Response{Success: false, Message: ErrorMessage(err)})
}
