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

package relay

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/americaro/quotemail/pkg/apiresponses"
	"github.com/americaro/quotemail/pkg/delivery"
	"github.com/americaro/quotemail/pkg/message"
	"github.com/americaro/quotemail/pkg/metrics"
	"github.com/americaro/quotemail/pkg/system"
)

const (
	endpointURL    = "send-email"
	endpointBase64 = "send-email-base64"
	endpointFile   = "send-email-file"
)

// Dispatcher hands composed messages to the delivery layer.
type Dispatcher interface {
	Submit(job *delivery.Job) error
	SubmitAndWait(ctx context.Context, job *delivery.Job) error
}

// Controller serves the three quote relay endpoints.
type Controller struct {
	composer *message.Composer
	fetcher  *message.Fetcher
	queue    Dispatcher
	log      *zap.SugaredLogger
}

func NewController(composer *message.Composer, fetcher *message.Fetcher, queue Dispatcher, log *zap.SugaredLogger) *Controller {
	return &Controller{
		composer: composer,
		fetcher:  fetcher,
		queue:    queue,
		log:      log.Named("relay"),
	}
}

func (rc *Controller) BasePath() string {
	return "/"
}

func (rc *Controller) Handlers() []gin.HandlerFunc {
	return nil
}

func (rc *Controller) Register(rg *gin.RouterGroup) error {
	rg.POST(endpointURL, rc.handleSendEmail)
	rg.POST(endpointBase64, rc.handleSendEmailBase64)
	rg.POST(endpointFile, rc.handleSendEmailFile)
	return nil
}

type sendEmailRequest struct {
	FileURL     string `json:"file_url" binding:"required"`
	BizName     string `json:"biz_name" binding:"required"`
	SenderEmail string `json:"sender_email" binding:"required"`
}

type sendEmailBase64Request struct {
	// an empty payload is a valid (empty) attachment
	PDFBase64   string `json:"pdf_base64"`
	BizName     string `json:"biz_name" binding:"required"`
	SenderEmail string `json:"sender_email" binding:"required"`
}

type sendEmailFileForm struct {
	BizName     string `form:"biz_name" binding:"required"`
	SenderEmail string `form:"sender_email" binding:"required"`
}

// handleSendEmail fetches the PDF, delivers it and reports the delivery outcome.
func (rc *Controller) handleSendEmail(c *gin.Context) {
	log := system.GetReqLogger(c, rc.log)

	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rc.rejectInvalid(c, endpointURL, err)
		return
	}
	if err := message.ValidateFileURL(req.FileURL); err != nil {
		rc.rejectInvalid(c, endpointURL, err)
		return
	}

	requester := message.Requester{BizName: req.BizName, SenderEmail: req.SenderEmail}
	msg, err := rc.composer.Compose(c.Request.Context(), rc.fetcher.FromURL(req.FileURL), requester)
	if err != nil {
		rc.respondComposeError(c, endpointURL, err, log)
		return
	}

	job := delivery.NewJob(msg)
	log.Infow("Delivering quote", "job", job.ID, "bizName", requester.Normalize().BizName, "bytes", len(msg.Attachment))

	if err := rc.queue.SubmitAndWait(c.Request.Context(), job); err != nil {
		if rc.respondQueueError(c, endpointURL, err) {
			return
		}
		log.Warnw("Quote delivery failed", "job", job.ID, "error", err)
		metrics.RelayRequests.WithLabelValues(endpointURL, "delivery_failed").Inc()
		apiresponses.RespondFailure(c, apiresponses.ErrorMessage(err))
		return
	}

	metrics.RelayRequests.WithLabelValues(endpointURL, "sent").Inc()
	apiresponses.RespondSuccess(c, apiresponses.MessageSent)
}

// handleSendEmailBase64 decodes the PDF and acknowledges before delivery.
func (rc *Controller) handleSendEmailBase64(c *gin.Context) {
	log := system.GetReqLogger(c, rc.log)

	var req sendEmailBase64Request
	if err := c.ShouldBindJSON(&req); err != nil {
		rc.rejectInvalid(c, endpointBase64, err)
		return
	}

	requester := message.Requester{BizName: req.BizName, SenderEmail: req.SenderEmail}
	msg, err := rc.composer.Compose(c.Request.Context(), message.FromBase64(req.PDFBase64), requester)
	if err != nil {
		rc.respondComposeError(c, endpointBase64, err, log)
		return
	}
	rc.enqueue(c, endpointBase64, msg, log)
}

// handleSendEmailFile reads the uploaded PDF and acknowledges before delivery.
func (rc *Controller) handleSendEmailFile(c *gin.Context) {
	log := system.GetReqLogger(c, rc.log)

	var form sendEmailFileForm
	if err := c.ShouldBind(&form); err != nil {
		rc.rejectInvalid(c, endpointFile, err)
		return
	}
	header, err := c.FormFile("pdf_file")
	if err != nil {
		rc.rejectInvalid(c, endpointFile, err)
		return
	}
	file, err := header.Open()
	if err != nil {
		metrics.RelayRequests.WithLabelValues(endpointFile, "error").Inc()
		apiresponses.RespondInternalError(c, "open uploaded file", err, log)
		return
	}
	defer func() { _ = file.Close() }()

	requester := message.Requester{BizName: form.BizName, SenderEmail: form.SenderEmail}
	msg, err := rc.composer.Compose(c.Request.Context(), message.FromUpload(file), requester)
	if err != nil {
		rc.respondComposeError(c, endpointFile, err, log)
		return
	}
	rc.enqueue(c, endpointFile, msg, log)
}

func (rc *Controller) enqueue(c *gin.Context, endpoint string, msg *message.OutgoingMessage, log *zap.SugaredLogger) {
	job := delivery.NewJob(msg)
	if err := rc.queue.Submit(job); err != nil {
		if rc.respondQueueError(c, endpoint, err) {
			return
		}
		metrics.RelayRequests.WithLabelValues(endpoint, "error").Inc()
		apiresponses.RespondInternalError(c, "enqueue delivery", err, log)
		return
	}
	log.Infow("Quote accepted for delivery",
		"job", job.ID,
		"origin", msg.Origin,
		"bytes", len(msg.Attachment))
	metrics.RelayRequests.WithLabelValues(endpoint, "accepted").Inc()
	apiresponses.RespondSuccess(c, apiresponses.MessageAccepted)
}

func (rc *Controller) rejectInvalid(c *gin.Context, endpoint string, err error) {
	metrics.RelayRequests.WithLabelValues(endpoint, "invalid").Inc()
	system.GetReqLogger(c, rc.log).Debugw("Rejecting invalid request", "error", err)
	apiresponses.RespondUnprocessableEntity(c, err.Error())
}

func (rc *Controller) respondComposeError(c *gin.Context, endpoint string, err error, log *zap.SugaredLogger) {
	var (
		validationErr *message.ValidationError
		fetchErr      *message.FetchError
		decodeErr     *message.DecodeError
	)
	switch {
	case errors.As(err, &validationErr):
		rc.rejectInvalid(c, endpoint, err)
	case errors.As(err, &fetchErr):
		log.Warnw("Source PDF download failed", "url", fetchErr.URL, "status", fetchErr.StatusCode, "error", err)
		metrics.RelayRequests.WithLabelValues(endpoint, "fetch_failed").Inc()
		apiresponses.RespondFailure(c, apiresponses.MessageDownloadFailed)
	case errors.As(err, &decodeErr):
		log.Infow("Rejecting malformed base64 payload", "error", err)
		metrics.RelayRequests.WithLabelValues(endpoint, "decode_failed").Inc()
		apiresponses.RespondFailure(c, apiresponses.ErrorMessage(err))
	default:
		log.Errorw("Failed to build quote message", "error", err)
		metrics.RelayRequests.WithLabelValues(endpoint, "error").Inc()
		apiresponses.RespondFailure(c, apiresponses.ErrorMessage(err))
	}
}

// respondQueueError answers 503 when the queue cannot take the job. It
// reports whether a response was written.
func (rc *Controller) respondQueueError(c *gin.Context, endpoint string, err error) bool {
	if !errors.Is(err, delivery.ErrQueueFull) && !errors.Is(err, delivery.ErrQueueClosed) {
		return false
	}
	metrics.RelayRequests.WithLabelValues(endpoint, "unavailable").Inc()
	apiresponses.RespondServiceUnavailable(c, "")
	return true
}
