package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/americaro/quotemail/pkg/apiresponses"
	"github.com/americaro/quotemail/pkg/delivery"
	"github.com/americaro/quotemail/pkg/message"
)

var samplePDF = []byte("%PDF-1.4 quote")

type fakeDispatcher struct {
	mu        sync.Mutex
	submitted []*delivery.Job
	waited    []*delivery.Job
	submitErr error
	waitErr   error
}

func (d *fakeDispatcher) Submit(job *delivery.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return d.submitErr
	}
	d.submitted = append(d.submitted, job)
	return nil
}

func (d *fakeDispatcher) SubmitAndWait(_ context.Context, job *delivery.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waited = append(d.waited, job)
	return d.waitErr
}

func (d *fakeDispatcher) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.submitted) + len(d.waited)
}

func setupRouter(t *testing.T, d *fakeDispatcher) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	composer := &message.Composer{From: "relay@americaro.co.kr", To: "abc@americaro.co.kr"}
	ctrl := NewController(composer, message.NewFetcher(time.Second), d, zaptest.NewLogger(t).Sugar())

	router := gin.New()
	require.NoError(t, ctrl.Register(router.Group(ctrl.BasePath(), ctrl.Handlers()...)))
	return router
}

func pdfServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(samplePDF)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) apiresponses.Response {
	t.Helper()
	var resp apiresponses.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestSendEmail_DeliversAndReportsOutcome(t *testing.T) {
	srv := pdfServer(t)
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	w := postJSON(router, "/send-email", map[string]string{
		"file_url":     srv.URL + "/quote.pdf",
		"biz_name":     "Acme",
		"sender_email": "a@b.com",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "메일 발송 성공", resp.Message)

	require.Len(t, d.waited, 1)
	msg := d.waited[0].Message
	assert.Equal(t, samplePDF, msg.Attachment)
	assert.Equal(t, message.OriginURL, msg.Origin)
	assert.Equal(t, "견적서 발송 - Acme | a@b.com", msg.Subject)
}

func TestSendEmail_DeliveryFailureIsReported(t *testing.T) {
	srv := pdfServer(t)
	d := &fakeDispatcher{waitErr: fmt.Errorf("%w after 3 attempts: 535 auth failed", delivery.ErrRetriesExhausted)}
	router := setupRouter(t, d)

	w := postJSON(router, "/send-email", map[string]string{
		"file_url":     srv.URL + "/quote.pdf",
		"biz_name":     "Acme",
		"sender_email": "a@b.com",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "에러 발생")
	assert.Contains(t, resp.Message, "535 auth failed")
}

func TestSendEmail_FetchFailureNeverReachesDelivery(t *testing.T) {
	srv := pdfServer(t)
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	w := postJSON(router, "/send-email", map[string]string{
		"file_url":     srv.URL + "/missing.pdf",
		"biz_name":     "Acme",
		"sender_email": "a@b.com",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "파일 다운로드 실패", resp.Message)
	assert.Zero(t, d.total(), "no delivery for a failed fetch")
}

func TestSendEmail_Validation(t *testing.T) {
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing file_url", map[string]string{"biz_name": "Acme", "sender_email": "a@b.com"}},
		{"non-http file_url", map[string]string{"file_url": "ftp://x/q.pdf", "biz_name": "Acme", "sender_email": "a@b.com"}},
		{"bad sender email", map[string]string{"file_url": "http://x/q.pdf", "biz_name": "Acme", "sender_email": "nope"}},
		{"blank biz name", map[string]string{"file_url": "http://x/q.pdf", "biz_name": "  ", "sender_email": "a@b.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/send-email", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.False(t, decode(t, w).Success)
		})
	}
	assert.Zero(t, d.total())
}

func TestSendEmailBase64_AcceptsAndQueues(t *testing.T) {
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	w := postJSON(router, "/send-email-base64", map[string]string{
		"pdf_base64":   base64.StdEncoding.EncodeToString(samplePDF),
		"biz_name":     "Acme",
		"sender_email": "a@b.com",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "요청이 접수되었습니다", resp.Message)

	require.Len(t, d.submitted, 1)
	msg := d.submitted[0].Message
	assert.Equal(t, "견적서 발송 - Acme | a@b.com", msg.Subject)
	assert.Equal(t, "견적서_Acme.pdf", msg.Filename)
	assert.Equal(t, samplePDF, msg.Attachment)
	assert.Equal(t, "abc@americaro.co.kr", msg.To)
	assert.NotEmpty(t, d.submitted[0].ID)
}

func TestSendEmailBase64_MalformedRejectedBeforeQueue(t *testing.T) {
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	w := postJSON(router, "/send-email-base64", map[string]string{
		"pdf_base64":   "not base64!!",
		"biz_name":     "Acme",
		"sender_email": "a@b.com",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "에러 발생")
	assert.Zero(t, d.total())
}

func TestSendEmailBase64_EmptyPayloadIsSent(t *testing.T) {
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	w := postJSON(router, "/send-email-base64", map[string]string{
		"pdf_base64":   "",
		"biz_name":     "Acme",
		"sender_email": "a@b.com",
	})

	assert.True(t, decode(t, w).Success)
	require.Len(t, d.submitted, 1)
	assert.Empty(t, d.submitted[0].Message.Attachment)
}

func TestSendEmailBase64_QueueUnavailable(t *testing.T) {
	for _, queueErr := range []error{delivery.ErrQueueFull, delivery.ErrQueueClosed} {
		t.Run(queueErr.Error(), func(t *testing.T) {
			d := &fakeDispatcher{submitErr: fmt.Errorf("%w (capacity: 1)", queueErr)}
			router := setupRouter(t, d)

			w := postJSON(router, "/send-email-base64", map[string]string{
				"pdf_base64":   base64.StdEncoding.EncodeToString(samplePDF),
				"biz_name":     "Acme",
				"sender_email": "a@b.com",
			})
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			assert.False(t, decode(t, w).Success)
		})
	}
}

func TestSendEmailBase64_UnexpectedQueueError(t *testing.T) {
	d := &fakeDispatcher{submitErr: errors.New("boom")}
	router := setupRouter(t, d)

	w := postJSON(router, "/send-email-base64", map[string]string{
		"pdf_base64":   base64.StdEncoding.EncodeToString(samplePDF),
		"biz_name":     "Acme",
		"sender_email": "a@b.com",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "에러 발생: boom", decode(t, w).Message)
}

func multipartRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("pdf_file", "quote.pdf")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/send-email-file", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSendEmailFile_AcceptsAndQueues(t *testing.T) {
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t, map[string]string{"biz_name": "Acme", "sender_email": "a@b.com"}, samplePDF))

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "요청이 접수되었습니다", resp.Message)

	require.Len(t, d.submitted, 1)
	msg := d.submitted[0].Message
	assert.Equal(t, samplePDF, msg.Attachment)
	assert.Equal(t, message.OriginUpload, msg.Origin)
	assert.Equal(t, "견적서 발송 - Acme | a@b.com", msg.Subject)
}

func TestSendEmailFile_MissingParts(t *testing.T) {
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	t.Run("missing file", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, multipartRequest(t, map[string]string{"biz_name": "Acme", "sender_email": "a@b.com"}, nil))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("missing biz_name", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, multipartRequest(t, map[string]string{"sender_email": "a@b.com"}, samplePDF))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	assert.Zero(t, d.total())
}

func TestAllVariantsProduceSameSubjectAndBody(t *testing.T) {
	srv := pdfServer(t)
	d := &fakeDispatcher{}
	router := setupRouter(t, d)

	postJSON(router, "/send-email", map[string]string{
		"file_url": srv.URL + "/quote.pdf", "biz_name": "Acme", "sender_email": "a@b.com",
	})
	postJSON(router, "/send-email-base64", map[string]string{
		"pdf_base64": base64.StdEncoding.EncodeToString(samplePDF), "biz_name": "Acme", "sender_email": "a@b.com",
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t, map[string]string{"biz_name": "Acme", "sender_email": "a@b.com"}, samplePDF))

	require.Len(t, d.waited, 1)
	require.Len(t, d.submitted, 2)
	ref := d.waited[0].Message
	for _, job := range d.submitted {
		assert.Equal(t, ref.Subject, job.Message.Subject)
		assert.Equal(t, ref.Body, job.Message.Body)
		assert.Equal(t, ref.To, job.Message.To)
	}
}
