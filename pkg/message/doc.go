// Package message turns an inbound quote request into the outgoing email:
// it loads the PDF from one of the supported sources (URL, base64 payload,
// multipart upload) and renders the fixed subject, body and attachment name.
package message
