// Package relay implements the quote relay HTTP endpoints.
//
// POST /send-email fetches the PDF from file_url and answers with the
// delivery outcome. POST /send-email-base64 and POST /send-email-file build
// the message synchronously, queue it, and answer as soon as it is accepted.
// Every response is {"success": bool, "message": string}.
package relay
