package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"incident-assistant/internal/domain/model"
)

const (
	MaxBodyBytes       = 300_000
	MaxMessageChars    = 8_000
	MaxLogChars        = 200_000
	MaxSessionIDChars  = 128
	multipartMemLimit  = 1 << 20
	logsSeparator      = "\n\n### Logs:\n"
	msgUnsupportedType = "Unsupported Content-Type. Use application/json or multipart/form-data"
	msgTooLarge        = "Request body exceeds maximum size of 300000 bytes"
	msgBadJSONShape    = "Invalid JSON body shape"
	msgBadMultipart    = "Invalid multipart form-data payload"
	msgBadPayload      = "Invalid request payload"
	msgMessageRequired = "Message is required"
)

// ParseError is a parser rejection that maps directly onto a response.
type ParseError struct {
	Status  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

func badRequest(msg string, err error) *ParseError {
	return &ParseError{Status: http.StatusBadRequest, Message: msg, Err: err}
}

// rawChatRequest is the decoded payload before normalization.
type rawChatRequest struct {
	sessionID string
	message   string
	textLogs  string
}

// ParseChatRequest turns a JSON or multipart request into a ParsedChatRequest.
// Every failure is a *ParseError; it never panics on malformed input.
func ParseChatRequest(w http.ResponseWriter, r *http.Request) (parsed model.ParsedChatRequest, perr *ParseError) {
	defer func() {
		if rec := recover(); rec != nil {
			perr = badRequest(msgBadPayload, fmt.Errorf("parser panic: %v", rec))
		}
	}()

	ct := strings.ToLower(r.Header.Get("Content-Type"))
	isJSON := strings.Contains(ct, "application/json")
	isMultipart := strings.Contains(ct, "multipart/form-data")
	if !isJSON && !isMultipart {
		return parsed, &ParseError{Status: http.StatusUnsupportedMediaType, Message: msgUnsupportedType}
	}
	if r.ContentLength > MaxBodyBytes {
		return parsed, &ParseError{Status: http.StatusRequestEntityTooLarge, Message: msgTooLarge}
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var raw rawChatRequest
	if isJSON {
		raw, perr = decodeJSON(r.Body)
	} else {
		raw, perr = decodeMultipart(r)
	}
	if perr != nil {
		return parsed, perr
	}
	return normalize(raw)
}

func decodeJSON(body io.Reader) (rawChatRequest, *ParseError) {
	var raw rawChatRequest
	b, err := io.ReadAll(body)
	if err != nil {
		return raw, readFailure(err)
	}
	if !gjson.ValidBytes(b) {
		return raw, badRequest(msgBadPayload, errors.New("malformed json"))
	}
	doc := gjson.ParseBytes(b)
	if !doc.IsObject() {
		return raw, badRequest(msgBadJSONShape, nil)
	}

	fields := []struct {
		name string
		dst  *string
	}{
		{"message", &raw.message},
		{"sessionId", &raw.sessionID},
		{"textLogs", &raw.textLogs},
	}
	// repeated keys resolve to the last occurrence
	last := make(map[string]gjson.Result, len(fields))
	doc.ForEach(func(k, v gjson.Result) bool {
		last[k.String()] = v
		return true
	})
	for _, f := range fields {
		v := last[f.name]
		switch v.Type {
		case gjson.Null:
			// absent or explicit null
		case gjson.String:
			*f.dst = v.Str
		default:
			return raw, badRequest(msgBadJSONShape, fmt.Errorf("field %s has type %s", f.name, v.Type))
		}
	}
	return raw, nil
}

func decodeMultipart(r *http.Request) (rawChatRequest, *ParseError) {
	var raw rawChatRequest
	if err := r.ParseMultipartForm(multipartMemLimit); err != nil {
		return raw, readFailure(err)
	}
	form := r.MultipartForm
	defer func() { _ = form.RemoveAll() }()

	msgs, ok := form.Value["message"]
	if !ok || len(msgs) == 0 {
		return raw, badRequest(msgBadMultipart, nil)
	}
	raw.message = msgs[0]
	raw.sessionID = firstValue(form.Value["sessionId"])

	inline := normalizeLineEndings(firstValue(form.Value["textLogs"]))
	var fromFile string
	if files := form.File["file"]; len(files) > 0 {
		text, err := readFileText(files[0])
		if err != nil {
			return raw, readFailure(err)
		}
		fromFile = normalizeLineEndings(text)
	}
	raw.textLogs = joinNonEmpty(strings.TrimSpace(inline), strings.TrimSpace(fromFile))
	return raw, nil
}

func readFileText(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

func normalize(raw rawChatRequest) (model.ParsedChatRequest, *ParseError) {
	var out model.ParsedChatRequest
	sessionID := strings.TrimSpace(raw.sessionID)
	message := strings.TrimSpace(normalizeLineEndings(raw.message))
	textLogs := strings.TrimSpace(normalizeLineEndings(raw.textLogs))

	if message == "" {
		return out, badRequest(msgMessageRequired, nil)
	}
	if utf8.RuneCountInString(message) > MaxMessageChars {
		return out, badRequest(fmt.Sprintf("Message exceeds maximum length of %d characters", MaxMessageChars), nil)
	}
	if utf8.RuneCountInString(textLogs) > MaxLogChars {
		return out, badRequest(fmt.Sprintf("Text logs exceed maximum length of %d characters", MaxLogChars), nil)
	}
	if utf8.RuneCountInString(sessionID) > MaxSessionIDChars {
		return out, badRequest(fmt.Sprintf("Session ID exceeds maximum length of %d characters", MaxSessionIDChars), nil)
	}

	out.SessionID = sessionID
	out.Message = message
	out.TextLogs = textLogs
	out.UserText = message
	if textLogs != "" {
		out.UserText = message + logsSeparator + textLogs
	}
	return out, nil
}

func readFailure(err error) *ParseError {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return &ParseError{Status: http.StatusRequestEntityTooLarge, Message: msgTooLarge, Err: err}
	}
	return badRequest(msgBadPayload, err)
}

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func normalizeLineEndings(s string) string { return lineEndings.Replace(s) }

func firstValue(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
