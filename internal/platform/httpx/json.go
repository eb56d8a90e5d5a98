package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
)

// maxRequestBody caps JSON request bodies. A 10,000 entry sync payload fits
// well under this.
const maxRequestBody = 4 << 20

// errorBody is the JSON error envelope returned by every handler.
type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details []json.RawMessage `json:"details,omitempty"`
}

// DecodeJSON reads a size-limited JSON request body into target.
func DecodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidFormat, "request body is not valid JSON", err)
	}
	return nil
}

// WriteJSON writes a JSON response with the provided status code.
func WriteJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if value == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Printf("write json response: %v", err)
	}
}

// WriteError writes a domain error as a structured JSON response. The payload
// carries a google.rpc.ErrorInfo detail, plus RetryInfo and a Retry-After
// header for rate-limit errors. Unrecognized errors become 500s with the
// underlying message withheld from the caller.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		log.Printf("internal error: %v", err)
		WriteJSON(w, http.StatusInternalServerError, errorBody{
			Code:    string(apperrors.CodeUnknown),
			Message: "internal error",
		})
		return
	}

	body := errorBody{
		Code:    string(domainErr.Code),
		Message: domainErr.Message,
	}
	if detail := marshalDetail(&errdetails.ErrorInfo{
		Reason:   string(domainErr.Code),
		Domain:   apperrors.Domain,
		Metadata: domainErr.Metadata,
	}); detail != nil {
		body.Details = append(body.Details, detail)
	}
	if domainErr.RetryAfter > 0 {
		seconds := int(domainErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		if detail := marshalDetail(&errdetails.RetryInfo{
			RetryDelay: durationpb.New(domainErr.RetryAfter),
		}); detail != nil {
			body.Details = append(body.Details, detail)
		}
	}
	WriteJSON(w, domainErr.Code.HTTPStatus(), body)
}

func marshalDetail(message proto.Message) json.RawMessage {
	raw, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(message)
	if err != nil {
		log.Printf("marshal error detail: %v", err)
		return nil
	}
	return json.RawMessage(raw)
}
