package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const maxJSONBody = 1 << 20

// requireJSON rejects requests whose Content-Type does not mention application/json.
func requireJSON(req *http.Request) error {
	if !strings.Contains(strings.ToLower(req.Header.Get("Content-Type")), "application/json") {
		return errorf(http.StatusUnsupportedMediaType, "Content-Type must be application/json")
	}
	return nil
}

// readJSON reads a bounded JSON body. An empty body reads as an empty object.
func readJSON(req *http.Request) (gjson.Result, error) {
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxJSONBody+1))
	if err != nil {
		return gjson.Result{}, errorf(http.StatusBadRequest, "could not read body")
	}
	if len(raw) > maxJSONBody {
		return gjson.Result{}, errorf(http.StatusRequestEntityTooLarge, "request body too large")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return gjson.Parse("{}"), nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, errorf(http.StatusBadRequest, "invalid JSON body")
	}
	return gjson.ParseBytes(raw), nil
}

// looseString coerces a JSON string or number into a string. Anything else,
// including a missing field, reports false.
func looseString(body gjson.Result, field string) (string, bool) {
	value := body.Get(gjsonEscape(field))
	switch value.Type {
	case gjson.String:
		return value.Str, true
	case gjson.Number:
		if value.Raw != "" && strings.ContainsAny(value.Raw, ".eE") {
			return strconv.FormatFloat(value.Num, 'f', -1, 64), true
		}
		return value.Raw, true
	default:
		return "", false
	}
}

// looseStrings reads every field with looseString and reports whether all were present.
func looseStrings(body gjson.Result, fields ...string) ([]string, bool) {
	out := make([]string, len(fields))
	for i, field := range fields {
		value, ok := looseString(body, field)
		if !ok {
			return nil, false
		}
		out[i] = value
	}
	return out, true
}

func gjsonEscape(field string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return replacer.Replace(field)
}

// decodeJSON decodes a bounded JSON body into v.
func decodeJSON(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errorf(http.StatusBadRequest, "request body required")
		}
		return errorf(http.StatusBadRequest, "invalid JSON body")
	}
	return nil
}
