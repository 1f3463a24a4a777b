// Package pipeline turns an admitted request into a backend execution and
// a rendered response: parameter merging, declarative validation, statement
// dispatch, and response shaping.
package pipeline

import (
	"encoding/json"
	"mime"
	"net/url"
	"strings"

	"github.com/Clickin/querygate/errors"
)

// Origin labels recorded for each merged parameter. Validation checks them
// against an endpoint's source hints.
const (
	OriginPath  = "path"
	OriginQuery = "query"
	OriginBody  = "body"
)

// MergeParameters flattens path variables, query parameters, and the
// request body into one parameter map. Later sources win on key collision:
// path, then query, then body. The second map records the winning origin
// of each key.
func MergeParameters(pathVars map[string]string, query url.Values, body []byte, contentType string) (map[string]any, map[string]string, error) {
	params := make(map[string]any, len(pathVars)+len(query))
	origins := make(map[string]string, len(pathVars)+len(query))

	for name, value := range pathVars {
		params[name] = value
		origins[name] = OriginPath
	}

	for name, values := range query {
		if len(values) == 1 {
			params[name] = values[0]
		} else {
			list := make([]any, len(values))
			for i, v := range values {
				list[i] = v
			}
			params[name] = list
		}
		origins[name] = OriginQuery
	}

	bodyParams, err := parseBody(body, contentType)
	if err != nil {
		return nil, nil, err
	}
	for name, value := range bodyParams {
		params[name] = value
		origins[name] = OriginBody
	}

	return params, origins, nil
}

// parseBody decodes the request body according to its declared content
// type. A blank body contributes nothing. Unrecognized content types are
// tried as JSON, the dominant client behavior when the header is missing
// or wrong.
func parseBody(body []byte, contentType string) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	mediaType = strings.ToLower(mediaType)

	switch {
	case strings.Contains(mediaType, "json"):
		return parseJSONBody(body, mediaType)
	case strings.Contains(mediaType, "xml"):
		return parseXMLBody(body, mediaType)
	case mediaType == "application/x-www-form-urlencoded":
		return parseFormBody(body, mediaType)
	default:
		return parseJSONBody(body, mediaType)
	}
}

func parseJSONBody(body []byte, mediaType string) (map[string]any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.NewParse(mediaType, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.Newf(errors.Parse, "request body must be a JSON object, got %T", doc)
	}
	return obj, nil
}

// parseFormBody decodes urlencoded form data. Repeated fields collapse to
// a list, matching query parameter behavior.
func parseFormBody(body []byte, mediaType string) (map[string]any, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errors.NewParse(mediaType, err)
	}

	params := make(map[string]any, len(values))
	for name, vs := range values {
		if len(vs) == 1 {
			params[name] = vs[0]
		} else {
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			params[name] = list
		}
	}
	return params, nil
}
