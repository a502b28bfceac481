package mux

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnsupportedMediaType is returned by Bind for bodies it cannot
	// decode.
	ErrUnsupportedMediaType = errors.New("mux: unsupported media type")

	// ErrEmptyBody is returned when there is nothing to decode.
	ErrEmptyBody = errors.New("mux: empty body")

	// ErrTrailingData is returned when a body holds more than one value.
	ErrTrailingData = errors.New("mux: trailing data after body value")
)

// valueDecoder is the shared shape of the json, xml and yaml decoders.
type valueDecoder interface {
	Decode(v any) error
}

// decodeOne decodes exactly one value from dec into v.
func decodeOne(dec valueDecoder, v any) error {
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}
	return nil
}

// DecodeJSON reads one JSON value from r into v. Strict decoding rejects
// object keys that match no struct field.
func DecodeJSON(r io.Reader, v any, strict bool) error {
	dec := json.NewDecoder(r)
	if strict {
		dec.DisallowUnknownFields()
	}
	return decodeOne(dec, v)
}

// DecodeXML reads one XML element from r into v.
func DecodeXML(r io.Reader, v any) error {
	return decodeOne(xml.NewDecoder(r), v)
}

// DecodeYAML reads one YAML document from r into v. Strict decoding
// rejects mapping keys that match no struct field.
func DecodeYAML(r io.Reader, v any, strict bool) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(strict)
	return decodeOne(dec, v)
}

// Bind decodes the request body into v by its Content-Type. JSON and
// YAML are decoded strictly. Forms bind into *url.Values or
// *map[string]string.
//
// Decode failures are 400 status errors and unknown types 415, so
// returning the error through Fail answers the client accordingly.
func (c *Context) Bind(v any) error {
	mt := mediaType(c.Request.Header.Get("Content-Type"))

	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return c.BindJSON(v)
	case mt == "application/xml" || mt == "text/xml" || strings.HasSuffix(mt, "+xml"):
		return c.BindXML(v)
	case mt == "application/yaml" || mt == "application/x-yaml" || mt == "text/yaml":
		return c.BindYAML(v)
	case mt == "application/x-www-form-urlencoded":
		return c.BindForm(v)
	}

	return NewStatusError(http.StatusUnsupportedMediaType, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mt))
}

// BindJSON decodes a JSON body into v, rejecting unknown fields.
func (c *Context) BindJSON(v any) error {
	return badRequest("json", DecodeJSON(c.Request.Body, v, true))
}

// BindXML decodes an XML body into v.
func (c *Context) BindXML(v any) error {
	return badRequest("xml", DecodeXML(c.Request.Body, v))
}

// BindYAML decodes a YAML body into v, rejecting unknown fields.
func (c *Context) BindYAML(v any) error {
	return badRequest("yaml", DecodeYAML(c.Request.Body, v, true))
}

// BindForm copies the urlencoded body fields into v, which must be a
// *url.Values or a *map[string]string. The map form keeps the first value
// of each field.
func (c *Context) BindForm(v any) error {
	if err := c.Request.ParseForm(); err != nil {
		return badRequest("form", err)
	}

	form := c.Request.PostForm

	switch dst := v.(type) {
	case *url.Values:
		*dst = url.Values{}
		for k, vs := range form {
			(*dst)[k] = append([]string(nil), vs...)
		}
	case *map[string]string:
		*dst = make(map[string]string, len(form))
		for k := range form {
			(*dst)[k] = form.Get(k)
		}
	default:
		return fmt.Errorf("mux: bind form: unsupported target %T", v)
	}

	return nil
}

func badRequest(kind string, err error) error {
	if err == nil {
		return nil
	}
	return NewStatusError(http.StatusBadRequest, fmt.Errorf("mux: bind %s: %w", kind, err))
}
