package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/jsonschema-go/jsonschema"
)

const maxFormBytes = 64 << 10

func ptr[T any](v T) *T { return &v }

var createOrderSchema = mustResolve(&jsonschema.Schema{
	Type:     "object",
	Required: []string{"id", "quantity"},
	Properties: map[string]*jsonschema.Schema{
		"id": {
			Type:        "string",
			Description: "Catalog product id",
			MinLength:   ptr(1),
			MaxLength:   ptr(64),
		},
		"quantity": {
			Type:        "integer",
			Description: "Units to buy",
			Minimum:     ptr(1.0),
		},
		"token": {
			Type:        "string",
			Description: "Checkout correlation token; forwarded as PayPal-Request-Id",
			MaxLength:   ptr(108),
		},
	},
})

var captureOrderSchema = mustResolve(&jsonschema.Schema{
	Type:     "object",
	Required: []string{"orderID"},
	Properties: map[string]*jsonschema.Schema{
		"orderID": {
			Type:        "string",
			Description: "PayPal order id returned on approval",
			MinLength:   ptr(1),
			MaxLength:   ptr(64),
		},
	},
})

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	r, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("resolve schema: %v", err))
	}
	return r
}

type createOrderRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Token    string `json:"token"`
}

type captureOrderRequest struct {
	OrderID string `json:"orderID"`
}

var errUnsupportedMedia = errors.New("unsupported content type")

// decodeBody reads a JSON or form-encoded body, validates it against schema
// and decodes it into dst. Form fields named in numeric are sent to the
// validator as numbers when they parse.
func decodeBody(r *http.Request, schema *jsonschema.Resolved, dst any, numeric ...string) error {
	instance, err := readInstance(r, numeric)
	if err != nil {
		return err
	}
	if err := schema.Validate(instance); err != nil {
		return err
	}
	b, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func readInstance(r *http.Request, numeric []string) (map[string]any, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var m map[string]any
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFormBytes)).Decode(&m); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		return m, nil
	case "application/x-www-form-urlencoded", "":
		r.Body = http.MaxBytesReader(nil, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form: %w", err)
		}
		m := make(map[string]any, len(r.PostForm))
		for k := range r.PostForm {
			m[k] = r.PostForm.Get(k)
		}
		for _, k := range numeric {
			if s, ok := m[k].(string); ok {
				if n, err := strconv.ParseFloat(s, 64); err == nil {
					m[k] = n
				}
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedMedia, ct)
	}
}
