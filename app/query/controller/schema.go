package controller

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
)

// queryParam declares one accepted query string parameter.
type queryParam struct {
	Name     string
	Optional bool
	Default  string
	OneOf    []string
}

type querySchema []queryParam

var resolutionParam = queryParam{
	Name:     "resolution",
	Optional: true,
	Default:  string(indexer.PnlTickResolutionDay),
	OneOf:    resolutionValues(),
}

func resolutionValues() []string {
	out := make([]string, len(indexer.PnlTickResolutions))
	for i, r := range indexer.PnlTickResolutions {
		out[i] = string(r)
	}
	return out
}

type validationError struct {
	Msg      string `json:"msg"`
	Param    string `json:"param,omitempty"`
	Value    string `json:"value,omitempty"`
	Location string `json:"location,omitempty"`
}

// validate returns the declared parameters with defaults applied.
func (s querySchema) validate(r *http.Request) (map[string]string, []validationError) {
	qs := r.URL.Query()
	params := make(map[string]string, len(s))
	var errs []validationError

	for _, p := range s {
		v, present := qs[p.Name]
		if !present || len(v) == 0 || v[0] == "" {
			if !p.Optional {
				errs = append(errs, validationError{Msg: p.Name + " is required", Param: p.Name, Location: "query"})
				continue
			}
			params[p.Name] = p.Default
			continue
		}
		if len(p.OneOf) > 0 && !contains(p.OneOf, v[0]) {
			errs = append(errs, validationError{
				Msg:      fmt.Sprintf("%s must be one of %s", p.Name, strings.Join(p.OneOf, ",")),
				Param:    p.Name,
				Value:    v[0],
				Location: "query",
			})
			continue
		}
		params[p.Name] = v[0]
	}
	return params, errs
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

type paramsKey struct{}

// withSchema rejects requests that fail validation before next runs.
func (c *Controller) withSchema(schema querySchema, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, errs := schema.validate(r)
		if len(errs) > 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Errors: errs})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), paramsKey{}, params)))
	})
}

// param returns a validated parameter.
func param(r *http.Request, name string) string {
	params, _ := r.Context().Value(paramsKey{}).(map[string]string)
	return params[name]
}
