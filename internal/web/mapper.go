package web

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/schema"
	"github.com/willemschots/notekeeper/internal/errorz"
	"github.com/willemschots/notekeeper/internal/web/sessions"
)

// mapper is a generic HTTP handler that maps requests to target
// function calls and writes the output to the response.
type mapper[IN, OUT any] struct {
	s      *Server
	req    func(*http.Request) (IN, error)
	target func(context.Context, IN) (OUT, error)
	res    func(result[IN, OUT]) error
}

// result is the result of a successful request.
// it contains all relevant data because we can't know
// in advance what we will need to construct a response.
type result[IN, OUT any] struct {
	s    *Server
	r    *http.Request
	w    http.ResponseWriter
	sess *sessions.Session
	in   IN
	out  OUT
}

// mapBoth creates a HTTP Handler that:
// 1. Maps the request to a value of input type IN.
// 2. Calls the target func with that value.
// 3. Writes the output of type OUT as JSON with status 200.
//
// Errors are written using the server error handler.
func mapBoth[IN, OUT any](s *Server, targetFunc func(context.Context, IN) (OUT, error)) *mapper[IN, OUT] {
	return &mapper[IN, OUT]{
		s: s,
		req: func(r *http.Request) (IN, error) {
			return defaultRequest[IN](s, r)
		},
		target: targetFunc,
		res:    defaultResponse[IN, OUT],
	}
}

// mapRequest creates a HTTP Handler that:
// 1. Maps the request to a value of type IN.
// 2. Calls the target func with that value.
// 3. Writes a status 200 response to the client if target func was successful.
//
// Errors are written using the server error handler.
func mapRequest[IN any](s *Server, targetFunc func(context.Context, IN) error) *mapper[IN, struct{}] {
	return &mapper[IN, struct{}]{
		s: s,
		req: func(r *http.Request) (IN, error) {
			return defaultRequest[IN](s, r)
		},
		target: func(ctx context.Context, in IN) (struct{}, error) {
			return struct{}{}, targetFunc(ctx, in)
		},
		res: func(r result[IN, struct{}]) error {
			return writeJSON(r.w, http.StatusOK, statusJSON{Status: "ok"})
		},
	}
}

// mapResponse creates a HTTP Handler that:
// 1. Calls the target func.
// 2. Maps the returned value of type OUT to the response with a status 200.
//
// Errors are written using the server error handler.
func mapResponse[OUT any](s *Server, targetFunc func(context.Context) (OUT, error)) *mapper[struct{}, OUT] {
	return &mapper[struct{}, OUT]{
		s: s,
		req: func(r *http.Request) (struct{}, error) {
			return struct{}{}, nil
		},
		target: func(ctx context.Context, _ struct{}) (OUT, error) {
			return targetFunc(ctx)
		},
		res: defaultResponse[struct{}, OUT],
	}
}

// request overwrites the function that maps the request to the input type.
func (e *mapper[IN, OUT]) request(fn func(r *http.Request) (IN, error)) *mapper[IN, OUT] {
	e.req = fn
	return e
}

// response overwrites the function that writes the output to the response.
func (e *mapper[IN, OUT]) response(fn func(result[IN, OUT]) error) *mapper[IN, OUT] {
	e.res = fn
	return e
}

func (e *mapper[IN, OUT]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromCtx(r.Context())
	if err != nil {
		e.s.handleError(w, r, err)
		return
	}

	in, err := e.req(r)
	if err != nil {
		e.s.handleError(w, r, err)
		return
	}

	out, err := e.target(r.Context(), in)
	if err != nil {
		e.s.handleError(w, r, err)
		return
	}

	result := result[IN, OUT]{
		s:    e.s,
		r:    r,
		w:    w,
		sess: sess,
		in:   in,
		out:  out,
	}

	err = e.res(result)
	if err != nil {
		e.s.handleError(w, r, err)
		return
	}
}

// defaultRequest is the default way to map a request to a struct.
// Form fields are decoded with the schema decoder of the server,
// decoding errors are reported as invalid input.
func defaultRequest[IN any](s *Server, r *http.Request) (IN, error) {
	var in IN
	err := r.ParseForm()
	if err != nil {
		return in, errorz.InvalidInput{err}
	}

	err = s.decoder.Decode(&in, r.PostForm)
	if err != nil {
		return in, decodeErr(err)
	}

	return in, nil
}

// decodeErr maps schema errors to invalid input, keyed by form field.
func decodeErr(err error) error {
	var multiErr schema.MultiError
	if !errors.As(err, &multiErr) {
		return errorz.InvalidInput{err}
	}

	keys := make([]string, 0, len(multiErr))
	for k := range multiErr {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(errorz.InvalidInput, 0, len(keys))
	for _, k := range keys {
		fieldErr := multiErr[k]

		var convErr schema.ConversionError
		if errors.As(fieldErr, &convErr) && convErr.Err != nil {
			fieldErr = convErr.Err
		}

		out = append(out, errorz.Keyed{Key: k, Err: fieldErr})
	}

	return out
}

// defaultResponse is the default way to write a response to the client.
func defaultResponse[IN, OUT any](r result[IN, OUT]) error {
	return writeJSON(r.w, http.StatusOK, r.out)
}
