package port

import (
	"context"
	"io"
)

// FetchRequest describes a GET for one resource
type FetchRequest struct {
	Path    string
	Variant string // Optional transcoding variant
	Offset  int64  // Range start; 0 requests the whole resource
	Token   string // Bearer token
}

// FetchResponse is the status line, relevant headers and body of a fetch
type FetchResponse struct {
	StatusCode    int
	Status        string
	URL           string
	ContentLength int64 // -1 if unknown
	ContentType   string
	ContentRange  string
	Body          io.ReadCloser
}

// RemoteSource defines the interface to the origin server
type RemoteSource interface {
	// Fetch issues the request. The caller must close the response body.
	// Non-2xx responses are returned without error.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
}
