// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client for calls to collaborator services.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
