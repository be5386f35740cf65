package http

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ValentinKolb/btcache/rpc/transport"
	"github.com/ansel1/merry"
)

// ErrNotConnected is returned by Send before Connect or after Close
var ErrNotConnected = merry.New("http transport not initialized")

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    uint32
	retryCount int
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return merry.New("no endpoints configured")
	}

	// Parse each server URL
	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		parsedURL, err := url.Parse(server)
		if err != nil {
			return merry.Wrap(err).WithValue("endpoint", server)
		}
		parsedURLs[i] = parsedURL
	}

	// Create client with a pooled transport
	conns := config.ConnectionsPerEndpoint
	if conns < 1 {
		conns = 1
	}

	t.client = &http.Client{
		Timeout: time.Duration(config.TimeoutSecond) * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        conns * len(parsedURLs),
			MaxIdleConnsPerHost: conns,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	// Set the client and server URLs
	t.serverURLs = parsedURLs
	t.counter = 0
	t.retryCount = config.RetryCount
	if t.retryCount < 1 {
		t.retryCount = 1
	}
	return nil
}

func (t *httpClientTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	// Check if the transport is initialized
	if t.client == nil {
		return nil, ErrNotConnected
	}

	// Send the request (with retries)
	var lastErr error
	for i := 0; i < t.retryCount; i++ {
		// Select the next server via round-robin, a retry moves on to the next endpoint
		idx := atomic.AddUint32(&t.counter, 1) % uint32(len(t.serverURLs))
		resp, err := t.sendTo(t.serverURLs[idx], shardId, req)
		if err == nil {
			return resp, nil
		}
		Logger.Debugf("attempt %d to %s failed: %v", i+1, t.serverURLs[idx], err)
		lastErr = err
	}
	return nil, lastErr
}

func (t *httpClientTransport) Close() error {
	// Close the client
	if t.client != nil {
		t.client.CloseIdleConnections()
	}

	// Reset the client and server URLs
	t.client = nil
	t.serverURLs = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *httpClientTransport) sendTo(server *url.URL, shardId uint64, req []byte) ([]byte, error) {
	// Create the complete URL
	requestURL := server.JoinPath(strconv.FormatUint(shardId, 10)).String()
	httpResponse, err := t.client.Post(requestURL, "application/octet-stream", bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	// Check if the response status code is OK
	if httpResponse.StatusCode != http.StatusOK {
		return nil, merry.Errorf("http error: %s", httpResponse.Status).WithHTTPCode(httpResponse.StatusCode)
	}
	// Read the response body
	return io.ReadAll(httpResponse.Body)
}
