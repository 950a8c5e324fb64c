package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2beens/lxcgate/internal/telemetry/metrics"
	"github.com/2beens/lxcgate/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// ErrUpstream marks any failure talking to the control plane API.
var ErrUpstream = errors.New("control plane request failed")

// operation label values for upstream call metrics
const (
	OpContainerStatus = "container_status"
	OpListContainers  = "list_containers"
	OpStartContainer  = "start_container"
	OpStopContainer   = "stop_container"
	OpNodeStatus      = "node_status"
)

const (
	megabyte        = 1024 * 1024
	statusCacheSize = 4 * megabyte
	maxResponseSize = 10 * megabyte
)

type Client struct {
	nodeURL        string // {base}/nodes/{node}
	apiToken       string
	httpClient     *http.Client
	cache          *freecache.Cache
	cacheTTLSec    int
	metricsManager *metrics.Manager
}

type NewClientParams struct {
	BaseURL        string // e.g. https://pve.local:8006/api2/json
	Node           string
	APIToken       string // USER@REALM!TOKENID=SECRET
	HTTPClient     *http.Client
	CacheTTLSec    int // 0 disables the status cache
	MetricsManager *metrics.Manager
}

func NewClient(params NewClientParams) (*Client, error) {
	if params.BaseURL == "" {
		return nil, errors.New("proxmox base url is empty")
	}
	if params.Node == "" {
		return nil, errors.New("proxmox node is empty")
	}
	if params.APIToken == "" {
		log.Warnln("proxmox api token is empty, control plane calls will be rejected")
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(30*time.Second, false)
	}

	c := &Client{
		nodeURL:        fmt.Sprintf("%s/nodes/%s", strings.TrimSuffix(params.BaseURL, "/"), params.Node),
		apiToken:       params.APIToken,
		httpClient:     httpClient,
		cacheTTLSec:    params.CacheTTLSec,
		metricsManager: params.MetricsManager,
	}
	if params.CacheTTLSec > 0 {
		c.cache = freecache.NewCache(statusCacheSize)
	}

	return c, nil
}

// NewHTTPClient returns a traced http client for the control plane. Proxmox
// nodes commonly serve a self-signed certificate, hence insecureTLS.
func NewHTTPClient(timeout time.Duration, insecureTLS bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// ContainerStatus returns the current resource usage of container id.
func (c *Client) ContainerStatus(ctx context.Context, id int) (_ *ContainerSpecs, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "proxmox.containerStatus")
	defer func() {
		c.observe(OpContainerStatus, err)
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("container.id", id))

	cacheKey := statusCacheKey(id)
	if c.cache != nil {
		if cached, err := c.cache.Get(cacheKey); err == nil {
			specs := &ContainerSpecs{}
			if err := json.Unmarshal(cached, specs); err == nil {
				log.Tracef("container %d status found in cache", id)
				return specs, nil
			}
			log.Errorf("failed to unmarshal cached status for container %d", id)
		}
	}

	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/lxc/%d/status/current", id))
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal container status: %w", ErrUpstream, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: container %d status response has no data", ErrUpstream, id)
	}

	specs := resp.Data.toSpecs()
	if c.cache != nil {
		if specsBytes, err := json.Marshal(specs); err == nil {
			if err := c.cache.Set(cacheKey, specsBytes, c.cacheTTLSec); err != nil {
				log.Errorf("failed to cache status for container %d: %s", id, err)
			}
		}
	}

	return specs, nil
}

// ListContainers returns the control plane's container list body as is.
func (c *Client) ListContainers(ctx context.Context) (_ json.RawMessage, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "proxmox.listContainers")
	defer func() {
		c.observe(OpListContainers, err)
		tracing.EndSpanWithErrCheck(span, err)
	}()

	body, err := c.do(ctx, http.MethodGet, "/lxc")
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: container list is not valid json", ErrUpstream)
	}
	return body, nil
}

// StartContainer asks the control plane to start container id and returns
// the id of the upstream task.
func (c *Client) StartContainer(ctx context.Context, id int) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "proxmox.startContainer")
	defer func() {
		c.observe(OpStartContainer, err)
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("container.id", id))
	return c.power(ctx, id, "start")
}

// StopContainer asks the control plane to stop container id and returns
// the id of the upstream task.
func (c *Client) StopContainer(ctx context.Context, id int) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "proxmox.stopContainer")
	defer func() {
		c.observe(OpStopContainer, err)
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("container.id", id))
	return c.power(ctx, id, "stop")
}

func (c *Client) power(ctx context.Context, id int, action string) (string, error) {
	// the cached status is stale after a power change, whatever the outcome
	if c.cache != nil {
		c.cache.Del(statusCacheKey(id))
	}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/lxc/%d/status/%s", id, action))
	if err != nil {
		return "", err
	}

	var resp taskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Debugf("%s container %d: unexpected response body: %s", action, id, err)
		return "", nil
	}
	return resp.Data, nil
}

// NodeStatus reports whether the node answers with status data.
func (c *Client) NodeStatus(ctx context.Context) (_ bool, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "proxmox.nodeStatus")
	defer func() {
		c.observe(OpNodeStatus, err)
		tracing.EndSpanWithErrCheck(span, err)
	}()

	body, err := c.do(ctx, http.MethodGet, "/status")
	if err != nil {
		return false, err
	}

	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("%w: unmarshal node status: %w", ErrUpstream, err)
	}

	return hasData(resp.Data), nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	reqURL := c.nodeURL + path
	log.Debugf("calling control plane: %s %s", method, reqURL)

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %w", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "PVEAPIToken="+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http client do: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrUpstream, method, path, resp.StatusCode, truncate(body, 256))
	}

	return body, nil
}

func (c *Client) observe(operation string, err error) {
	if c.metricsManager == nil {
		return
	}
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultFailure
	}
	c.metricsManager.CounterUpstreamCalls.WithLabelValues(operation, result).Inc()
}

func statusCacheKey(id int) []byte {
	return []byte("status::" + strconv.Itoa(id))
}

// hasData mirrors a truthiness check: null, false, 0 and "" mean no data.
func hasData(data json.RawMessage) bool {
	switch strings.TrimSpace(string(data)) {
	case "", "null", "false", "0", `""`:
		return false
	default:
		return true
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
