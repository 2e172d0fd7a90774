package contact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/callcenter/dialer/internal/auth"
	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/metrics"
	"github.com/callcenter/dialer/internal/model"
)

var envelopeKeys = []string{"data", "contacts", "items", "results"}

// Gateway is the HTTP client for the campaign contact source. Every method
// degrades transport errors and non-2xx responses to an empty result.
type Gateway struct {
	BaseURL string
	AgentID string
	Cred    auth.Credential
	HTTP    *http.Client
	Log     *logging.Logger
}

func NewGateway(cfg model.SourceConfig, agentID string, cred auth.Credential, log *logging.Logger) *Gateway {
	return &Gateway{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		AgentID: agentID,
		Cred:    cred,
		HTTP:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		Log:     log.For("contact_source"),
	}
}

// FetchNext reserves and returns the next contact for this agent.
func (g *Gateway) FetchNext(ctx context.Context, campaignID string) (model.Contact, bool) {
	q := url.Values{"agent_id": {g.AgentID}}
	body, status, err := g.do(ctx, http.MethodGet, g.campaignPath(campaignID, "contacts/next")+"?"+q.Encode(), nil)
	if err != nil {
		g.degraded("fetch_next", campaignID, err)
		return model.Contact{}, false
	}
	if status == http.StatusNoContent || status == http.StatusNotFound {
		return model.Contact{}, false
	}
	if status/100 != 2 {
		g.degraded("fetch_next", campaignID, fmt.Errorf("status %d", status))
		return model.Contact{}, false
	}

	v, err := decode(body)
	if err != nil {
		g.degraded("fetch_next", campaignID, err)
		return model.Contact{}, false
	}
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return model.Contact{}, false
	}
	return Normalize(m), true
}

// ClaimBatch asks the source to reserve n contacts for this agent. It is
// advisory: failures are logged and the caller proceeds with FetchNext.
func (g *Gateway) ClaimBatch(ctx context.Context, campaignID string, n int) {
	if n <= 0 {
		return
	}
	payload, err := json.Marshal(map[string]any{"agent_id": g.AgentID, "count": n})
	if err != nil {
		g.degraded("claim_batch", campaignID, err)
		return
	}
	_, status, err := g.do(ctx, http.MethodPost, g.campaignPath(campaignID, "contacts/claim"), payload)
	if err != nil {
		g.degraded("claim_batch", campaignID, err)
		return
	}
	if status/100 != 2 {
		g.degraded("claim_batch", campaignID, fmt.Errorf("status %d", status))
	}
}

// FastList lists up to n pending contacts in one request.
func (g *Gateway) FastList(ctx context.Context, campaignID string, n int) []model.Contact {
	if n <= 0 {
		return nil
	}
	q := url.Values{"limit": {strconv.Itoa(n)}, "status": {"pending"}}
	body, status, err := g.do(ctx, http.MethodGet, g.campaignPath(campaignID, "contacts")+"?"+q.Encode(), nil)
	if err != nil {
		g.degraded("fast_list", campaignID, err)
		return nil
	}
	if status == http.StatusNoContent || status == http.StatusNotFound {
		return nil
	}
	if status/100 != 2 {
		g.degraded("fast_list", campaignID, fmt.Errorf("status %d", status))
		return nil
	}

	v, err := decode(body)
	if err != nil {
		g.degraded("fast_list", campaignID, err)
		return nil
	}
	items := listOf(v)
	if len(items) > n {
		items = items[:n]
	}
	return NormalizeAll(items)
}

func (g *Gateway) campaignPath(campaignID, suffix string) string {
	return fmt.Sprintf("%s/campaigns/%s/%s", g.BaseURL, url.PathEscape(campaignID), suffix)
}

func (g *Gateway) do(ctx context.Context, method, target string, payload []byte) ([]byte, int, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if err := auth.Apply(req, g.Cred); err != nil {
		return nil, 0, fmt.Errorf("credential: %w", err)
	}
	req.Header.Set("X-Agent-Id", g.AgentID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := g.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, res.StatusCode, nil
}

func (g *Gateway) degraded(op, campaignID string, err error) {
	metrics.SourceErrors.WithLabelValues(op).Inc()
	if g.Log != nil {
		g.Log.Warn("%s campaign=%s degraded to empty: %v", op, campaignID, err)
	}
}

// decode parses a JSON body keeping numbers exact. An empty body decodes to nil.
func decode(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return v, nil
}

// listOf accepts a bare array or an envelope object holding one.
func listOf(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		for _, k := range envelopeKeys {
			if arr, ok := t[k].([]any); ok {
				return arr
			}
		}
	}
	return nil
}
