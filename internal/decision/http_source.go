package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arena/internal/logger"
)

// HTTPSource 把决策请求 POST 给外部 agent 端点，应答按原始文本走解析流水线。
type HTTPSource struct {
	name     string
	endpoint string
	client   *http.Client
}

func NewHTTPSource(name, endpoint string, timeout time.Duration) (*HTTPSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("decision endpoint cannot be empty")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPSource{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Decide(ctx context.Context, req Request) (TradingDecision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return TradingDecision{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return TradingDecision{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	logger.LogDecisionRequest(req.AgentID, req.RunID, req.Context)
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return TradingDecision{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TradingDecision{}, err
	}
	if resp.StatusCode >= 300 {
		return TradingDecision{}, fmt.Errorf("agent %s returned status %d", s.name, resp.StatusCode)
	}
	logger.LogDecisionResponse(req.AgentID, req.RunID, string(raw))
	return Parse(string(raw))
}

// HoldSource 恒定观望，作为基线参赛者与故障兜底。
type HoldSource struct{}

func (HoldSource) Name() string { return "hold" }

func (HoldSource) Decide(_ context.Context, _ Request) (TradingDecision, error) {
	return TradingDecision{Summary: "hold", Actions: nil}, nil
}

// JSONRenderer 把请求序列化为 JSON 文本，作为最朴素的上下文渲染器。
type JSONRenderer struct{}

func (JSONRenderer) Render(req Request) (string, error) {
	req.Context = ""
	raw, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
