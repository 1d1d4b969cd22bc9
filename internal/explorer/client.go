package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roundkeeper/internal/model"
)

// Config configures a Client.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	RPS      float64
	MaxPages int
}

// Client reads contract logs from a Blockscout v2 explorer API.
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	maxPages int
	logger   *zap.Logger
	now      func() time.Time
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("explorer url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse explorer url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Client{
		baseURL:  base,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		maxPages: cfg.MaxPages,
		logger:   logger,
		now:      time.Now,
	}, nil
}

type logsPage struct {
	Items          []logItem              `json:"items"`
	NextPageParams map[string]interface{} `json:"next_page_params"`
}

type logItem struct {
	Address struct {
		Hash string `json:"hash"`
	} `json:"address"`
	BlockNumber     uint64    `json:"block_number"`
	BlockHash       string    `json:"block_hash"`
	Data            string    `json:"data"`
	Decoded         *decoded  `json:"decoded"`
	Index           uint64    `json:"index"`
	Topics          []*string `json:"topics"`
	TransactionHash string    `json:"transaction_hash"`
}

type decoded struct {
	MethodCall string      `json:"method_call"`
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Indexed bool        `json:"indexed"`
	Value   interface{} `json:"value"`
}

// FetchLogs returns the newest logs of address, newest block first, reading
// at most the configured number of pages.
func (c *Client) FetchLogs(ctx context.Context, address common.Address) ([]model.RawLogEntry, error) {
	var out []model.RawLogEntry
	next := url.Values{}
	for page := 0; page < c.maxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return out, err
		}

		result, err := c.fetchPage(ctx, address, next)
		if err != nil {
			if len(out) > 0 {
				c.logger.Warn("explorer page failed, keeping earlier pages", zap.Int("page", page), zap.Error(err))
				return out, nil
			}
			return nil, err
		}

		receivedAt := c.now()
		for _, item := range result.Items {
			out = append(out, item.rawEntry(receivedAt))
		}
		if len(result.NextPageParams) == 0 {
			break
		}
		next = url.Values{}
		for k, v := range result.NextPageParams {
			next.Set(k, fmt.Sprint(v))
		}
	}

	c.logger.Info("explorer logs fetched", zap.String("address", address.Hex()), zap.Int("logs", len(out)))
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, address common.Address, query url.Values) (logsPage, error) {
	endpoint := fmt.Sprintf("%s/api/v2/addresses/%s/logs", c.baseURL, address.Hex())
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return logsPage{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return logsPage{}, &model.ConnectionError{Source: string(model.OriginExplorer), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return logsPage{}, fmt.Errorf("explorer status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page logsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return logsPage{}, fmt.Errorf("decode explorer response: %w", err)
	}
	return page, nil
}

func (it logItem) rawEntry(receivedAt time.Time) model.RawLogEntry {
	topics := make([]string, 0, len(it.Topics))
	for _, topic := range it.Topics {
		if topic == nil || *topic == "" {
			continue
		}
		topics = append(topics, *topic)
	}

	var params map[string]interface{}
	if it.Decoded != nil && len(it.Decoded.Parameters) > 0 {
		params = make(map[string]interface{}, len(it.Decoded.Parameters))
		for _, p := range it.Decoded.Parameters {
			if p.Name == "" {
				continue
			}
			params[p.Name] = p.Value
		}
	}

	return model.RawLogEntry{
		BlockNumber: it.BlockNumber,
		BlockHash:   it.BlockHash,
		TxHash:      it.TransactionHash,
		LogIndex:    it.Index,
		Address:     it.Address.Hash,
		Topics:      topics,
		Data:        it.Data,
		Params:      params,
		Origin:      model.OriginExplorer,
		ReceivedAt:  receivedAt.UTC(),
	}
}
