package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config Stripe 配置。
type Config struct {
	SecretKey   string `yaml:"secret_key" json:"secret_key"`
	APIBase     string `yaml:"api_base" json:"api_base"`
	Currency    string `yaml:"currency" json:"currency"`
	ProductName string `yaml:"product_name" json:"product_name"`
	Timeout     string `yaml:"timeout" json:"timeout"`
}

// StripeClient 通过 REST 接口创建一次性付款链接：product -> price -> payment link。
type StripeClient struct {
	cfg    Config
	client *http.Client
}

// NewStripeClient 创建客户端，默认 20 秒超时。
func NewStripeClient(cfg Config, httpClient *http.Client) *StripeClient {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.stripe.com"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "Listing fee"
	}
	if httpClient == nil {
		timeout := 20 * time.Second
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &StripeClient{cfg: cfg, client: httpClient}
}

// CreateFeeLink 以整数金额（主币种单位）创建付款链接，imageURL 作为商品图片。
func (c *StripeClient) CreateFeeLink(ctx context.Context, amount int64, imageURL string) (string, error) {
	if strings.TrimSpace(c.cfg.SecretKey) == "" {
		return "", fmt.Errorf("stripe secret key missing")
	}
	if amount <= 0 {
		return "", fmt.Errorf("invalid fee amount %d", amount)
	}

	product := url.Values{"name": {c.cfg.ProductName}}
	if imageURL != "" {
		product.Set("images[0]", imageURL)
	}
	var prod stripeObject
	if err := c.post(ctx, "/v1/products", product, &prod); err != nil {
		return "", fmt.Errorf("create product: %w", err)
	}

	price := url.Values{
		"product":     {prod.ID},
		"currency":    {c.cfg.Currency},
		"unit_amount": {strconv.FormatInt(amount*100, 10)},
	}
	var pr stripeObject
	if err := c.post(ctx, "/v1/prices", price, &pr); err != nil {
		return "", fmt.Errorf("create price: %w", err)
	}

	link := url.Values{
		"line_items[0][price]":    {pr.ID},
		"line_items[0][quantity]": {"1"},
	}
	var pl stripeObject
	if err := c.post(ctx, "/v1/payment_links", link, &pl); err != nil {
		return "", fmt.Errorf("create payment link: %w", err)
	}
	if pl.URL == "" {
		return "", fmt.Errorf("create payment link: empty url")
	}
	return pl.URL, nil
}

func (c *StripeClient) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(c.cfg.SecretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var se stripeError
		if json.Unmarshal(body, &se) == nil && se.Error.Message != "" {
			return fmt.Errorf("stripe http %d: %s", resp.StatusCode, se.Error.Message)
		}
		return fmt.Errorf("stripe http %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}

type stripeObject struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
