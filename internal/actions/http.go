package actions

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Flowy/internal/domain"
)

const (
	// ActionHTTP: имя встроенного HTTP действия.
	ActionHTTP = "http"

	// DefaultHTTPResultKey: ключ контекста для ответа по умолчанию.
	DefaultHTTPResultKey = "http_response"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
	maxErrorBody       = 1024
)

// Ключи параметров HTTP действия.
const (
	paramMethod          = "method"
	paramURL             = "url"
	paramHeaders         = "headers"
	paramBody            = "body"
	paramFollowRedirects = "follow_redirects"
	paramValidateSSL     = "validate_ssl"
	paramTimeoutSec      = "timeout_sec"
	paramResultKey       = "result_key"
	paramFailOnStatus    = "fail_on_status"
)

// ErrHTTPStatus: сервер ответил кодом 4xx/5xx.
var ErrHTTPStatus = errors.New("unexpected http status")

// HTTPAction: HTTP запрос к внешнему сервису.
//
// Параметры:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/orders/{{ .order_id }}",
//	    "headers": {"Authorization": "Bearer {{ .token }}"},
//	    "body": {"status": "{{ .status }}"},
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "timeout_sec": 30,
//	    "result_key": "order_response",
//	    "fail_on_status": true
//	}
//
// Ответ записывается в контекст под result_key:
//
//	{"status_code": 200, "headers": {...}, "body": {...}}
//
// Код 4xx/5xx: сбой действия (*HTTPError), если fail_on_status не false.
// Сбой обрабатывается RetryPolicy шага.
type HTTPAction struct {
	client *http.Client
}

// NewHTTPAction создаёт HTTPAction.
func NewHTTPAction() *HTTPAction {
	return &HTTPAction{
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Name возвращает имя действия.
func (a *HTTPAction) Name() string {
	return ActionHTTP
}

// Execute выполняет HTTP запрос.
func (a *HTTPAction) Execute(ctx context.Context, wctx *domain.Context, params map[string]any) error {
	cfg, err := a.parseConfig(params)
	if err != nil {
		return err
	}

	client := a.buildClient(cfg)

	req, err := a.buildRequest(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrActionCancelled, ctx.Err())
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	result, raw, err := a.parseResponse(resp)
	if err != nil {
		return err
	}

	if err := wctx.Set(cfg.ResultKey, result); err != nil {
		return fmt.Errorf("store response: %w", err)
	}

	if cfg.FailOnStatus && resp.StatusCode >= http.StatusBadRequest {
		body := raw
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}
	return nil
}

// httpConfig: разобранные параметры HTTP действия.
type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	TimeoutSec      int
	ResultKey       string
	FailOnStatus    bool
}

func (a *HTTPAction) parseConfig(params map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:          GetString(params, paramMethod),
		URL:             GetString(params, paramURL),
		Headers:         make(map[string]string),
		Body:            params[paramBody],
		FollowRedirects: GetBool(params, paramFollowRedirects, true),
		ValidateSSL:     GetBool(params, paramValidateSSL, true),
		TimeoutSec:      GetInt(params, paramTimeoutSec),
		ResultKey:       GetString(params, paramResultKey),
		FailOnStatus:    GetBool(params, paramFailOnStatus, true),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, ActionHTTP)
	}

	// Метод по умолчанию: GET
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.ResultKey == "" {
		cfg.ResultKey = DefaultHTTPResultKey
	}

	// Копируем, чтобы не менять параметры вызывающего
	for k, v := range GetMapString(params, paramHeaders) {
		cfg.Headers[k] = v
	}

	return cfg, nil
}

func (a *HTTPAction) buildClient(cfg *httpConfig) *http.Client {
	if cfg.TimeoutSec <= 0 && cfg.FollowRedirects && cfg.ValidateSSL {
		return a.client
	}

	timeout := defaultHTTPTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.ValidateSSL},
		},
	}
}

func (a *HTTPAction) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, ok := cfg.Headers["Content-Type"]; !ok {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseResponse читает ответ и возвращает значение для контекста и сырое тело.
func (a *HTTPAction) parseResponse(resp *http.Response) (map[string]any, []byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}

	var body any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = string(raw)
		}
	} else {
		body = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, raw, nil
}

// HTTPError: ответ с кодом ошибки.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", ErrHTTPStatus, e.StatusCode, e.Status)
}

func (e *HTTPError) Unwrap() error {
	return ErrHTTPStatus
}
