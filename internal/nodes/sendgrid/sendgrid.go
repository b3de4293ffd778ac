package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jeremy-jemverse/flownodes/internal/schema"
)

// DefaultBaseURL is the SendGrid v3 API endpoint.
const DefaultBaseURL = "https://api.sendgrid.com"

// ErrorClass tags mail delivery failures for retry classification.
const ErrorClass = "SENDGRID_ERROR"

// Error is a failed mail send, either transport-level or an API rejection.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sendgrid: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sendgrid: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Class implements the error classification used by retry policies.
func (e *Error) Class() string { return ErrorClass }

// Params configures one mail send. Body emails use Text/HTML; template
// emails use TemplateID with optional dynamic data.
type Params struct {
	APIKey              string         `json:"apiKey"`
	To                  Recipients     `json:"to"`
	From                string         `json:"from"`
	Subject             string         `json:"subject"`
	Type                string         `json:"type,omitempty"`
	Text                string         `json:"text,omitempty"`
	HTML                string         `json:"html,omitempty"`
	TemplateID          string         `json:"templateId,omitempty"`
	DynamicTemplateData map[string]any `json:"dynamicTemplateData,omitempty"`
}

// Recipients accepts either a single address or a list.
type Recipients []string

// UnmarshalJSON implements json.Unmarshaler.
func (r *Recipients) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = Recipients{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("recipients must be a string or a list of strings")
	}
	*r = Recipients(many)
	return nil
}

// Validate checks the parameter combination before sending.
func (p *Params) Validate() error {
	if p.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if len(p.To) == 0 {
		return fmt.Errorf("recipient (to) is required")
	}
	if p.From == "" {
		return fmt.Errorf("sender (from) is required")
	}
	if p.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if p.Text == "" && p.HTML == "" && p.TemplateID == "" {
		return fmt.Errorf("either text, html content, or template id is required")
	}
	return nil
}

// nodeConfig is the nested shape schema nodes carry: the mail fields live
// under data.config alongside the connection holding the API key.
type nodeConfig struct {
	Data struct {
		Config struct {
			Connection struct {
				APIKey string `json:"apiKey"`
			} `json:"connection"`
			Email struct {
				To      Recipients `json:"to"`
				From    string     `json:"from"`
				Subject string     `json:"subject"`
				Type    string     `json:"type"`
				Body    struct {
					Text string `json:"text"`
					HTML string `json:"html"`
				} `json:"body"`
				TemplateID          string         `json:"templateId"`
				DynamicTemplateData map[string]any `json:"dynamicTemplateData"`
			} `json:"email"`
		} `json:"config"`
	} `json:"data"`
}

// decodeParams accepts both the flat Params shape and the nested node config
// shape, preferring flat when it carries an API key.
func decodeParams(raw json.RawMessage) (Params, error) {
	var params Params
	if err := json.Unmarshal(raw, &params); err == nil && params.APIKey != "" {
		return params, nil
	}

	var cfg nodeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Params{}, fmt.Errorf("decode sendgrid params: %w", err)
	}
	email := cfg.Data.Config.Email
	return Params{
		APIKey:              cfg.Data.Config.Connection.APIKey,
		To:                  email.To,
		From:                email.From,
		Subject:             email.Subject,
		Type:                email.Type,
		Text:                email.Body.Text,
		HTML:                email.Body.HTML,
		TemplateID:          email.TemplateID,
		DynamicTemplateData: email.DynamicTemplateData,
	}, nil
}

// Response reports the API outcome for a successful send.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	MessageID  string `json:"messageId,omitempty"`
}

// Executor sends mail through the SendGrid v3 API.
type Executor struct {
	baseURL string
	client  *http.Client
}

// Option configures an Executor.
type Option func(*Executor)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(baseURL string) Option {
	return func(e *Executor) { e.baseURL = baseURL }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// New constructs a sendgrid Executor.
func New(opts ...Option) *Executor {
	e := &Executor{baseURL: DefaultBaseURL, client: http.DefaultClient}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements schema.Executor.
func (e *Executor) Execute(ctx context.Context, data json.RawMessage) (schema.Result, error) {
	params, err := decodeParams(data)
	if err != nil {
		return schema.Result{}, err
	}

	resp, err := e.Send(ctx, params)
	if err != nil {
		return schema.Result{}, err
	}
	return schema.Result{Success: true, Data: resp}, nil
}

// Send validates params and posts the mail request.
func (e *Executor) Send(ctx context.Context, params Params) (*Response, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(buildMail(params))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+params.APIKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, &Error{
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("%s", apiErrorMessage(httpResp.Body)),
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Message:    "Email sent successfully",
		MessageID:  httpResp.Header.Get("X-Message-Id"),
	}, nil
}

// mail is the v3 mail/send request body.
type mail struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content,omitempty"`
	TemplateID       string            `json:"template_id,omitempty"`
}

type personalization struct {
	To                  []address      `json:"to"`
	DynamicTemplateData map[string]any `json:"dynamic_template_data,omitempty"`
}

type address struct {
	Email string `json:"email"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func buildMail(params Params) mail {
	to := make([]address, len(params.To))
	for i, recipient := range params.To {
		to[i] = address{Email: recipient}
	}

	m := mail{
		Personalizations: []personalization{{
			To:                  to,
			DynamicTemplateData: params.DynamicTemplateData,
		}},
		From:       address{Email: params.From},
		Subject:    params.Subject,
		TemplateID: params.TemplateID,
	}

	if params.TemplateID == "" {
		m.Content = append(m.Content, content{Type: "text/plain", Value: params.Text})
		if params.HTML != "" {
			m.Content = append(m.Content, content{Type: "text/html", Value: params.HTML})
		}
	}
	return m
}

// apiErrorMessage extracts the first error message from a SendGrid error
// body, falling back to the raw text.
func apiErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "mail send rejected"
	}

	var decoded struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil && len(decoded.Errors) > 0 && decoded.Errors[0].Message != "" {
		return decoded.Errors[0].Message
	}
	return string(raw)
}
