package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
)

const (
	solapiSendPath   = "/messages/v4/send-many/detail"
	solapiGroupsPath = "/messages/v4/groups/"
	solapiListPath   = "/messages/v4/list"

	solapiGroupComplete = "COMPLETE"
	// Code used for recipients of a fragment whose request never reached the provider.
	rejectedSubmitFailed = "SUBMIT_FAILED"
)

type SolapiProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	sender     string
	now        func() time.Time
}

func NewSolapiProvider(logger *slog.Logger, baseURL, apiKey, apiSecret, sender string, httpClient *http.Client) *SolapiProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SolapiProvider{
		logger:     logger.With("provider", "solapi"),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		sender:     sender,
		now:        time.Now,
	}
}

type SolapiMessage struct {
	To           string            `json:"to"`
	From         string            `json:"from"`
	Text         string            `json:"text"`
	Type         string            `json:"type"`
	ImageID      string            `json:"imageId,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

type SolapiSendRequestBody struct {
	Messages        []SolapiMessage `json:"messages"`
	AllowDuplicates bool            `json:"allowDuplicates"`
}

type SolapiCount struct {
	Total             int `json:"total"`
	SentTotal         int `json:"sentTotal"`
	SentSuccess       int `json:"sentSuccess"`
	SentFailed        int `json:"sentFailed"`
	SentPending       int `json:"sentPending"`
	RegisteredSuccess int `json:"registeredSuccess"`
	RegisteredFailed  int `json:"registeredFailed"`
}

type SolapiGroupInfo struct {
	GroupID string      `json:"groupId"`
	Status  string      `json:"status"`
	Count   SolapiCount `json:"count"`
}

type SolapiFailedMessage struct {
	To            string `json:"to"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

type SolapiSendResponse struct {
	GroupInfo         SolapiGroupInfo       `json:"groupInfo"`
	FailedMessageList []SolapiFailedMessage `json:"failedMessageList"`
}

type SolapiListResponse struct {
	MessageList map[string]struct {
		GroupID string `json:"groupId"`
	} `json:"messageList"`
}

type SolapiErrorResponse struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Send submits the batch, one request per resolved message class.
func (p *SolapiProvider) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	timer := prometheus.NewTimer(ProviderRequestDurationHist.WithLabelValues(p.GetName(), "send"))
	defer timer.ObserveDuration()

	result := &SendResult{}
	fragments := splitByKind(req)

	for fi, frag := range fragments {
		body := SolapiSendRequestBody{Messages: make([]SolapiMessage, 0, len(frag.messages))}
		for _, m := range frag.messages {
			msg := SolapiMessage{
				To:           m.To,
				From:         p.sender,
				Text:         m.Text,
				Type:         string(frag.kind),
				CustomFields: map[string]string{"dispatchKey": req.DispatchKey},
			}
			if frag.kind.HasMedia() {
				msg.ImageID = req.ImageID
			}
			body.Messages = append(body.Messages, msg)
		}

		var resp SolapiSendResponse
		err := p.doJSON(ctx, http.MethodPost, solapiSendPath, body, &resp)
		if err == nil && resp.GroupInfo.GroupID == "" {
			err = fmt.Errorf("solapi response carried no groupId: %w", domain.ErrNoGroupIDs)
		}
		if err != nil {
			p.logger.WarnContext(ctx, "Solapi fragment submission failed",
				"dispatch_key", req.DispatchKey, "fragment", fi, "error", err)
			if len(result.GroupIDs) == 0 {
				return nil, err
			}
			for _, rest := range fragments[fi:] {
				for _, m := range rest.messages {
					result.Rejected = append(result.Rejected, domain.RejectedRecipient{
						Phone: m.To, Code: rejectedSubmitFailed, Reason: err.Error(),
					})
				}
			}
			return result, err
		}

		result.GroupIDs = append(result.GroupIDs, resp.GroupInfo.GroupID)
		for _, f := range resp.FailedMessageList {
			result.Rejected = append(result.Rejected, domain.RejectedRecipient{
				Phone: f.To, Code: f.StatusCode, Reason: f.StatusMessage,
			})
		}
		result.AcceptedCount += len(frag.messages) - len(resp.FailedMessageList)
	}

	if len(result.Rejected) > 0 {
		ProviderRejectedRecipientsCounter.WithLabelValues(p.GetName()).Add(float64(len(result.Rejected)))
	}
	p.logger.InfoContext(ctx, "Solapi batch submitted",
		"dispatch_key", req.DispatchKey, "group_ids", result.GroupIDs,
		"accepted", result.AcceptedCount, "rejected", len(result.Rejected))
	return result, nil
}

func (p *SolapiProvider) QueryStatus(ctx context.Context, groupID string) (*domain.GroupStatus, error) {
	timer := prometheus.NewTimer(ProviderRequestDurationHist.WithLabelValues(p.GetName(), "query_status"))
	defer timer.ObserveDuration()

	var info SolapiGroupInfo
	if err := p.doJSON(ctx, http.MethodGet, solapiGroupsPath+url.PathEscape(groupID), nil, &info); err != nil {
		return nil, err
	}
	return &domain.GroupStatus{
		GroupID: groupID,
		Success: info.Count.SentSuccess,
		Fail:    info.Count.SentFailed + info.Count.RegisteredFailed,
		Pending: info.Count.SentPending,
		Final:   info.Status == solapiGroupComplete,
	}, nil
}

func (p *SolapiProvider) FindGroups(ctx context.Context, dispatchKey string) ([]string, error) {
	timer := prometheus.NewTimer(ProviderRequestDurationHist.WithLabelValues(p.GetName(), "find_groups"))
	defer timer.ObserveDuration()

	q := url.Values{}
	q.Set("criteria", "customFields.dispatchKey")
	q.Set("value", dispatchKey)
	q.Set("cond", "eq")
	q.Set("limit", "500")

	var list SolapiListResponse
	if err := p.doJSON(ctx, http.MethodGet, solapiListPath+"?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	groups := []string{}
	for _, m := range list.MessageList {
		if m.GroupID == "" {
			continue
		}
		if _, ok := seen[m.GroupID]; ok {
			continue
		}
		seen[m.GroupID] = struct{}{}
		groups = append(groups, m.GroupID)
	}
	sort.Strings(groups)
	return groups, nil
}

func (p *SolapiProvider) GetName() string {
	return "solapi"
}

// authorization builds the HMAC-SHA256 header: the signature is the hex HMAC
// of date+salt keyed by the API secret.
func (p *SolapiProvider) authorization() string {
	date := p.now().UTC().Format(time.RFC3339)
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")
	mac := hmac.New(sha256.New, []byte(p.apiSecret))
	mac.Write([]byte(date + salt))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("HMAC-SHA256 apiKey=%s, date=%s, salt=%s, signature=%s", p.apiKey, date, salt, signature)
}

func (p *SolapiProvider) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request for Solapi: %w", err)
		}
		reader = bytes.NewReader(reqBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request for Solapi: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", p.authorization())

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to Solapi: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read Solapi response (status %d): %w", httpResp.StatusCode, err)
	}
	p.logger.DebugContext(ctx, "Received HTTP response from Solapi", "path", path, "status_code", httpResp.StatusCode)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		errMsg := fmt.Sprintf("Solapi API error: status %d", httpResp.StatusCode)
		var apiErr SolapiErrorResponse
		if json.Unmarshal(respBytes, &apiErr) == nil && apiErr.ErrorMessage != "" {
			errMsg = fmt.Sprintf("Solapi API error: status %d, %s: %s", httpResp.StatusCode, apiErr.ErrorCode, apiErr.ErrorMessage)
		}
		return fmt.Errorf("%s", errMsg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("failed to decode Solapi response: %w", err)
	}
	return nil
}
