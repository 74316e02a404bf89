package gelato

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultRelayURL is the production relay endpoint.
const DefaultRelayURL = "https://relay.gelato.digital"

// TaskState is the relay's view of a submitted task.
type TaskState string

const (
	// CheckPending means the relay has accepted but not yet simulated the task.
	CheckPending TaskState = "CheckPending"
	// ExecPending means the task is queued for execution.
	ExecPending TaskState = "ExecPending"
	// ExecSuccess means the task executed on chain. Terminal.
	ExecSuccess TaskState = "ExecSuccess"
	// ExecReverted means the task executed and reverted. Terminal.
	ExecReverted TaskState = "ExecReverted"
	// Blacklisted means the relay refused the task. Terminal.
	Blacklisted TaskState = "Blacklisted"
	// Cancelled means the task was cancelled before execution. Terminal.
	Cancelled TaskState = "Cancelled"
	// NotFound means the relay has no record of the task. Terminal.
	NotFound TaskState = "NotFound"
)

// IsTerminal reports whether the relay will never change this state again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case ExecSuccess, ExecReverted, Blacklisted, Cancelled, NotFound:
		return true
	default:
		return false
	}
}

// RelayRequest is the POST /relays/{chainId} body. Field names are
// camelCase on the wire.
type RelayRequest struct {
	Dest       string `json:"dest"`
	Data       string `json:"data"`
	Token      string `json:"token"`
	RelayerFee string `json:"relayerFee"`
}

// RelayResponse is the relay's acknowledgement of a submitted transaction.
type RelayResponse struct {
	TaskID string `json:"taskId"`
}

// TaskStatus is one task's status record.
type TaskStatus struct {
	TaskState TaskState `json:"taskState"`
}

// statusResponse wraps the GET /tasks/{taskId}/status body.
type statusResponse struct {
	Task TaskStatus `json:"task"`
}

// estimateResponse wraps the GET /oracles/{chainId}/estimate body.
type estimateResponse struct {
	EstimatedFee string `json:"estimatedFee"`
}

// Client is the sponsored-relay HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a client against baseURL; empty means the production
// relay.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// SendRelayTransaction POSTs a transaction for sponsored execution and
// returns the relay task id.
func (c *Client) SendRelayTransaction(
	ctx context.Context,
	chainID uint64,
	dest, data, token, relayerFee string,
) (*RelayResponse, error) {
	body, err := json.Marshal(&RelayRequest{
		Dest:       dest,
		Data:       data,
		Token:      token,
		RelayerFee: relayerFee,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/relays/%d", c.baseURL, chainID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var response RelayResponse
	if err := c.do(req, &response); err != nil {
		return nil, fmt.Errorf("relay submission failed: %w", err)
	}
	c.logger.Sugar().Infow("Relay transaction submitted", "chainId", chainID, "taskId", response.TaskID)
	return &response, nil
}

// GetTaskStatus fetches the current state of a relay task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (TaskState, error) {
	endpoint := fmt.Sprintf("%s/tasks/%s/status", c.baseURL, url.PathEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	var response statusResponse
	if err := c.do(req, &response); err != nil {
		return "", fmt.Errorf("task status fetch failed: %w", err)
	}
	return response.Task.TaskState, nil
}

// GetEstimatedFee queries the fee oracle for the given gas limit.
func (c *Client) GetEstimatedFee(
	ctx context.Context,
	chainID uint64,
	paymentToken string,
	gasLimit uint64,
	isHighPriority bool,
) (string, error) {
	query := url.Values{}
	query.Set("paymentToken", paymentToken)
	query.Set("gasLimit", strconv.FormatUint(gasLimit, 10))
	query.Set("isHighPriority", strconv.FormatBool(isHighPriority))

	endpoint := fmt.Sprintf("%s/oracles/%d/estimate?%s", c.baseURL, chainID, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	var response estimateResponse
	if err := c.do(req, &response); err != nil {
		return "", fmt.Errorf("fee estimate fetch failed: %w", err)
	}
	return response.EstimatedFee, nil
}

// do executes the request and decodes a JSON response into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SingleChainGelatoClient binds the relay client to one chain and one
// payment token, estimating fees automatically per submission.
type SingleChainGelatoClient struct {
	Client       *Client
	ChainID      uint64
	PaymentToken string
}

// relayGasLimit is the gas limit quoted to the fee oracle per submission.
const relayGasLimit = 100_000

// NewSingleChainClient binds client to a chain and payment token.
func NewSingleChainClient(client *Client, chainID uint64, paymentToken string) *SingleChainGelatoClient {
	return &SingleChainGelatoClient{
		Client:       client,
		ChainID:      chainID,
		PaymentToken: paymentToken,
	}
}

// SendRelayTransaction estimates the fee and submits the transaction.
func (s *SingleChainGelatoClient) SendRelayTransaction(ctx context.Context, dest, data string) (*RelayResponse, error) {
	fee, err := s.Client.GetEstimatedFee(ctx, s.ChainID, s.PaymentToken, relayGasLimit, true)
	if err != nil {
		return nil, err
	}
	return s.Client.SendRelayTransaction(ctx, s.ChainID, dest, data, s.PaymentToken, fee)
}
