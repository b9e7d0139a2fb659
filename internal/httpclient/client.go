// Package httpclient implements the synchronizer's data-access port
// against a remote loans server, mapping HTTP statuses back onto the
// domain sentinels.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sejoga/game-loans-backend/internal/loans"
)

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// FeedURL is the websocket address for one change channel, derived
// from the base URL (http -> ws, https -> wss).
func (c *Client) FeedURL(channel string) string {
	u := c.base
	if strings.HasPrefix(u, "https://") {
		u = "wss://" + strings.TrimPrefix(u, "https://")
	} else {
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?channel=" + channel
}

type openLoansResponse struct {
	FeedSeq uint64       `json:"feed_seq"`
	Loans   []loans.Loan `json:"loans"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) OpenLoans(ctx context.Context) ([]loans.Loan, uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/loans/open", nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, remoteError(resp)
	}

	var body openLoansResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, 0, err
	}
	return body.Loans, body.FeedSeq, nil
}

func (c *Client) CreateLoan(ctx context.Context, boardgameID, userID string, dueDate *time.Time) (loans.Loan, error) {
	payload, err := json.Marshal(struct {
		BoardgameID string     `json:"boardgame_id"`
		UserID      string     `json:"user_id"`
		DueDate     *time.Time `json:"due_date,omitempty"`
	}{BoardgameID: boardgameID, UserID: userID, DueDate: dueDate})
	if err != nil {
		return loans.Loan{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/loans", bytes.NewReader(payload))
	if err != nil {
		return loans.Loan{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return loans.Loan{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		return loans.Loan{}, loans.ErrAlreadyOnLoan
	default:
		return loans.Loan{}, remoteError(resp)
	}

	var l loans.Loan
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return loans.Loan{}, err
	}
	return l, nil
}

func (c *Client) CloseLoan(ctx context.Context, loanID string, returnedAt time.Time) (loans.Loan, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/loans/"+loanID+"/return", nil)
	if err != nil {
		return loans.Loan{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return loans.Loan{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return loans.Loan{}, loans.ErrLoanNotFound
	default:
		return loans.Loan{}, remoteError(resp)
	}

	var l loans.Loan
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return loans.Loan{}, err
	}
	return l, nil
}

func (c *Client) Profile(ctx context.Context, userID string) (loans.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/profiles/"+userID, nil)
	if err != nil {
		return loans.Profile{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return loans.Profile{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return loans.Profile{}, loans.ErrProfileNotFound
	default:
		return loans.Profile{}, remoteError(resp)
	}

	var p loans.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return loans.Profile{}, err
	}
	return p, nil
}

func remoteError(resp *http.Response) error {
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server: %s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("server: unexpected status %d", resp.StatusCode)
}
