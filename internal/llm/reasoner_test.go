package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replays canned responses in order and records prompts.
type scriptedClient struct {
	errs      []error
	responses []string
	prompts   []string
	mu        sync.Mutex
}

func (c *scriptedClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.prompts)
	c.prompts = append(c.prompts, req.Prompt)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func newTestReasoner(t *testing.T, client Client, labels ...string) *Reasoner {
	t.Helper()
	r, err := NewReasoner(client, Config{
		MaxRetries:        3,
		RetryDelay:        time.Millisecond,
		RequestsPerSecond: 1000,
	}, labels, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

func TestReasoner_PromptCarriesEvidence(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"outcomes":[{"record_id":"r1","outcome":"exempt","confidence":0.8,"citation":"Sec. 144.030"}]}`}}
	r := newTestReasoner(t, client, "taxable", "exempt")

	req := Request{
		Record: model.Record{ID: "r1", Vendor: "Acme Corp", ProductType: "saas", Amount: 1200, TaxAmount: 84},
		Route:  model.RouteRetrieveSimple,
		Hint:   &model.PatternEntry{Outcome: "exempt", SuccessRate: 0.6, SampleCount: 2},
		Context: []model.ScoredChunk{
			{Chunk: model.Chunk{Citation: "Sec. 144.030", Text: "Remotely accessed software is exempt."}, Score: 0.9},
		},
	}

	outcomes, err := r.Reason(context.Background(), []Request{req})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "exempt", outcomes[0].Outcome)

	prompt := client.prompts[0]
	for _, want := range []string{"RECORD r1", "Acme Corp", "$1200.00", "$84.00", "[Sec. 144.030]", "Remotely accessed software", "60% of 2 reviews", "taxable, exempt"} {
		assert.Contains(t, prompt, want)
	}
}

func TestReasoner_EmptyBatch(t *testing.T) {
	client := &scriptedClient{}
	outcomes, err := newTestReasoner(t, client).Reason(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, outcomes)
	assert.Zero(t, client.calls())
}

func TestReasoner_RetriesTransient(t *testing.T) {
	client := &scriptedClient{
		errs:      []error{fmt.Errorf("%w: flaky", common.ErrTransient), nil},
		responses: []string{"", `{"outcomes":[{"record_id":"r1","outcome":"taxable","confidence":0.9}]}`},
	}
	outcomes, err := newTestReasoner(t, client).Reason(context.Background(), requestsFor("r1"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 2, client.calls())
}

func TestReasoner_Failures(t *testing.T) {
	tests := []struct {
		client    *scriptedClient
		wantErr   error
		name      string
		labels    []string
		wantCalls int
	}{
		{
			name:      "malformed response is not retried",
			client:    &scriptedClient{responses: []string{"no json here", "no json here"}},
			wantErr:   common.ErrDataIntegrity,
			wantCalls: 1,
		},
		{
			name:      "unknown label is not retried",
			client:    &scriptedClient{responses: []string{`{"outcomes":[{"record_id":"r1","outcome":"maybe","confidence":0.5}]}`}},
			labels:    []string{"taxable", "exempt"},
			wantErr:   common.ErrDataIntegrity,
			wantCalls: 1,
		},
		{
			name: "transient failures exhaust retries",
			client: &scriptedClient{errs: []error{
				fmt.Errorf("%w: down", common.ErrTransient),
				fmt.Errorf("%w: down", common.ErrTransient),
				fmt.Errorf("%w: down", common.ErrTransient),
			}},
			wantErr:   common.ErrMaxRetries,
			wantCalls: 3,
		},
		{
			name:      "permanent client error stops immediately",
			client:    &scriptedClient{errs: []error{common.Permanent(fmt.Errorf("%w: bad key", common.ErrConfiguration))}},
			wantErr:   common.ErrConfiguration,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReasoner(t, tt.client, tt.labels...)
			_, err := r.Reason(context.Background(), requestsFor("r1"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, tt.client.calls())
		})
	}
}

func TestNewReasoner_RequiresClient(t *testing.T) {
	_, err := NewReasoner(nil, Config{}, nil, nil)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
