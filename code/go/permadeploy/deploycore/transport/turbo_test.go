package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type echoSigner struct{}

func (echoSigner) SignDataItem(_ context.Context, data []byte, tags []Tag) (*SignedDataItem, error) {
	return &SignedDataItem{ID: "item", Owner: "owner", Bytes: append([]byte("signed:"), data...)}, nil
}

type recordingFunder struct {
	cost  decimal.Decimal
	calls int
}

func (f *recordingFunder) TopUp(_ context.Context, cost decimal.Decimal, _ *OnDemandFunding) error {
	f.calls++
	f.cost = cost
	return nil
}

func newRequest(data string) *Request {
	return &Request{
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewBufferString(data)), nil },
		Size: int64(len(data)),
		Tags: []Tag{{Name: "Content-Type", Value: "text/plain"}},
	}
}

func TestTurboUpload(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tx/ario", r.URL.Path)
		require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		received, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"id":"tx-1","owner":"owner","dataCaches":["arweave.net"],
			"fastFinalityIndexes":["arweave.net"],"winc":"1234","timestamp":1700000000}`))
	}))
	defer server.Close()

	c := NewTurboClient(TurboOptions{UploadURL: server.URL, Token: "ario", Signer: echoSigner{}})

	var last int64
	res, err := c.Upload(context.Background(), newRequest("hello"), func(processed, total int64) {
		last = processed
		require.EqualValues(t, len("signed:hello"), total)
	})
	require.NoError(t, err)
	require.Equal(t, "signed:hello", string(received))
	require.EqualValues(t, len("signed:hello"), last)

	require.Equal(t, "tx-1", res.ID)
	require.Equal(t, []string{"arweave.net"}, res.DataCaches)
	require.True(t, res.Price().Equal(decimal.NewFromInt(1234)))
	require.EqualValues(t, 1700000000, res.Timestamp)
	require.True(t, json.Valid(res.RawReceipt))
}

func TestTurboUploadErrors(t *testing.T) {
	var status atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("nope"))
	}))
	defer server.Close()
	c := NewTurboClient(TurboOptions{UploadURL: server.URL, Token: "arweave", Signer: echoSigner{}})

	status.Store(http.StatusPaymentRequired)
	_, err := c.Upload(context.Background(), newRequest("x"), nil)
	require.True(t, errors.Is(err, errors.ErrInsufficientBalance))

	status.Store(http.StatusInternalServerError)
	_, err = c.Upload(context.Background(), newRequest("x"), nil)
	require.True(t, errors.Is(err, errors.ErrNetworkError))
}

func hangingServer(started chan struct{}) *httptest.Server {
	var once atomic.Bool
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-r.Context().Done()
	}))
}

func TestTurboUploadCancelAbortsTransfer(t *testing.T) {
	started := make(chan struct{})
	server := hangingServer(started)
	defer server.Close()
	c := NewTurboClient(TurboOptions{UploadURL: server.URL, Token: "arweave", Signer: echoSigner{}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Upload(ctx, newRequest("x"), nil)
	require.True(t, errors.Is(err, errors.ErrCancelled))
}

func TestTurboUploadTimeout(t *testing.T) {
	server := hangingServer(make(chan struct{}))
	defer server.Close()
	c := NewTurboClient(TurboOptions{UploadURL: server.URL, Token: "arweave", Signer: echoSigner{}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Upload(ctx, newRequest("x"), nil)
	require.True(t, errors.Is(err, errors.ErrTimeout))
}

func TestTurboOnDemandFunding(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/price/bytes/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"winc":"1000"}`))
	})
	mux.HandleFunc("/v1/account/balance/base-eth", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "0xabc", r.URL.Query().Get("address"))
		_, _ = w.Write([]byte(`{"winc":"400"}`))
	})
	mux.HandleFunc("/v1/tx/base-eth", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"tx-2","owner":"0xabc","winc":"1000"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	funder := &recordingFunder{}
	c := NewTurboClient(TurboOptions{
		UploadURL: server.URL, PaymentURL: server.URL, Token: "base-eth", Address: "0xabc",
		Signer: echoSigner{}, Funder: funder,
	})

	req := newRequest("hello")
	_, err := c.Upload(context.Background(), req, nil)
	require.NoError(t, err)
	require.Zero(t, funder.calls, "no funding mode requested")

	req.Funding = &OnDemandFunding{TopUpBufferMultiplier: 1}
	res, err := c.Upload(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, "tx-2", res.ID)
	require.Equal(t, 1, funder.calls)
	require.True(t, funder.cost.Equal(decimal.NewFromInt(1000)))
}

func TestTurboBalanceAndFund(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"0.2.0","addresses":{"solana":"sol-deposit","arweave":"ar-deposit"}}`))
	})
	mux.HandleFunc("/v1/account/balance/solana", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["tx_id"] {
		case "ok":
			_, _ = w.Write([]byte(`{"creditedTransaction":{"transactionId":"ok","winstonCreditAmount":"77"}}`))
		case "wait":
			_, _ = w.Write([]byte(`{"pendingTransaction":{"transactionId":"wait"}}`))
		default:
			_, _ = w.Write([]byte(`{"failedTransaction":{"transactionId":"bad"}}`))
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewTurboClient(TurboOptions{PaymentURL: server.URL, Token: "solana", Address: "sol"})

	addr, err := c.GetPaymentAddress(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sol-deposit", addr)

	_, err = NewTurboClient(TurboOptions{PaymentURL: server.URL, Token: "pol"}).GetPaymentAddress(context.Background())
	require.True(t, errors.Is(err, errors.ErrNetworkError))

	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	res, err := c.SubmitFundTransaction(context.Background(), "ok")
	require.NoError(t, err)
	require.Equal(t, FundStatusConfirmed, res.Status)
	require.True(t, res.Winc.Equal(decimal.NewFromInt(77)))

	res, err = c.SubmitFundTransaction(context.Background(), "wait")
	require.NoError(t, err)
	require.Equal(t, FundStatusPending, res.Status)

	res, err = c.SubmitFundTransaction(context.Background(), "bad")
	require.NoError(t, err)
	require.Equal(t, FundStatusFailed, res.Status)
}
