package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServer(t *testing.T) {
	srv, err := New("127.0.0.1:0")
	require.NoError(t, err)

	RecordDecision("granted", "consented")
	RecordWalletProvisioned()
	RecordTokenDeployment("confirmed")
	RecordTxSubmission("transfer", nil)
	RecordTxSubmission("transfer", errors.New("nonce too low"))
	RecordRevocation()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pod_consent_gateway_authorize_decisions_total{outcome="granted",reason="consented"}`)
	assert.Contains(t, string(body), `pod_consent_gateway_tx_submissions_total{kind="transfer",result="error"}`)
	assert.Contains(t, string(body), "pod_consent_gateway_wallets_provisioned_total")
	assert.Contains(t, string(body), "go_goroutines")
}
