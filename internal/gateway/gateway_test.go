package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/GlebRadaev/vpnshop/internal/config"
	"github.com/GlebRadaev/vpnshop/pkg/clients"
)

func NewMock(t *testing.T) (*Client, *clients.MockHTTPClientI) {
	cfg := &config.Config{GatewayAddress: "http://gateway.local/api", GatewayAPIKey: "secret"}
	ctrl := gomock.NewController(t)

	client := clients.NewMockHTTPClientI(ctrl)
	return New(cfg, client), client
}

func TestClient_CreateDeposit(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		body        string
		callErr     error
		expected    *Deposit
		expectedErr string
	}{
		{
			name:       "Successful create",
			statusCode: http.StatusOK,
			body:       `{"status":true,"data":{"kode_deposit":"DEP1","saldo_diterima":"5123","link_qr":"http://qr/1.png","qr_string":"000201","panduan_pembayaran":"scan"}}`,
			expected: &Deposit{
				Code: "DEP1", Amount: 5123, QRLink: "http://qr/1.png", QRString: "000201", Guide: "scan",
			},
		},
		{
			name:       "Missing received amount falls back to requested",
			statusCode: http.StatusOK,
			body:       `{"status":true,"data":{"kode_deposit":"DEP2"}}`,
			expected:   &Deposit{Code: "DEP2", Amount: 5000},
		},
		{
			name:        "Gateway rejects",
			statusCode:  http.StatusOK,
			body:        `{"status":false,"msg":"saldo server kosong"}`,
			expectedErr: "saldo server kosong",
		},
		{
			name:        "Unexpected status code",
			statusCode:  http.StatusBadGateway,
			expectedErr: "unexpected status code 502",
		},
		{
			name:        "Transport error",
			callErr:     errors.New("dial tcp: refused"),
			expectedErr: "dial tcp: refused",
		},
		{
			name:        "Malformed body",
			statusCode:  http.StatusOK,
			body:        `{"status":`,
			expectedErr: "failed to parse response body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, client := NewMock(t)
			client.EXPECT().PostForm(gomock.Any(), "http://gateway.local/api", gomock.Any()).
				DoAndReturn(func(_ context.Context, _ string, form url.Values) (int, []byte, error) {
					assert.Equal(t, "get-deposit", form.Get("action"))
					assert.Equal(t, "5000", form.Get("jumlah"))
					assert.Equal(t, "secret", form.Get("api_key"))
					assert.Equal(t, "ref-1", form.Get("ref_id"))
					return tt.statusCode, []byte(tt.body), tt.callErr
				})

			dep, err := gw.CreateDeposit(context.Background(), 5000, "ref-1")
			if tt.expectedErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrGateway)
				assert.Contains(t, err.Error(), tt.expectedErr)
				assert.Nil(t, dep)
				return
			}
			require.NoError(t, err)
			tt.expected.Raw = tt.body
			assert.Equal(t, tt.expected, dep)
		})
	}
}

func TestClient_Status(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expected    Status
		amount      int64
		expectedErr bool
	}{
		{name: "Success", body: `{"status":true,"data":{"status":"Success","saldo_diterima":5123}}`, expected: StatusSuccess, amount: 5123},
		{name: "Pending", body: `{"status":true,"data":{"status":"Pending"}}`, expected: StatusPending},
		{name: "Empty status is pending", body: `{"status":true,"data":{}}`, expected: StatusPending},
		{name: "Expired", body: `{"status":true,"data":{"status":"Expired"}}`, expected: StatusExpired},
		{name: "Rejected", body: `{"status":false}`, expectedErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, client := NewMock(t)
			client.EXPECT().PostForm(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ string, form url.Values) (int, []byte, error) {
					assert.Equal(t, "status-deposit", form.Get("action"))
					assert.Equal(t, "DEP1", form.Get("kode_deposit"))
					return http.StatusOK, []byte(tt.body), nil
				})

			st, err := gw.Status(context.Background(), "DEP1")
			if tt.expectedErr {
				assert.ErrorIs(t, err, ErrGateway)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, st.Status)
			assert.Equal(t, tt.amount, st.Amount)
		})
	}
}

func TestClient_FetchQR(t *testing.T) {
	gw, client := NewMock(t)
	client.EXPECT().Get(gomock.Any(), "http://qr/1.png", gomock.Nil()).Return(http.StatusOK, []byte("PNG"), nil)
	client.EXPECT().Get(gomock.Any(), "http://qr/missing.png", gomock.Nil()).Return(http.StatusNotFound, nil, nil)

	img, err := gw.FetchQR(context.Background(), "http://qr/1.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("PNG"), img)

	_, err = gw.FetchQR(context.Background(), "http://qr/missing.png")
	assert.ErrorIs(t, err, ErrGateway)
}
