package nfse_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-gateway/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-gateway/internal/testutil"
)

type fakeCerts struct {
	cert tls.Certificate
	err  error
}

func (f *fakeCerts) LoadSigningCertificate(_ context.Context, _ string) (tls.Certificate, error) {
	return f.cert, f.err
}

type fakeCities struct {
	byID  map[string]*entity.CityConfiguration
	calls int
}

func (f *fakeCities) FindByID(_ context.Context, id string) (*entity.CityConfiguration, error) {
	f.calls++
	return f.byID[id], nil
}

func (f *fakeCities) FindByIBGECode(_ context.Context, _ string) (*entity.CityConfiguration, error) {
	return nil, nil
}

func (f *fakeCities) ListActive(_ context.Context) ([]*entity.CityConfiguration, error) {
	return nil, nil
}

const authorizedV1 = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
	`<GerarNfseResposta>` + compNfseV1 + `</GerarNfseResposta></soap:Body></soap:Envelope>`

func newClient(t *testing.T, url string, certs nfse.CertificateProvider, timeout time.Duration) *nfse.Client {
	t.Helper()
	city := testutil.NewCity(entity.SchemaVersionABRASF100, url)
	return nfse.NewClient(city, entity.EnvironmentHomologation, certs,
		signer.NewDigitalSignatureService(signer.AlgorithmSHA1), nfse.NewSOAPClient(timeout))
}

func TestClient_TransmitFirmaYClasifica(t *testing.T) {
	var gotAction string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(authorizedV1))
	}))
	defer srv.Close()

	tc := testutil.NewValidTestCert(t, 7)
	c := newClient(t, srv.URL, &fakeCerts{cert: tc.TLS()}, time.Second)

	env, err := c.Transmit(context.Background(), testutil.NewDraftNfse("n1", "10"))
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeAuthorized, env.Outcome)
	assert.Equal(t, "12345", env.NfseNumber)
	assert.Equal(t, "ABC123", env.VerificationCode)
	assert.Contains(t, env.OutboundXML, "<ValorServicos>1000.00</ValorServicos>")
	assert.Equal(t, `"http://nfse.abrasf.org.br/RecepcionarLoteRps"`, gotAction)

	// El cuerpo SOAP lleva el XML ABRASF firmado dentro de nfseDadosMsg.
	outer := etree.NewDocument()
	require.NoError(t, outer.ReadFromBytes(gotBody))
	dados := outer.FindElement("//nfseDadosMsg")
	require.NotNil(t, dados)
	inner := etree.NewDocument()
	require.NoError(t, inner.ReadFromString(dados.Text()))
	assert.Len(t, inner.FindElements("//Signature"), 2, "InfRps y LoteRps firmados")
}

func TestClient_Fallas(t *testing.T) {
	tc := testutil.NewValidTestCert(t, 7)
	certs := &fakeCerts{cert: tc.TLS()}

	t.Run("fault 500 es transitorio", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><soap:Fault><faultstring>x</faultstring></soap:Fault></soap:Body></soap:Envelope>`))
		}))
		defer srv.Close()
		env, err := newClient(t, srv.URL, certs, time.Second).Transmit(context.Background(), testutil.NewDraftNfse("n1", "10"))
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
		require.NotNil(t, env)
		assert.Equal(t, entity.OutcomeTransientFailure, env.Outcome)
	})

	t.Run("timeout es transitorio", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)
		_, err := newClient(t, srv.URL, certs, 50*time.Millisecond).Transmit(context.Background(), testutil.NewDraftNfse("n1", "10"))
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("lote pendiente es transitorio", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<EnviarLoteRpsResposta><Protocolo>P1</Protocolo></EnviarLoteRpsResposta>`))
		}))
		defer srv.Close()
		env, err := newClient(t, srv.URL, certs, time.Second).Transmit(context.Background(), testutil.NewDraftNfse("n1", "10"))
		assert.True(t, domain.IsRetryable(err))
		require.NotNil(t, env)
		assert.True(t, env.Pending)
	})

	t.Run("404 no es reintentable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()
		_, err := newClient(t, srv.URL, certs, time.Second).Transmit(context.Background(), testutil.NewDraftNfse("n1", "10"))
		require.Error(t, err)
		assert.False(t, domain.IsRetryable(err))
	})

	t.Run("rechazo no es error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<EnviarLoteRpsResposta><ListaMensagemRetorno><MensagemRetorno><Codigo>E160</Codigo><Mensagem>CNPJ</Mensagem></MensagemRetorno></ListaMensagemRetorno></EnviarLoteRpsResposta>`))
		}))
		defer srv.Close()
		env, err := newClient(t, srv.URL, certs, time.Second).Transmit(context.Background(), testutil.NewDraftNfse("n1", "10"))
		require.NoError(t, err)
		assert.Equal(t, entity.OutcomeRejected, env.Outcome)
	})
}

func TestClient_SinCertificadoNoLlamaAlWS(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, &fakeCerts{err: domain.ErrNoActiveCertificate}, time.Second)
	_, err := c.Transmit(context.Background(), testutil.NewDraftNfse("n1", "10"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoActiveCertificate))
	assert.False(t, domain.IsRetryable(err))
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestRegistry_ClientePorMunicipio(t *testing.T) {
	active := testutil.NewCity(entity.SchemaVersionABRASF204, "http://localhost")
	inactive := testutil.NewCity(entity.SchemaVersionABRASF100, "http://localhost")
	inactive.ID = "off"
	inactive.IsActive = false
	cities := &fakeCities{byID: map[string]*entity.CityConfiguration{active.ID: active, inactive.ID: inactive}}
	r := nfse.NewRegistry(cities, &fakeCerts{}, nfse.NewSOAPClient(0), entity.EnvironmentHomologation)

	c1, err := r.ClientFor(context.Background(), active.ID)
	require.NoError(t, err)
	c2, err := r.ClientFor(context.Background(), active.ID)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, cities.calls)

	_, err = r.ClientFor(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.ClientFor(context.Background(), inactive.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	r.Invalidate(active.ID)
	_, err = r.ClientFor(context.Background(), active.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, cities.calls)
}
